package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/text/language"

	"github.com/starford/apkgview/internal/archive"
	"github.com/starford/apkgview/internal/storage"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Library LibraryConfig     `yaml:"library"`
	Fetch   FetchConfig       `yaml:"fetch"`
	Render  RenderConfig      `yaml:"render"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Library.Validate(); err != nil {
		return err
	}
	if err := c.Fetch.Validate(); err != nil {
		return err
	}
	if err := c.Render.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// LibraryConfig describes where archives come from.
//
// Path is a directory of archives kept in sync with the viewer while Watch
// is on. Sources are extra archive paths or http(s) URLs loaded once at
// startup.
type LibraryConfig struct {
	Path       string   `yaml:"path"`
	Sources    []string `yaml:"sources"`
	Watch      bool     `yaml:"watch"`
	Extensions []string `yaml:"extensions"`
}

// Validate validates the library configuration.
func (c *LibraryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Sources, validation.Each(validation.Required)),
		validation.Field(&c.Extensions, validation.Required, validation.Each(validation.By(isExtension))),
	)
}

func isExtension(value interface{}) error {
	s, _ := value.(string)
	if !strings.HasPrefix(s, ".") || len(s) < 2 {
		return errors.New("must start with a dot, e.g. .apkg")
	}
	return nil
}

// FetchConfig tunes downloads of remote archives. MaxBytes caps every
// downloaded or data URI archive.
type FetchConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	MaxBytes int64         `yaml:"max_bytes"`
}

// Validate validates the fetch configuration.
func (c *FetchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.MaxBytes, validation.Required, validation.Min(int64(1))),
	)
}

// Guarded returns the fetcher for URLs sent by clients.
func (c *FetchConfig) Guarded() *archive.Fetcher {
	return archive.NewFetcher(c.Timeout, c.MaxBytes)
}

// Trusted returns the fetcher for sources named in the configuration, which
// may live on loopback or private hosts.
func (c *FetchConfig) Trusted() *archive.Fetcher {
	return &archive.Fetcher{Client: &http.Client{Timeout: c.Timeout}, MaxBytes: c.MaxBytes}
}

// RenderConfig holds deck ordering and card rendering settings.
type RenderConfig struct {
	Language         string `yaml:"language"`
	MediaConcurrency int    `yaml:"media_concurrency"`
	StrictHierarchy  bool   `yaml:"strict_hierarchy"`
	BlobPrefix       string `yaml:"blob_prefix"`
}

// Validate validates the render configuration.
func (c *RenderConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Language, validation.Required, validation.By(isLanguageTag)),
		validation.Field(&c.MediaConcurrency, validation.Required, validation.Min(1), validation.Max(64)),
		validation.Field(&c.BlobPrefix, validation.Required, validation.By(isPathPrefix)),
	)
}

// Tag returns the parsed collation language. Call after Validate.
func (c *RenderConfig) Tag() language.Tag {
	tag, err := language.Parse(c.Language)
	if err != nil {
		return language.English
	}
	return tag
}

func isLanguageTag(value interface{}) error {
	s, _ := value.(string)
	if _, err := language.Parse(s); err != nil {
		return fmt.Errorf("must be a BCP 47 language tag: %w", err)
	}
	return nil
}

func isPathPrefix(value interface{}) error {
	s, _ := value.(string)
	if !strings.HasPrefix(s, "/") || !strings.HasSuffix(s, "/") || s == "/" {
		return errors.New("must start and end with a slash, e.g. /blobs/")
	}
	return nil
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled".
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Library: LibraryConfig{
			Path:       "./decks",
			Watch:      true,
			Extensions: append([]string(nil), storage.DefaultExtensions...),
		},
		Fetch: FetchConfig{
			Timeout:  30 * time.Second,
			MaxBytes: archive.DefaultMaxBytes,
		},
		Render: RenderConfig{
			Language:         "en",
			MediaConcurrency: 8,
			BlobPrefix:       "/blobs/",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
