package archive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/starford/apkgview/internal/apperr"
)

// Source yields the bytes of one archive. Name identifies the loaded file
// within a session.
type Source interface {
	Name() string
	Open(ctx context.Context) ([]byte, error)
}

// FileSource reads an archive from the local file system.
type FileSource struct {
	Path  string
	Label string // optional; defaults to the base name of Path
}

func (s FileSource) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return filepath.Base(s.Path)
}

func (s FileSource) Open(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", s.Path, err)
	}
	return data, nil
}

// BytesSource wraps an archive already held in memory, e.g. an upload.
type BytesSource struct {
	Label string
	Data  []byte
}

func (s BytesSource) Name() string { return s.Label }

func (s BytesSource) Open(_ context.Context) ([]byte, error) { return s.Data, nil }

// URLSource downloads an archive. Any status other than 200 is a FetchError.
// Bodies above MaxBytes fail with apperr.ErrTooLarge; zero means
// DefaultMaxBytes.
type URLSource struct {
	URL      string
	Client   *http.Client
	MaxBytes int64
}

// Name is the last path segment of the URL, percent-decoded.
func (s URLSource) Name() string {
	u, err := url.Parse(s.URL)
	if err != nil {
		return path.Base(s.URL)
	}
	name := path.Base(u.Path)
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	if name == "/" || name == "." {
		return u.Host
	}
	return name
}

func (s URLSource) Open(ctx context.Context) ([]byte, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("archive: build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("archive: fetch %s: %w", s.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &apperr.FetchError{URL: s.URL, StatusCode: resp.StatusCode, Status: resp.Status}
	}
	limit := s.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	if resp.ContentLength > limit {
		return nil, fmt.Errorf("%w: %s is %d bytes (max %d)", apperr.ErrTooLarge, s.URL, resp.ContentLength, limit)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("archive: read body %s: %w", s.URL, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", apperr.ErrTooLarge, s.URL, limit)
	}
	return data, nil
}
