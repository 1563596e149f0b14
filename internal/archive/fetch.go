package archive

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/starford/apkgview/internal/apperr"
)

// DefaultMaxBytes caps a downloaded archive when no limit is configured.
const DefaultMaxBytes int64 = 200 << 20

const maxRedirects = 5

// Fetcher turns user-supplied URLs into sources. Client does the download
// and MaxBytes caps the body; zero means DefaultMaxBytes.
type Fetcher struct {
	Client   *http.Client
	MaxBytes int64
}

// NewFetcher returns a Fetcher for untrusted URLs. Its client refuses to
// connect to loopback, link-local and metadata addresses. The check runs on
// the resolved address of every connection, redirects included.
func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   guardDial,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext

	return &Fetcher{
		Client: &http.Client{
			Timeout:       timeout,
			Transport:     transport,
			CheckRedirect: checkRedirect,
		},
		MaxBytes: maxBytes,
	}
}

// Source validates rawURL and returns a source that downloads it.
func (f *Fetcher) Source(rawURL string) (URLSource, error) {
	u, err := CheckURL(rawURL)
	if err != nil {
		return URLSource{}, err
	}
	return URLSource{URL: u.String(), Client: f.Client, MaxBytes: f.MaxBytes}, nil
}

// CheckURL accepts absolute http(s) URLs whose host is not a blocked
// literal address or metadata name.
func CheckURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %v", apperr.ErrInvalidInput, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme: %s (only http/https)", apperr.ErrInvalidInput, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: invalid URL: missing host", apperr.ErrInvalidInput)
	}
	if err := checkHost(u.Hostname()); err != nil {
		return nil, err
	}
	return u, nil
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("%w: too many redirects (max %d)", apperr.ErrInvalidInput, maxRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("%w: redirect to unsupported scheme %s", apperr.ErrInvalidInput, req.URL.Scheme)
	}
	return checkHost(req.URL.Hostname())
}

// checkHost rejects metadata names and blocked literal IPs. Names are
// resolved at dial time and checked by guardDial.
func checkHost(host string) error {
	if host == "metadata.google.internal" {
		return fmt.Errorf("%w: blocked host: %s", apperr.ErrInvalidInput, host)
	}
	if ip := net.ParseIP(host); ip != nil {
		return checkIP(host, ip)
	}
	return nil
}

func guardDial(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("%w: blocked host: unresolved address %s", apperr.ErrInvalidInput, address)
	}
	return checkIP(host, ip)
}

var metadataIP = net.ParseIP("169.254.169.254")

func checkIP(host string, ip net.IP) error {
	switch {
	case ip.Equal(metadataIP):
		return fmt.Errorf("%w: blocked host: cloud metadata address %s", apperr.ErrInvalidInput, host)
	case ip.IsLoopback():
		return fmt.Errorf("%w: blocked host: loopback address %s", apperr.ErrInvalidInput, host)
	case ip.IsUnspecified(), ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("%w: blocked host: link-local address %s", apperr.ErrInvalidInput, host)
	}
	return nil
}
