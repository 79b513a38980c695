package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"
)

const (
	DefaultUserAgent = "OpenWishlist/worker"
	DefaultMime      = "application/octet-stream"
	MaxRedirects     = 5
	chunkSize        = 8 << 10
)

var (
	ErrEmptyURL  = errors.New("empty URL")
	ErrOpen      = errors.New("failed to open stream")
	ErrTooLarge  = errors.New("response exceeds max bytes")
	ErrEmptyBody = errors.New("empty response")
)

// Result is a fully buffered download.
type Result struct {
	Body []byte
	// Mime is the lower-cased Content-Type without parameters.
	Mime string
}

// Fetcher downloads images over HTTP(S) with TLS verification, a redirect cap and a
// client-side byte ceiling.
type Fetcher struct {
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter
}

type Option func(*Fetcher)

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithRateLimit throttles outbound requests to perSecond. Zero or less disables it.
func WithRateLimit(perSecond float64) Option {
	return func(f *Fetcher) {
		if perSecond > 0 {
			f.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithHTTPClient replaces the transport client. The redirect policy is still applied.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		cp := *c
		f.client = &cp
	}
}

func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    &http.Client{},
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= MaxRedirects {
			return fmt.Errorf("stopped after %d redirects", MaxRedirects)
		}
		return nil
	}
	return f
}

// Download GETs url within timeout and returns the body if it is non-empty and no larger
// than maxBytes. The limit is enforced while reading, independent of Content-Length.
func (f *Fetcher) Download(ctx context.Context, url string, timeout time.Duration, maxBytes int64) (*Result, error) {
	if strings.TrimSpace(url) == "" {
		return nil, ErrEmptyURL
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOpen, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrOpen, resp.StatusCode)
	}

	body, err := readCapped(resp.Body, maxBytes)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}

	return &Result{Body: body, Mime: ContentType(resp.Header.Get("Content-Type"))}, nil
}

func readCapped(r io.Reader, maxBytes int64) ([]byte, error) {
	var buf []byte
	chunk := make([]byte, chunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if maxBytes > 0 && int64(len(buf)) > maxBytes {
				return nil, fmt.Errorf("%w (%s)", ErrTooLarge, humanize.IBytes(uint64(maxBytes)))
			}
		}
		if errors.Is(err, io.EOF) {
			return buf, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
	}
}

// ContentType normalizes a Content-Type header to a bare lower-case media type.
func ContentType(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return DefaultMime
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		mt, _, _ = strings.Cut(header, ";")
	}
	mt = strings.ToLower(strings.TrimSpace(mt))
	if mt == "" {
		return DefaultMime
	}
	return mt
}
