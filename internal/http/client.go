package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ligustah/harvest/internal/ratelimit"
)

// Common errors.
var (
	ErrTimeout      = errors.New("http: request timed out")
	ErrConnection   = errors.New("http: connection failed")
	ErrTooLarge     = errors.New("http: response exceeds size limit")
	ErrNotFound     = errors.New("http: resource not found")
	ErrForbidden    = errors.New("http: access forbidden")
	ErrUnauthorized = errors.New("http: unauthorized")
	ErrServerError  = errors.New("http: server error")
)

// MaxRetryAttempts is the ceiling for Options.RetryAttempts.
const MaxRetryAttempts = 3

// StatusError is returned for non-2xx responses. It matches the sentinel
// errors above via errors.Is where one applies.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http: unexpected status %d %s for %s", e.Code, http.StatusText(e.Code), e.URL)
}

// Is maps status codes onto the package sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	case ErrForbidden:
		return e.Code == http.StatusForbidden
	case ErrUnauthorized:
		return e.Code == http.StatusUnauthorized
	case ErrServerError:
		return e.Code >= 500
	}
	return false
}

// Options configures the HTTP client.
type Options struct {
	// Timeout bounds each request, including reading the body.
	// Default: 10s
	Timeout time.Duration

	// MaxBodySize is the hard ceiling on a response body in bytes.
	// A declared Content-Length above it fails before the body is read.
	// Default: 50MB
	MaxBodySize int64

	// UserAgent is sent with every request.
	UserAgent string

	// RetryAttempts is the number of additional attempts after a connection
	// failure or 5xx response. Default: 0 (fail fast).
	RetryAttempts int

	// RetryBackoff is the initial backoff duration.
	// Default: 1s
	RetryBackoff time.Duration

	// RetryMaxBackoff is the maximum backoff duration.
	// Default: 10s
	RetryMaxBackoff time.Duration
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:         10 * time.Second,
		MaxBodySize:     50 * 1024 * 1024,
		UserAgent:       "Mozilla/5.0 (compatible; harvest/1.0)",
		RetryBackoff:    time.Second,
		RetryMaxBackoff: 10 * time.Second,
	}
}

// Response is a successful response whose body has not been read yet.
// Callers must close Body.
type Response struct {
	Body          io.ReadCloser
	URL           string
	ContentType   string
	ContentLength int64 // -1 when not declared
}

// Client issues rate-limited GET requests with a bounded timeout.
type Client struct {
	client  *http.Client
	opts    Options
	limiter *ratelimit.Limiter
}

// NewClient creates a new HTTP client. limiter may be nil.
func NewClient(opts Options, limiter *ratelimit.Limiter) *Client {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = def.MaxBodySize
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if opts.RetryAttempts > MaxRetryAttempts {
		opts.RetryAttempts = MaxRetryAttempts
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = def.RetryBackoff
	}
	if opts.RetryMaxBackoff <= 0 {
		opts.RetryMaxBackoff = def.RetryMaxBackoff
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
			// Redirect targets bypass the allowlist; never follow them.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		opts:    opts,
		limiter: limiter,
	}
}

// MaxBodySize returns the configured body ceiling.
func (c *Client) MaxBodySize() int64 {
	return c.opts.MaxBodySize
}

// Get performs a GET request. It waits on the rate limiter before every
// attempt and checks the declared Content-Length against MaxBodySize.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", c.opts.UserAgent)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = classifyTransportError(err)
			if errors.Is(lastErr, ErrConnection) {
				continue
			}
			return nil, lastErr
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = &StatusError{Code: resp.StatusCode, URL: rawURL}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			return nil, &StatusError{Code: resp.StatusCode, URL: rawURL}
		}

		if resp.ContentLength > c.opts.MaxBodySize {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrTooLarge, resp.ContentLength, c.opts.MaxBodySize)
		}

		return &Response{
			Body:          resp.Body,
			URL:           rawURL,
			ContentType:   strings.ToLower(resp.Header.Get("Content-Type")),
			ContentLength: resp.ContentLength,
		}, nil
	}

	if c.opts.RetryAttempts == 0 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("get request failed after %d attempts: %w", c.opts.RetryAttempts+1, lastErr)
}

// GetBytes performs Get and reads the whole body, enforcing MaxBodySize on
// bodies without a declared length.
func (c *Client) GetBytes(ctx context.Context, rawURL string) ([]byte, *Response, error) {
	resp, err := c.Get(ctx, rawURL)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodySize+1))
	if err != nil {
		return nil, nil, classifyTransportError(err)
	}
	if int64(len(data)) > c.opts.MaxBodySize {
		return nil, nil, fmt.Errorf("%w: body exceeds %d bytes", ErrTooLarge, c.opts.MaxBodySize)
	}
	return data, resp, nil
}

// backoff waits for an exponentially increasing duration with jitter.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	backoff := c.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > c.opts.RetryMaxBackoff {
		backoff = c.opts.RetryMaxBackoff
	}

	// Add jitter: 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
		return nil
	}
}

// ClassifyTransportError maps a transport or body read error onto
// ErrTimeout or ErrConnection. Context cancellation is returned unchanged.
func ClassifyTransportError(err error) error {
	return classifyTransportError(err)
}

func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}
