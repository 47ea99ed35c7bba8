package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPEngine is the lightweight non-rendering transport: a single GET.
// Covers most static race-card pages and all JSON endpoints.
type HTTPEngine struct {
	client   *http.Client
	ua       string
	maxBytes int64
}

// HTTPOption configures an HTTPEngine.
type HTTPOption func(*HTTPEngine)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) HTTPOption {
	return func(e *HTTPEngine) { e.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(e *HTTPEngine) { e.ua = ua }
}

// WithMaxBytes caps the response body read.
func WithMaxBytes(n int64) HTTPOption {
	return func(e *HTTPEngine) { e.maxBytes = n }
}

// NewHTTPEngine creates an HTTPEngine with sensible defaults.
func NewHTTPEngine(timeout time.Duration, opts ...HTTPOption) *HTTPEngine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	e := &HTTPEngine{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return nil
			},
		},
		ua:       "Mozilla/5.0 (compatible; oddsgrid/1.0)",
		maxBytes: 10 << 20,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Name identifies this engine in health bookkeeping.
func (e *HTTPEngine) Name() string { return "http" }

// Fetch GETs a URL and returns the raw body. Non-2xx/3xx statuses are
// a *TransportError carrying the status code.
func (e *HTTPEngine) Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{Engine: e.Name(), URL: url, Cause: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("User-Agent", e.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &TransportError{Engine: e.Name(), URL: url, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, &TransportError{Engine: e.Name(), URL: url, StatusCode: resp.StatusCode, Cause: fmt.Errorf("http %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBytes))
	if err != nil {
		return nil, &TransportError{Engine: e.Name(), URL: url, Cause: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

// Close is a no-op: the HTTP engine holds no native sessions.
func (e *HTTPEngine) Close() error { return nil }
