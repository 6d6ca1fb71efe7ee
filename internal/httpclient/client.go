// Package httpclient provides the single process-wide HTTP client used by
// every collaborator that talks to the network: a fixed timeout, a
// configurable user-agent, a bounded redirect chain, and no cookie jar, per
// spec §4.1.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxRedirects bounds automatic redirect following.
const maxRedirects = 5

// Sentinel errors surfaced by Get/ConditionalGet, per spec §4.1's taxonomy.
var (
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrTimeout          = errors.New("request timed out")
)

// HTTPStatusError wraps an unexpected HTTP status code.
type HTTPStatusError struct {
	Code int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected http status %d", e.Code)
}

// Response is the result of a successful Get.
type Response struct {
	Status     int
	Headers    http.Header
	Body       []byte
	FinalURL   string
	ETag       string
	LastMod    string
	Downloaded bool // true when streamed directly to a file, Body is nil
}

// Client is the process-wide HTTP client.
type Client struct {
	http      *http.Client
	userAgent string
	logger    *zap.Logger
}

// New constructs a Client with the given timeout and user-agent.
func New(timeout time.Duration, userAgent string, logger *zap.Logger) *Client {
	c := &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return ErrTooManyRedirects
			}
			return nil
		},
	}
	return &Client{http: c, userAgent: userAgent, logger: logger}
}

// Get issues a GET request and reads the full body into memory. Status
// codes outside {200, 206, 304} are reported as errors.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, ErrTooManyRedirects) || strings.Contains(err.Error(), ErrTooManyRedirects.Error()) {
			return nil, ErrTooManyRedirects
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("network: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if c.logger != nil {
		c.logger.Debug("http get",
			zap.String("url", rawURL),
			zap.Int("status", resp.StatusCode),
			zap.Duration("duration", time.Since(start)),
		)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusNotModified {
		return nil, &HTTPStatusError{Code: resp.StatusCode}
	}

	return &Response{
		Status:   resp.StatusCode,
		Headers:  resp.Header,
		Body:     body,
		FinalURL: resp.Request.URL.String(),
		ETag:     resp.Header.Get("ETag"),
		LastMod:  resp.Header.Get("Last-Modified"),
	}, nil
}

// ConditionalResult is the outcome of a ConditionalGet.
type ConditionalResult int

// Outcomes of a conditional GET.
const (
	Unchanged ConditionalResult = iota
	Changed
	Missing
)

// ConditionalGet issues a GET using If-None-Match / If-Modified-Since built
// from validator, mapping a 304 response to Unchanged.
func (c *Client) ConditionalGet(ctx context.Context, rawURL string, etag, lastModified string) (ConditionalResult, *Response, error) {
	headers := map[string]string{}
	if etag != "" {
		headers["If-None-Match"] = etag
	}
	if lastModified != "" {
		headers["If-Modified-Since"] = lastModified
	}

	resp, err := c.Get(ctx, rawURL, headers)
	if err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
			return Missing, nil, nil
		}
		return Changed, nil, err
	}
	if resp.Status == http.StatusNotModified {
		return Unchanged, resp, nil
	}
	return Changed, resp, nil
}

// GetStream issues a GET and streams the body to w without buffering the
// whole payload in memory, for binary payload downloads.
func (c *Client) GetStream(ctx context.Context, rawURL string, w io.Writer) (*Response, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("network: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, 0, &HTTPStatusError{Code: resp.StatusCode}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return nil, n, fmt.Errorf("stream body: %w", err)
	}

	return &Response{
		Status:     resp.StatusCode,
		Headers:    resp.Header,
		FinalURL:   resp.Request.URL.String(),
		Downloaded: true,
	}, n, nil
}

// LooksBinary reports whether a response should be treated as a binary
// payload by Content-Type prefix, per spec §4.1.
func LooksBinary(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "application/") || strings.HasPrefix(ct, "image/")
}
