// Package robots implements the per-host robots.txt cache: single-flight
// fetch, allow/deny decisions honoring the configured User-Agent group, and
// Crawl-delay lookup, per spec §4.2.
package robots

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// hostEntry is the cached robots.txt state for one host. A fetch failure,
// a 5xx, or a 4xx all resolve to permissive (fully-allowed) per spec §4.2.
type hostEntry struct {
	once       sync.Once
	data       *robotstxt.RobotsData
	permissive bool
}

// Cache is the process-wide, thread-safe robots.txt cache.
type Cache struct {
	client    *http.Client
	userAgent string
	respect   bool
	logger    *zap.Logger

	mu      sync.Mutex
	entries map[string]*hostEntry
}

// New builds a Cache. When respect is false, Allowed is always true,
// CrawlDelay is always nil, and no denials are ever recorded.
func New(respect bool, userAgent string, timeout time.Duration, logger *zap.Logger) *Cache {
	return &Cache{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		respect:   respect,
		logger:    logger,
		entries:   make(map[string]*hostEntry),
	}
}

// Allowed reports whether rawURL may be fetched under the host's robots.txt
// rules.
func (c *Cache) Allowed(ctx context.Context, rawURL string) bool {
	if !c.respect {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	entry := c.load(ctx, parsed)
	if entry.permissive || entry.data == nil {
		return true
	}

	group := entry.data.FindGroup(c.userAgent)
	if group == nil {
		return true
	}
	return group.Test(parsed.Path)
}

// CrawlDelay returns the robots-declared Crawl-delay for the matched UA
// group, or nil when none is declared (or enforcement is disabled).
func (c *Cache) CrawlDelay(ctx context.Context, rawURL string) *time.Duration {
	if !c.respect {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	entry := c.load(ctx, parsed)
	if entry.permissive || entry.data == nil {
		return nil
	}
	group := entry.data.FindGroup(c.userAgent)
	if group == nil || group.CrawlDelay <= 0 {
		return nil
	}
	d := group.CrawlDelay
	return &d
}

func (c *Cache) load(ctx context.Context, parsed *url.URL) *hostEntry {
	hostKey := strings.ToLower(parsed.Host)

	c.mu.Lock()
	entry, ok := c.entries[hostKey]
	if !ok {
		entry = &hostEntry{}
		c.entries[hostKey] = entry
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		entry.data, entry.permissive = c.fetch(ctx, parsed)
	})
	return entry
}

func (c *Cache) fetch(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, bool) {
	robotsURL := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, true
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		if c.logger != nil {
			c.logger.Debug("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		}
		return nil, true
	}
	defer func() { _ = resp.Body.Close() }()

	// 4xx (including 404, meaning "no robots.txt") and 5xx are both
	// permissive per spec §4.2.
	if resp.StatusCode != http.StatusOK {
		return nil, true
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, true
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, true
	}
	return data, false
}

