// Package ratelimit enforces the effective per-host delay: the greater of
// the configured global minimum delay and any Crawl-delay declared in
// robots.txt, per spec §4.3.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter manages one token-bucket limiter per host.
type Limiter struct {
	minDelay time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	delays   map[string]time.Duration
}

// New creates a Limiter enforcing at least minDelay between requests to the
// same host, absent a larger robots-declared Crawl-delay.
func New(minDelay time.Duration) *Limiter {
	return &Limiter{
		minDelay: minDelay,
		limiters: make(map[string]*rate.Limiter),
		delays:   make(map[string]time.Duration),
	}
}

// Wait blocks until the next request to rawURL's host is permitted,
// applying robotsDelay (nil when robots.txt declares none) against the
// configured floor.
func (l *Limiter) Wait(ctx context.Context, rawURL string, robotsDelay *time.Duration) error {
	host, err := hostOf(rawURL)
	if err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	effective := l.minDelay
	if robotsDelay != nil && *robotsDelay > effective {
		effective = *robotsDelay
	}

	limiter := l.limiterFor(host, effective)
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// limiterFor returns the bucket for host, recreating it when the effective
// delay has changed (e.g. a robots.txt Crawl-delay was just discovered).
func (l *Limiter) limiterFor(host string, effective time.Duration) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.delays[host]; ok && prev == effective {
		return l.limiters[host]
	}

	limiter := rate.NewLimiter(limitFor(effective), 1)
	l.limiters[host] = limiter
	l.delays[host] = effective
	return limiter
}

// limitFor converts a minimum inter-request delay to a token rate.
func limitFor(delay time.Duration) rate.Limit {
	if delay <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(time.Second) / float64(delay))
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	return strings.ToLower(u.Host), nil
}
