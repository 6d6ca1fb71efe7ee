package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAllowedDisabledRespect(t *testing.T) {
	c := New(false, "test-agent", time.Second, nil)
	if !c.Allowed(context.Background(), "http://example.com/anything") {
		t.Error("expected every URL to be allowed when respect is disabled")
	}
	if d := c.CrawlDelay(context.Background(), "http://example.com/anything"); d != nil {
		t.Errorf("expected nil crawl delay when respect is disabled, got %v", d)
	}
}

func TestAllowedDisallowedPath(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\nCrawl-delay: 2\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := New(true, "test-agent", time.Second, nil)

	if c.Allowed(context.Background(), ts.URL+"/private/secret.pdf") {
		t.Error("expected /private/ to be disallowed")
	}
	if !c.Allowed(context.Background(), ts.URL+"/public/page.html") {
		t.Error("expected /public/ to be allowed")
	}

	delay := c.CrawlDelay(context.Background(), ts.URL+"/public/page.html")
	if delay == nil || *delay != 2*time.Second {
		t.Errorf("expected a 2s crawl delay, got %v", delay)
	}
}

func TestAllowedPermissiveOnFetchFailure(t *testing.T) {
	c := New(true, "test-agent", time.Second, nil)
	if !c.Allowed(context.Background(), "http://127.0.0.1:1/page.html") {
		t.Error("expected a fetch failure to resolve permissive")
	}
}

func TestAllowedPermissiveOn404(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	c := New(true, "test-agent", time.Second, nil)
	if !c.Allowed(context.Background(), ts.URL+"/private/file.pdf") {
		t.Error("expected a missing robots.txt to resolve permissive")
	}
}

func TestAllowedCachesPerHost(t *testing.T) {
	var hits int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			hits++
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
		}
	}))
	defer ts.Close()

	c := New(true, "test-agent", time.Second, nil)
	for i := 0; i < 5; i++ {
		c.Allowed(context.Background(), ts.URL+"/public/page.html")
	}
	if hits != 1 {
		t.Errorf("expected robots.txt to be fetched once per host, fetched %d times", hits)
	}
}
