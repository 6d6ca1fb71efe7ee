// Package metrics exposes the Prometheus collectors for one crawl run:
// pages fetched, files downloaded, robots denials, and seed outcomes,
// plus the HTTP surface of the optional metrics/health server.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesFetchedTotal          *prometheus.CounterVec
	filesDownloadedTotal       *prometheus.CounterVec
	robotsDeniedTotal          prometheus.Counter
	seedsTotal                 *prometheus.CounterVec
	rateLimitWaitSeconds       *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minutesbot_pages_fetched_total",
				Help: "Total number of pages fetched, labeled by host and status.",
			},
			[]string{"host", "status"},
		)

		filesDownloadedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minutesbot_files_downloaded_total",
				Help: "Total number of payload files downloaded, labeled by host.",
			},
			[]string{"host"},
		)

		robotsDeniedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "minutesbot_robots_denied_total",
				Help: "Total number of URLs skipped due to a robots.txt denial.",
			},
		)

		seedsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minutesbot_seeds_total",
				Help: "Total number of seeds processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rateLimitWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "minutesbot_rate_limit_wait_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "minutesbot_active_workers",
				Help: "Number of orchestrator workers currently driving a seed.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests against the metrics server, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of metrics server request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost sanitizes a URL to extract a lowercase hostname. It returns
// "unknown" if the URL is invalid or has no host.
func SanitizeHost(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records one page fetch for host, labeled by outcome status
// ("ok", "error", "binary", and so on).
func ObservePage(host, status string) {
	pagesFetchedTotal.WithLabelValues(SanitizeHost(host), status).Inc()
}

// ObserveDownload records one payload file downloaded from host.
func ObserveDownload(host string) {
	filesDownloadedTotal.WithLabelValues(SanitizeHost(host)).Inc()
}

// ObserveRobotsDenial increments the robots-denial counter.
func ObserveRobotsDenial() {
	robotsDeniedTotal.Inc()
}

// ObserveSeedOutcome increments the seed counter for the given outcome
// ("completed", "skipped", "error").
func ObserveSeedOutcome(outcome string) {
	seedsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitWait records how long a fetch waited on the per-host
// rate limiter before proceeding.
func ObserveRateLimitWait(host string, d time.Duration) {
	rateLimitWaitSeconds.WithLabelValues(SanitizeHost(host)).Observe(d.Seconds())
}

// IncActiveWorkers increments the active-workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active-workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveHTTPRequest records one request against the metrics server itself.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
