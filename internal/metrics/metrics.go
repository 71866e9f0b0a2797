// Package metrics exposes Prometheus collectors for the conference crawler.
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
	crawlerItemsTotal             *prometheus.CounterVec
	ingestResultsTotal            *prometheus.CounterVec
	navigationRetriesTotal        *prometheus.CounterVec
	convergencePolls              *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_items_total",
				Help: "Items handled by the navigation controller, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		ingestResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_ingest_results_total",
				Help: "Ingestion results, labeled by status.",
			},
			[]string{"status"},
		)

		navigationRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_navigation_retries_total",
				Help: "Retried navigation steps, labeled by kind.",
			},
			[]string{"kind"},
		)

		convergencePolls = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_convergence_polls",
				Help:    "Scroll polls needed before a list converged, labeled by result.",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of navigation pacing waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
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

// ObserveItem counts one item outcome: completed, skipped or failed.
func ObserveItem(site, outcome string) {
	Init()
	crawlerItemsTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveIngest counts one ingestion result.
func ObserveIngest(status string) {
	Init()
	ingestResultsTotal.WithLabelValues(status).Inc()
}

// ObserveRetry counts one retried navigation step.
func ObserveRetry(kind string) {
	Init()
	navigationRetriesTotal.WithLabelValues(kind).Inc()
}

// ObserveConvergence records how many polls a list took to converge or give up.
func ObserveConvergence(polls int, converged bool) {
	Init()
	result := "converged"
	if !converged {
		result = "timeout"
	}
	convergencePolls.WithLabelValues(result).Observe(float64(polls))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
