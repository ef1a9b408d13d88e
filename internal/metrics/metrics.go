// Package metrics exposes Prometheus collectors for the curator discovery service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	discoveryPagesTotal           *prometheus.CounterVec
	discoveryRateLimitWaitSeconds prometheus.Histogram
	discoverySeedsTotal           *prometheus.CounterVec
	discoveryUpsertsTotal         *prometheus.CounterVec
	discoveryRunsTotal            *prometheus.CounterVec
	discoveryRunDurationSeconds   prometheus.Histogram
	discoveryRunInProgress        prometheus.Gauge
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		discoveryPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_pages_total",
				Help: "Total follower-page requests, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		discoveryRateLimitWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "discovery_rate_limit_wait_seconds",
				Help:    "Histogram of backoff waits applied after a rate-limited page.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 180, 240, 300},
			},
		)

		discoverySeedsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_seeds_total",
				Help: "Total seeds crawled, labeled by result.",
			},
			[]string{"result"},
		)

		discoveryUpsertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_upserts_total",
				Help: "Total curator upserts, labeled by result.",
			},
			[]string{"result"},
		)

		discoveryRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_runs_total",
				Help: "Total automation runs, labeled by status.",
			},
			[]string{"status"},
		)

		discoveryRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "discovery_run_duration_seconds",
				Help:    "Histogram of automation run durations.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		)

		discoveryRunInProgress = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "discovery_run_in_progress",
				Help: "1 while an automation run is executing in this process.",
			},
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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePage counts one follower-page request by outcome.
func ObservePage(outcome string) {
	Init()
	discoveryPagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitWait records a backoff wait.
func ObserveRateLimitWait(wait time.Duration) {
	Init()
	discoveryRateLimitWaitSeconds.Observe(wait.Seconds())
}

// ObserveSeed counts a finished seed crawl ("processed", "failed", "canceled").
func ObserveSeed(result string) {
	Init()
	discoverySeedsTotal.WithLabelValues(result).Inc()
}

// ObserveUpsert counts a curator upsert ("ok" or "error").
func ObserveUpsert(result string) {
	Init()
	discoveryUpsertsTotal.WithLabelValues(result).Inc()
}

// ObserveRun records a finished automation run.
func ObserveRun(status string, duration time.Duration) {
	Init()
	discoveryRunsTotal.WithLabelValues(status).Inc()
	discoveryRunDurationSeconds.Observe(duration.Seconds())
}

// SetRunInProgress flips the in-progress gauge.
func SetRunInProgress(running bool) {
	Init()
	if running {
		discoveryRunInProgress.Set(1)
		return
	}
	discoveryRunInProgress.Set(0)
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
