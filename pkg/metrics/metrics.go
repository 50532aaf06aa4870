// Package metrics provides Prometheus instrumentation for the extraction
// core, per SPEC_FULL.md §B's DOMAIN STACK entry for
// github.com/prometheus/client_golang.
//
// Grounded on yourflock-roost/server/internal/metrics/metrics.go's
// promauto-registered gauge/counter/histogram set and HTTP middleware
// shape, renamed from Roost's streaming-platform metrics to the
// extraction-core ones this service actually emits.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPRequests counts HTTP requests by method, path, and status code.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "shadowlands_http_requests_total",
	Help: "Total HTTP requests handled.",
}, []string{"method", "path", "status"})

// HTTPDuration tracks HTTP request latency.
var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "shadowlands_http_request_duration_seconds",
	Help:    "HTTP request latency in seconds.",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "path"})

// ExtractionAttempts counts extraction attempts by server and outcome
// ("success" or an ErrorKind string).
var ExtractionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "shadowlands_extraction_attempts_total",
	Help: "Extraction attempts by server and outcome.",
}, []string{"server", "outcome"})

// ExtractionDuration tracks wall-clock time for a full Extract call,
// including retries.
var ExtractionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "shadowlands_extraction_duration_seconds",
	Help:    "Time to complete a full extraction request, including retries.",
	Buckets: []float64{.5, 1, 2, 5, 10, 20, 45, 90, 180},
})

// CacheHitRatio-feeding counters: hits and misses per table.
var CacheOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "shadowlands_cache_outcomes_total",
	Help: "CacheLayer lookups by table and outcome (hit/miss).",
}, []string{"table", "outcome"})

// FingerprintPoolExhaustions counts how often Acquire timed out.
var FingerprintPoolExhaustions = promauto.NewCounter(prometheus.CounterOpts{
	Name: "shadowlands_fingerprint_pool_exhaustions_total",
	Help: "Number of times the stealth fingerprint pool had nothing free within the acquire window.",
})

// Handler returns the Prometheus scrape handler, mounted at GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency for every handled request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		dur := time.Since(start).Seconds()
		path := sanitizePath(r.URL.Path)
		status := strconv.Itoa(rw.status)
		HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
		HTTPDuration.WithLabelValues(r.Method, path).Observe(dur)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// sanitizePath caps path length so malformed/abusive paths don't blow up
// label cardinality.
func sanitizePath(path string) string {
	if len(path) > 64 {
		return path[:64] + "..."
	}
	return path
}
