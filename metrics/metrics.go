// Package metrics exposes Prometheus instrumentation for the HTTP
// surface and the store adapters.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rankboard_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rankboard_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Custom buckets for better visualization of slow store calls
	storeOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rankboard_store_op_duration_seconds",
			Help:    "Remote store operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"op"},
	)

	changesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rankboard_changes_published_total",
			Help: "Change notifications published, by table and type",
		},
		[]string{"table", "type"},
	)
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizeEndpoint collapses id path segments so cardinality stays
// bounded.
func normalizeEndpoint(path string) string {
	for _, prefix := range []string{"/admin/leaderboards/", "/admin/entries/"} {
		if idx := strings.Index(path, prefix); idx >= 0 {
			return path[:idx] + prefix + "{id}"
		}
	}
	return path
}

// Middleware records request counts and latencies per endpoint.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		endpoint := normalizeEndpoint(r.URL.Path)

		httpRequestsTotal.WithLabelValues(
			r.Method,
			endpoint,
			strconv.Itoa(rw.statusCode),
		).Inc()

		httpRequestDuration.WithLabelValues(
			r.Method,
			endpoint,
		).Observe(duration)
	})
}

// RecordStoreOp records a remote store operation duration.
func RecordStoreOp(op string, duration time.Duration) {
	storeOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordChange counts a published change notification.
func RecordChange(table, typ string) {
	changesPublished.WithLabelValues(table, typ).Inc()
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
