// Package telemetry exposes Prometheus metrics for the generation pipeline.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// --- CUSTOM METRIC DEFINITIONS ---

var (
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrivener_jobs_total",
			Help: "Total number of generation jobs reaching a terminal state, labeled by status.",
		},
		[]string{"status"},
	)

	generationDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scrivener_generation_duration_seconds",
			Help:    "Histogram of per-job search plus generation latency.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	searchRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scrivener_search_retries_total",
			Help: "Total search calls retried with a rotated credential after a rate limit.",
		},
	)

	dispatcherBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scrivener_dispatcher_batch_size",
			Help:    "Histogram of jobs claimed per dispatcher tick.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 10},
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
)

// --- HTTP HANDLER & MIDDLEWARE ---

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}

		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// --- HELPER FUNCTIONS ---

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob records a job reaching a terminal state.
func ObserveJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveGeneration records one job's search+generation latency.
func ObserveGeneration(duration time.Duration) {
	generationDurationSeconds.Observe(duration.Seconds())
}

// ObserveSearchRetry records a credential-rotation retry.
func ObserveSearchRetry() {
	searchRetriesTotal.Inc()
}

// ObserveBatch records the number of jobs claimed in a dispatcher tick.
func ObserveBatch(claimed int) {
	dispatcherBatchSize.Observe(float64(claimed))
}
