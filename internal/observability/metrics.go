package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"job"},
	)
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
		[]string{"job"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs finished by terminal status",
		},
		[]string{"job", "status"},
	)
	JobsRetriedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_retried_total",
			Help: "Total number of retry attempts scheduled",
		},
		[]string{"job"},
	)

	GateVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketdata_gate_verdicts_total",
			Help: "Per-symbol quality gate verdicts",
		},
		[]string{"code"},
	)
	BreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketdata_breaker_state",
			Help: "Provider circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
	)
	SuggestionsGeneratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "suggestions_generated_total",
			Help: "Suggestions persisted per window and status",
		},
		[]string{"window", "status"},
	)
)

var initOnce sync.Once

// InitMetrics registers all collectors once per process.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			JobsEnqueuedTotal,
			JobsProcessing,
			JobsCompletedTotal,
			JobsRetriedTotal,
			GateVerdictsTotal,
			BreakerState,
			SuggestionsGeneratedTotal,
		)
	})
}

// HTTPMetricsMiddleware records request counts and latency per route.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
