package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the HTTP surface and allocation batches.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	executions      *prometheus.CounterVec
	journals        prometheus.Counter
	skippedRules    prometheus.Counter
	executeDuration prometheus.Histogram
	transitions     *prometheus.CounterVec
}

// NewMetrics initialises the registry with HTTP and allocation collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "costing_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "costing_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	executions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "costing_allocation_executions_total",
		Help: "Allocation executions by outcome.",
	}, []string{"outcome"})
	journals := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "costing_allocation_journals_total",
		Help: "Allocation journal rows written by executions.",
	})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "costing_allocation_skipped_rules_total",
		Help: "Rules skipped during allocation executions.",
	})
	executeDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "costing_allocation_execution_duration_seconds",
		Help:    "Duration of allocation executions.",
		Buckets: prometheus.DefBuckets,
	})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "costing_allocation_batch_transitions_total",
		Help: "Batch post and rollback attempts by outcome.",
	}, []string{"action", "outcome"})
	registry.MustRegister(requests, duration, executions, journals, skipped, executeDuration, transitions)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		executions:      executions,
		journals:        journals,
		skippedRules:    skipped,
		executeDuration: executeDuration,
		transitions:     transitions,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request counts and latency per route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveExecution records one allocation execution.
func (m *Metrics) ObserveExecution(outcome string, journals, skipped int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(outcome).Inc()
	m.journals.Add(float64(journals))
	m.skippedRules.Add(float64(skipped))
	m.executeDuration.Observe(elapsed.Seconds())
}

// ObserveTransition records a post or rollback attempt.
func (m *Metrics) ObserveTransition(action, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action, outcome).Inc()
}

// Registerer exposes the registry for custom collectors such as job metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
