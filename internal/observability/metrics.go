package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	applyDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
)

// Metrics holds all Prometheus metric instruments for the orchestration core.
// A nil *Metrics is valid; every recording helper is a no-op on it, so tests
// can construct orchestrators without a registry.
type Metrics struct {
	// HTTP metrics (ops router)
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Workflow metrics
	WorkflowStartsTotal      *prometheus.CounterVec
	WorkflowCompletionsTotal *prometheus.CounterVec
	ActiveWorkflows          *prometheus.GaugeVec

	// Event metrics
	EventsAppliedTotal *prometheus.CounterVec
	EventApplyDuration *prometheus.HistogramVec
	TransitionsTotal   *prometheus.CounterVec

	// Fan-out metrics
	FanOutUnitsTotal *prometheus.CounterVec

	// Outbound metrics
	CommandsDispatchedTotal *prometheus.CounterVec
	NotifyFailuresTotal     *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docforge_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docforge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		// Workflows
		WorkflowStartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docforge_workflow_starts_total",
			Help: "Total number of workflow starts.",
		}, []string{"kind"}),
		WorkflowCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docforge_workflow_completions_total",
			Help: "Total number of workflows reaching a terminal status.",
		}, []string{"kind", "final_status"}),
		ActiveWorkflows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docforge_active_workflows",
			Help: "Number of workflows in a non-terminal status.",
		}, []string{"kind"}),

		// Events
		EventsAppliedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docforge_events_applied_total",
			Help: "Total number of inbound events applied, including absorbed duplicates.",
		}, []string{"kind", "event", "result"}),
		EventApplyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docforge_event_apply_duration_seconds",
			Help:    "Event application duration in seconds, including the persist.",
			Buckets: applyDurationBuckets,
		}, []string{"kind", "event"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docforge_transitions_total",
			Help: "Total number of workflow status transitions.",
		}, []string{"kind", "from", "to"}),

		// Fan-out
		FanOutUnitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docforge_fanout_units_total",
			Help: "Total number of fan-out sub-task outcomes counted.",
		}, []string{"kind", "outcome"}),

		// Outbound
		CommandsDispatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docforge_commands_dispatched_total",
			Help: "Total number of commands handed to the dispatcher.",
		}, []string{"type"}),
		NotifyFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docforge_notify_failures_total",
			Help: "Total number of best-effort notification deliveries that failed.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		// Workflows
		m.WorkflowStartsTotal,
		m.WorkflowCompletionsTotal,
		m.ActiveWorkflows,
		// Events
		m.EventsAppliedTotal,
		m.EventApplyDuration,
		m.TransitionsTotal,
		// Fan-out
		m.FanOutUnitsTotal,
		// Outbound
		m.CommandsDispatchedTotal,
		m.NotifyFailuresTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordWorkflowStart records a workflow start.
func (m *Metrics) RecordWorkflowStart(kind string) {
	if m == nil {
		return
	}
	m.WorkflowStartsTotal.WithLabelValues(kind).Inc()
	m.ActiveWorkflows.WithLabelValues(kind).Inc()
}

// RecordWorkflowCompletion records a workflow reaching a terminal status.
func (m *Metrics) RecordWorkflowCompletion(kind, finalStatus string) {
	if m == nil {
		return
	}
	m.WorkflowCompletionsTotal.WithLabelValues(kind, finalStatus).Inc()
	m.ActiveWorkflows.WithLabelValues(kind).Dec()
}

// RecordEventApplied records an applied inbound event. Result is one of
// "applied", "duplicate", "ignored", "error".
func (m *Metrics) RecordEventApplied(kind, event, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.EventsAppliedTotal.WithLabelValues(kind, event, result).Inc()
	m.EventApplyDuration.WithLabelValues(kind, event).Observe(duration.Seconds())
}

// RecordTransition records a status transition.
func (m *Metrics) RecordTransition(kind, from, to string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(kind, from, to).Inc()
}

// RecordFanOutUnit records one counted sub-task outcome.
func (m *Metrics) RecordFanOutUnit(kind, outcome string) {
	if m == nil {
		return
	}
	m.FanOutUnitsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordCommandDispatched records a command handed to the dispatcher.
func (m *Metrics) RecordCommandDispatched(cmdType string) {
	if m == nil {
		return
	}
	m.CommandsDispatchedTotal.WithLabelValues(cmdType).Inc()
}

// RecordNotifyFailure records a failed best-effort notification delivery.
func (m *Metrics) RecordNotifyFailure(kind string) {
	if m == nil {
		return
	}
	m.NotifyFailuresTotal.WithLabelValues(kind).Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		statusStr := strconv.Itoa(sw.status)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, pathPattern, statusStr).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, pathPattern).Observe(duration.Seconds())
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}
