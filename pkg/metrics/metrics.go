// Package metrics exposes engine counters and latencies through a private
// Prometheus registry, so tests can hold their own instance without
// colliding on the default registerer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Tool call metrics
	toolCallsTotal   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec

	// Pathfinding metrics
	searchesTotal  *prometheus.CounterVec
	searchDuration prometheus.Histogram

	// Rule engine metrics
	ruleRunsTotal   prometheus.Counter
	violationsFound *prometheus.CounterVec

	// Ledger metrics
	eventsRecorded *prometheus.CounterVec

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a metrics instance with every engine metric registered on a
// fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		toolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corese_tool_calls_total",
				Help: "Total number of tool calls by tool and status",
			},
			[]string{"tool", "status"},
		),

		toolCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "corese_tool_call_duration_seconds",
				Help:    "Tool call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),

		searchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corese_path_searches_total",
				Help: "Total number of shortest-path searches by outcome",
			},
			[]string{"outcome"},
		),

		searchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "corese_path_search_duration_seconds",
				Help:    "Shortest-path search latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		ruleRunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "corese_rule_runs_total",
				Help: "Total number of consistency-check batches",
			},
		),

		violationsFound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corese_rule_violations_total",
				Help: "Total violations reported by rule and severity",
			},
			[]string{"rule", "severity"},
		),

		eventsRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corese_ledger_events_total",
				Help: "Total ledger events recorded by event type",
			},
			[]string{"event_type"},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corese_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "corese_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.toolCallsTotal,
		m.toolCallDuration,
		m.searchesTotal,
		m.searchDuration,
		m.ruleRunsTotal,
		m.violationsFound,
		m.eventsRecorded,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	return m
}

// RecordToolCall records one dispatched tool call.
func (m *Metrics) RecordToolCall(tool, status string, duration time.Duration) {
	m.toolCallsTotal.WithLabelValues(tool, status).Inc()
	m.toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordSearch records one shortest-path search.
func (m *Metrics) RecordSearch(outcome string, duration time.Duration) {
	m.searchesTotal.WithLabelValues(outcome).Inc()
	m.searchDuration.Observe(duration.Seconds())
}

// RecordRuleRun records one consistency batch and its violations.
func (m *Metrics) RecordRuleRun(violationsByRule map[string]map[string]int) {
	m.ruleRunsTotal.Inc()
	for rule, bySeverity := range violationsByRule {
		for severity, count := range bySeverity {
			m.violationsFound.WithLabelValues(rule, severity).Add(float64(count))
		}
	}
}

// RecordEvent records one ledger append.
func (m *Metrics) RecordEvent(eventType string) {
	m.eventsRecorded.WithLabelValues(eventType).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Handler returns the Prometheus scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request count and latency for every handled request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		m.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
