package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the server
type Metrics struct {
	// Analysis metrics
	chunksTotal    *prometheus.CounterVec
	bytesTotal     *prometheus.CounterVec
	decisionsTotal *prometheus.CounterVec
	riskScore      *prometheus.HistogramVec
	policyActions  *prometheus.CounterVec

	// Session metrics
	sessionsActive  prometheus.Gauge
	sessionsTotal   *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	sessionsExpired prometheus.Counter

	// Configuration reload metrics
	configReloads *prometheus.CounterVec

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics instance with its own registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		chunksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamguard_chunks_total",
				Help: "Total number of chunks processed by profile",
			},
			[]string{"profile"},
		),

		bytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamguard_bytes_total",
				Help: "Total number of bytes processed by profile",
			},
			[]string{"profile"},
		),

		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamguard_decisions_total",
				Help: "Total number of finalized analyses by profile and decision",
			},
			[]string{"profile", "decision"},
		),

		riskScore: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "streamguard_risk_score",
				Help:    "Risk score of finalized analyses",
				Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
			},
			[]string{"profile"},
		),

		policyActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamguard_policy_actions_total",
				Help: "Advisory policy decisions by action",
			},
			[]string{"action"},
		),

		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "streamguard_sessions_active",
				Help: "Number of currently open sessions",
			},
		),

		sessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamguard_sessions_total",
				Help: "Total number of sessions created",
			},
			[]string{"profile"},
		),

		sessionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "streamguard_session_duration_seconds",
				Help:    "Session lifetime in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
			},
		),

		sessionsExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "streamguard_sessions_expired_total",
				Help: "Total number of sessions removed after idling past the TTL",
			},
		),

		configReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamguard_config_reloads_total",
				Help: "Total number of configuration reload attempts by status",
			},
			[]string{"status"},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamguard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "streamguard_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.chunksTotal,
		m.bytesTotal,
		m.decisionsTotal,
		m.riskScore,
		m.policyActions,
		m.sessionsActive,
		m.sessionsTotal,
		m.sessionDuration,
		m.sessionsExpired,
		m.configReloads,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	return m
}

// RecordChunk records one processed chunk
func (m *Metrics) RecordChunk(profile string, size int) {
	m.chunksTotal.WithLabelValues(profile).Inc()
	m.bytesTotal.WithLabelValues(profile).Add(float64(size))
}

// RecordDecision records a finalized verdict
func (m *Metrics) RecordDecision(profile, decision string, score float64) {
	m.decisionsTotal.WithLabelValues(profile, decision).Inc()
	m.riskScore.WithLabelValues(profile).Observe(score)
}

// RecordPolicyAction records an advisory policy decision
func (m *Metrics) RecordPolicyAction(action string) {
	m.policyActions.WithLabelValues(action).Inc()
}

// RecordSessionCreated records a new session
func (m *Metrics) RecordSessionCreated(profile string) {
	m.sessionsTotal.WithLabelValues(profile).Inc()
	m.sessionsActive.Inc()
}

// RecordSessionClosed records a session removal
func (m *Metrics) RecordSessionClosed(duration time.Duration, expired bool) {
	m.sessionsActive.Dec()
	m.sessionDuration.Observe(duration.Seconds())
	if expired {
		m.sessionsExpired.Inc()
	}
}

// RecordConfigReload records a configuration reload attempt
func (m *Metrics) RecordConfigReload(status string) {
	m.configReloads.WithLabelValues(status).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request metrics. It must wrap the ServeMux directly so
// the matched route pattern is visible once the request has been served.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.RecordHTTPRequest(r.Method, endpointName(r), strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// endpointName returns the route pattern without the method, e.g.
// "/v1/sessions/{id}/chunks".
func endpointName(r *http.Request) string {
	if r.Pattern == "" {
		return "unknown"
	}
	if _, path, ok := cutMethod(r.Pattern); ok {
		return path
	}
	return r.Pattern
}

func cutMethod(pattern string) (string, string, bool) {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == ' ' {
			return pattern[:i], pattern[i+1:], true
		}
	}
	return "", pattern, false
}
