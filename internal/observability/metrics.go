package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scribe_gateway_active_sessions",
		Help: "Number of live streaming transcription sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribe_gateway_sessions_total",
		Help: "Total number of streaming sessions opened",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scribe_gateway_session_duration_seconds",
		Help:    "Duration of streaming sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 1800, 3600},
	})

	// Transcription metrics
	transcriptionCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_gateway_transcription_cycles_total",
		Help: "Periodic transcription cycles by outcome",
	}, []string{"status"}) // success, empty, error, skipped

	transcriptionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scribe_gateway_transcription_latency_seconds",
		Help:    "Transcription capability latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
	}, []string{"mode"}) // stream, upload

	// One-shot request metrics
	uploadRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_gateway_upload_requests_total",
		Help: "One-shot transcription requests by status",
	}, []string{"status"})

	summaryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_gateway_summary_requests_total",
		Help: "Summarization requests by status",
	}, []string{"status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scribe_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribe_gateway_audio_bytes_total",
		Help: "Total streamed audio bytes appended to session buffers",
	})

	// HTTP metrics
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_gateway_http_requests_total",
		Help: "HTTP requests by method, route and status code",
	}, []string{"method", "route", "code"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scribe_gateway_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// SessionMetrics tracks metrics for a single streaming session
type SessionMetrics struct {
	sessionID string
	startTime time.Time
	ended     bool
	mu        sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session. Repeated calls are ignored.
func (m *SessionMetrics) RecordSessionEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended {
		return
	}
	m.ended = true

	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordAudioBytes records streamed audio bytes
func (m *SessionMetrics) RecordAudioBytes(bytes int) {
	audioBytesReceived.Add(float64(bytes))
}

// RecordCycle records the outcome of one transcription cycle
func (m *SessionMetrics) RecordCycle(status string, latency time.Duration) {
	transcriptionCycles.WithLabelValues(status).Inc()
	if latency > 0 {
		transcriptionLatency.WithLabelValues("stream").Observe(latency.Seconds())
	}
}

// RecordError records an error
func (m *SessionMetrics) RecordError(errorType, component string) {
	RecordError(errorType, component)
}

// RecordUpload records a one-shot transcription request
func RecordUpload(success bool, latency time.Duration) {
	uploadRequests.WithLabelValues(statusLabel(success)).Inc()
	if latency > 0 {
		transcriptionLatency.WithLabelValues("upload").Observe(latency.Seconds())
	}
}

// RecordSummary records a summarization request
func RecordSummary(success bool) {
	summaryRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordError records an error outside of a session
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordHTTPRequest records one served HTTP request
func RecordHTTPRequest(method, route, code string, duration time.Duration) {
	httpRequests.WithLabelValues(method, route, code).Inc()
	httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
