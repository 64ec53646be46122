package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speech_gateway_active_sessions",
		Help: "Number of connected streaming sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_gateway_sessions_total",
		Help: "Total number of sessions accepted",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_gateway_session_duration_seconds",
		Help:    "Duration of streaming sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	// Segmentation metrics
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_gateway_frames_total",
		Help: "Classified frames by verdict",
	}, []string{"verdict"}) // verdict: "speech" or "silence"

	segmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_gateway_segments_total",
		Help: "Emitted segments by reason",
	}, []string{"reason"})

	segmentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_gateway_segment_duration_seconds",
		Help:    "Duration of emitted segments in seconds",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
	})

	// Engine metrics
	engineRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_gateway_engine_requests_total",
		Help: "Analysis engine calls by engine and status",
	}, []string{"engine", "status"})

	engineLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "speech_gateway_engine_latency_seconds",
		Help:    "Analysis engine latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"engine"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"kind", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "speech_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"engine"})

	circuitBreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_gateway_circuit_breaker_transitions_total",
		Help: "Circuit breaker transitions by target state",
	}, []string{"engine", "to"})

	// Audio metrics
	audioBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_gateway_audio_bytes_total",
		Help: "Total bytes moved over the transport",
	}, []string{"direction"}) // direction: "in" or "out"
)

// SessionMetrics tracks metrics for a single session. It is used only by the
// goroutines of that session.
type SessionMetrics struct {
	sessionID string
	startTime time.Time
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records a newly accepted session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *SessionMetrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordFrame records one classified frame
func (m *SessionMetrics) RecordFrame(isSpeech bool) {
	verdict := "silence"
	if isSpeech {
		verdict = "speech"
	}
	framesTotal.WithLabelValues(verdict).Inc()
}

// RecordSegment records an emitted segment
func (m *SessionMetrics) RecordSegment(reason string, duration time.Duration) {
	segmentsTotal.WithLabelValues(reason).Inc()
	segmentDuration.Observe(duration.Seconds())
}

// RecordError records an error
func (m *SessionMetrics) RecordError(kind, component string) {
	RecordError(kind, component)
}

// RecordAudioBytes records bytes received or sent
func (m *SessionMetrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytes.WithLabelValues(direction).Add(float64(bytes))
}

// RecordEngineRequest records one analysis engine call
func RecordEngineRequest(engine string, success bool, latency time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	engineRequests.WithLabelValues(engine, status).Inc()
	engineLatency.WithLabelValues(engine).Observe(latency.Seconds())
}

// RecordEngineSkipped records a segment too short to send to the engines
func RecordEngineSkipped(engine string) {
	engineRequests.WithLabelValues(engine, "skipped").Inc()
}

// RecordError records an error outside any session
func RecordError(kind, component string) {
	errorsTotal.WithLabelValues(kind, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(engine string, state int) {
	circuitBreakerState.WithLabelValues(engine).Set(float64(state))
}

// CircuitBreakerTransition records a breaker moving into state to
func CircuitBreakerTransition(engine string, to int, toName string) {
	UpdateCircuitBreakerState(engine, to)
	circuitBreakerTransitions.WithLabelValues(engine, toName).Inc()
}
