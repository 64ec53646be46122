package stream

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/socially/speech-gateway/internal/audio"
	"github.com/socially/speech-gateway/internal/config"
	"github.com/socially/speech-gateway/internal/failure"
	"github.com/socially/speech-gateway/internal/observability"
)

// Handler upgrades clients to WebSocket and runs one Session per connection.
// The classifier and analyzer are shared by every session.
type Handler struct {
	config     *config.Config
	pipeline   PipelineConfig
	classifier audio.Classifier
	analyzer   Analyzer
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
}

// NewHandler creates the streaming endpoint handler
func NewHandler(cfg *config.Config, classifier audio.Classifier, analyzer Analyzer) *Handler {
	h := &Handler{
		config:     cfg,
		pipeline:   PipelineConfigFrom(cfg),
		classifier: classifier,
		analyzer:   analyzer,
		logger:     observability.WithComponent("stream"),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	return h
}

// checkOrigin allows any origin when none are configured. Requests without an
// Origin header come from non-browser clients and are always allowed.
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	h.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket origin")
	return false
}

// ServeHTTP handles one streaming connection for its whole lifetime
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()

	if h.config.WSReadLimit > 0 {
		conn.SetReadLimit(h.config.WSReadLimit)
	}

	sessionID := observability.NewCorrelationID()
	logger := observability.WithSession(sessionID, r.RemoteAddr)

	metrics := observability.NewSessionMetrics(sessionID)
	metrics.RecordSessionStart()
	defer metrics.RecordSessionEnd()

	pipeline := NewPipeline(h.pipeline, h.classifier, h.analyzer, metrics, logger)
	session := newSession(conn, pipeline, SessionConfig{
		QueueSize:    h.config.InboundQueue,
		WriteTimeout: time.Duration(h.config.WSWriteTimeout) * time.Second,
	}, metrics, logger)

	logger.Info().Bool("reframe", h.pipeline.Reframe).Msg("Session started")
	start := time.Now()

	if err := session.Run(r.Context()); err != nil {
		kind := failure.KindOf(err)
		metrics.RecordError(string(kind), "stream")
		logger.Error().Err(err).Str("kind", string(kind)).Dur("duration", time.Since(start)).Msg("Session terminated by transport fault")
		return
	}

	logger.Info().
		Int("segments", pipeline.Snapshot().Emitted).
		Dur("duration", time.Since(start)).
		Msg("Session closed")
}
