package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/socially/speech-gateway/internal/analysis"
	"github.com/socially/speech-gateway/internal/failure"
	"github.com/socially/speech-gateway/internal/observability"
)

// inbound is one client message handed from the reader to the processor
type inbound struct {
	data []byte
	err  error // set for messages rejected by the reader, e.g. text frames
}

// Session owns one client connection. A reader goroutine feeds a bounded
// queue in arrival order; the processing goroutine is the only one that
// touches segmentation state or writes to the connection.
type Session struct {
	conn         *websocket.Conn
	pipeline     *Pipeline
	queue        chan inbound
	writeTimeout time.Duration
	metrics      *observability.SessionMetrics
	logger       zerolog.Logger

	// readErr is written by the reader before it closes queue
	readErr error
}

// SessionConfig holds per-connection transport settings
type SessionConfig struct {
	QueueSize    int
	WriteTimeout time.Duration
}

func newSession(conn *websocket.Conn, pipeline *Pipeline, cfg SessionConfig, metrics *observability.SessionMetrics, logger zerolog.Logger) *Session {
	size := cfg.QueueSize
	if size < 1 {
		size = 1
	}
	return &Session{
		conn:         conn,
		pipeline:     pipeline,
		queue:        make(chan inbound, size),
		writeTimeout: cfg.WriteTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run processes the connection until the client disconnects, the transport
// fails or ctx is cancelled. A clean close returns nil.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.readLoop(ctx, cancel)

	err := s.processLoop(ctx)

	// Unblock the reader if the processor stopped first
	cancel()
	_ = s.conn.Close()
	for range s.queue {
	}

	dropped := s.pipeline.Close()
	if dropped > 0 {
		s.logger.Debug().Int("samples", dropped).Msg("Discarded unfinished segment")
	}

	if (err == nil || errors.Is(err, context.Canceled)) && s.readErr != nil {
		err = s.readErr
	}
	if failure.Is(err, failure.TransportClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// readLoop reads messages in order and queues them, blocking when the queue
// is full. It cancels the session when the connection ends.
func (s *Session) readLoop(ctx context.Context, cancel context.CancelFunc) {
	defer close(s.queue)
	defer cancel()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			// A read failing after cancellation is our own Close
			if ctx.Err() == nil {
				s.readErr = classifyReadError(err)
			}
			return
		}

		item := inbound{data: data}
		switch msgType {
		case websocket.BinaryMessage:
			s.metrics.RecordAudioBytes("in", int64(len(data)))
		default:
			item = inbound{err: failure.Newf(failure.MalformedAudio, "read",
				"expected binary PCM audio, got text message of %d bytes", len(data))}
		}

		select {
		case s.queue <- item:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) processLoop(ctx context.Context) error {
	emit := func(result analysis.Result) error {
		return s.write(newResultMessage(result))
	}

	for {
		var item inbound
		select {
		case <-ctx.Done():
			return ctx.Err()
		case next, ok := <-s.queue:
			if !ok {
				return ctx.Err()
			}
			item = next
		}

		err := item.err
		if err == nil {
			err = s.pipeline.Process(ctx, item.data, emit)
		}
		if err == nil {
			continue
		}

		switch failure.KindOf(err) {
		case failure.MalformedAudio:
			s.metrics.RecordError(string(failure.MalformedAudio), "stream")
			s.logger.Debug().Err(err).Msg("Rejected malformed chunk")
			if werr := s.write(newErrorMessage(err)); werr != nil {
				return werr
			}
		default:
			return err
		}
	}
}

// write sends one JSON text message under the write deadline
func (s *Session) write(v interface{}) error {
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return failure.New(failure.TransportFault, "write", err)
		}
	}
	if err := s.conn.WriteJSON(v); err != nil {
		s.metrics.RecordError(string(failure.TransportFault), "stream")
		return failure.New(failure.TransportFault, "write", err)
	}
	return nil
}

// classifyReadError separates a client hanging up from a broken transport
func classifyReadError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return failure.New(failure.TransportClosed, "read", err)
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return failure.New(failure.TransportFault, "read", fmt.Errorf("client closed with code %d: %w", closeErr.Code, err))
	}
	return failure.New(failure.TransportFault, "read", err)
}
