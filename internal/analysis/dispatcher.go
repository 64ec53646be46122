package analysis

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/socially/speech-gateway/internal/audio"
	"github.com/socially/speech-gateway/internal/failure"
	"github.com/socially/speech-gateway/internal/observability"
)

const (
	engineTranscription = "transcription"
	engineEmotion       = "emotion"
)

var processStart = time.Now()

// MonotonicSeconds returns seconds elapsed since process start
func MonotonicSeconds() float64 {
	return time.Since(processStart).Seconds()
}

// DispatcherConfig holds the analysis policy
type DispatcherConfig struct {
	// MinAnalysis is the shortest segment sent to the engines
	MinAnalysis time.Duration
	// Timeout bounds each engine call; 0 means no bound beyond the caller's
	Timeout time.Duration
}

// DefaultDispatcherConfig returns a 500ms floor and 30s engine timeout
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MinAnalysis: 500 * time.Millisecond,
		Timeout:     30 * time.Second,
	}
}

// Dispatcher runs both analysis engines over a completed segment. One
// Dispatcher is shared by every session.
type Dispatcher struct {
	transcriber Transcriber
	classifier  EmotionClassifier
	config      DispatcherConfig
	clock       func() float64
	logger      zerolog.Logger

	// loaded holds the outcome of the latest Ready probe
	loaded atomic.Bool
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithClock replaces the completion timestamp source
func WithClock(clock func() float64) DispatcherOption {
	return func(d *Dispatcher) {
		d.clock = clock
	}
}

// WithLogger sets the dispatcher logger
func WithLogger(logger zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a dispatcher over the given engines
func NewDispatcher(transcriber Transcriber, classifier EmotionClassifier, config DispatcherConfig, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		transcriber: transcriber,
		classifier:  classifier,
		config:      config,
		clock:       MonotonicSeconds,
		logger:      observability.WithComponent("dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Analyze transcribes and classifies a segment. It never fails: segments
// shorter than the floor skip the engines, and an engine error is replaced by
// that engine's default (empty transcript, neutral emotion).
func (d *Dispatcher) Analyze(ctx context.Context, seg audio.Segment) Result {
	if seg.Duration() < d.config.MinAnalysis {
		observability.RecordEngineSkipped(engineTranscription)
		observability.RecordEngineSkipped(engineEmotion)
		d.logger.Debug().
			Int("segment", seg.Index).
			Dur("duration", seg.Duration()).
			Msg("Segment below analysis floor, skipping engines")
		return Result{Transcript: "", Emotion: EmotionNeutral, Timestamp: d.clock()}
	}

	var (
		transcript string
		emotion    = EmotionNeutral
		g          errgroup.Group
	)

	// Engine errors are absorbed here so one engine never cancels the other
	g.Go(func() error {
		text, err := d.transcribe(ctx, seg)
		if err != nil {
			d.engineFailed(engineTranscription, seg, err)
			return nil
		}
		transcript = text
		return nil
	})

	g.Go(func() error {
		label, err := d.classify(ctx, seg)
		if err != nil {
			d.engineFailed(engineEmotion, seg, err)
			return nil
		}
		emotion = label
		return nil
	})

	_ = g.Wait()

	return Result{Transcript: transcript, Emotion: emotion, Timestamp: d.clock()}
}

func (d *Dispatcher) transcribe(ctx context.Context, seg audio.Segment) (_ string, err error) {
	defer recoverEngine("transcribe", &err)

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	text, err := d.transcriber.Transcribe(ctx, seg.Samples, seg.SampleRate)
	observability.RecordEngineRequest(engineTranscription, err == nil, time.Since(start))
	if err != nil {
		return "", failure.New(failure.EngineFailure, "transcribe", err)
	}
	return text, nil
}

func (d *Dispatcher) classify(ctx context.Context, seg audio.Segment) (_ Emotion, err error) {
	defer recoverEngine("classify_emotion", &err)

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	label, err := d.classifier.ClassifyEmotion(ctx, seg.Samples, seg.SampleRate)
	observability.RecordEngineRequest(engineEmotion, err == nil, time.Since(start))
	if err != nil {
		return EmotionNeutral, failure.New(failure.EngineFailure, "classify_emotion", err)
	}

	emotion, ok := ParseEmotion(string(label))
	if !ok {
		d.logger.Warn().Str("label", string(label)).Msg("Emotion engine returned unknown label, using neutral")
	}
	return emotion, nil
}

// recoverEngine turns a panic inside an engine into an engine failure
func recoverEngine(op string, err *error) {
	if r := recover(); r != nil {
		*err = failure.Newf(failure.EngineFailure, op, "engine panicked: %v", r)
	}
}

func (d *Dispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.config.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.config.Timeout)
}

func (d *Dispatcher) engineFailed(engine string, seg audio.Segment, err error) {
	observability.RecordError(string(failure.EngineFailure), engine)
	d.logger.Warn().
		Err(err).
		Str("engine", engine).
		Int("segment", seg.Index).
		Dur("duration", seg.Duration()).
		Msg("Analysis engine failed, using default")
}

// Ready reports whether both engines answer their health checks and records
// the outcome for ModelsLoaded
func (d *Dispatcher) Ready(ctx context.Context) bool {
	var g errgroup.Group
	var sttOK, emotionOK bool

	g.Go(func() error {
		ok, err := d.transcriber.HealthCheck(ctx)
		sttOK = ok && err == nil
		return nil
	})
	g.Go(func() error {
		ok, err := d.classifier.HealthCheck(ctx)
		emotionOK = ok && err == nil
		return nil
	})
	_ = g.Wait()

	ready := sttOK && emotionOK
	d.loaded.Store(ready)
	return ready
}

// ModelsLoaded reports the outcome of the latest Ready probe. It is false
// until Ready has succeeded at least once.
func (d *Dispatcher) ModelsLoaded() bool {
	return d.loaded.Load()
}

// WatchReadiness re-probes the engines every interval until ctx is done so
// ModelsLoaded follows engines that come up or go away after startup
func (d *Dispatcher) WatchReadiness(ctx context.Context, interval, probeTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			was := d.ModelsLoaded()
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			now := d.Ready(probeCtx)
			cancel()
			if now != was {
				d.logger.Info().Bool("engines_ready", now).Msg("Analysis engine readiness changed")
			}
		}
	}
}

// DependencyChecks exposes each engine as a named readiness probe
func (d *Dispatcher) DependencyChecks() []observability.DependencyCheck {
	return []observability.DependencyCheck{
		{Name: engineTranscription, Check: d.transcriber.HealthCheck},
		{Name: engineEmotion, Check: d.classifier.HealthCheck},
	}
}
