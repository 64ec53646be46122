package stream

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/socially/speech-gateway/internal/analysis"
	"github.com/socially/speech-gateway/internal/audio"
	"github.com/socially/speech-gateway/internal/config"
	"github.com/socially/speech-gateway/internal/failure"
	"github.com/socially/speech-gateway/internal/observability"
)

// Analyzer turns a completed segment into a result. *analysis.Dispatcher is
// the production implementation.
type Analyzer interface {
	Analyze(ctx context.Context, seg audio.Segment) analysis.Result
}

// PipelineConfig holds the per-session framing and segmentation settings
type PipelineConfig struct {
	SampleRate    int
	FrameSize     int  // samples per frame
	Reframe       bool // slice arbitrary chunks into frames instead of requiring one frame per chunk
	ReframeBuffer int  // bytes
	Accumulator   audio.AccumulatorConfig
}

// PipelineConfigFrom derives pipeline settings from service configuration
func PipelineConfigFrom(cfg *config.Config) PipelineConfig {
	return PipelineConfig{
		SampleRate:    cfg.SampleRate,
		FrameSize:     cfg.FrameSamples(),
		Reframe:       cfg.ReframeChunks,
		ReframeBuffer: cfg.ReframeBuffer,
		Accumulator: audio.AccumulatorConfig{
			MinSpeechFrames:  cfg.MinSpeechFrames,
			MaxSilenceFrames: cfg.MaxSilenceFrames,
			MaxSegmentFrames: cfg.MaxSegmentFrames(),
			FrameSize:        cfg.FrameSamples(),
			SampleRate:       cfg.SampleRate,
		},
	}
}

// EmitFunc delivers one result to the client. An error is a transport fault.
type EmitFunc func(result analysis.Result) error

// Pipeline drives decode, classify, accumulate and dispatch for one session.
// It is owned by the session's processing goroutine.
type Pipeline struct {
	config     PipelineConfig
	classifier audio.Classifier
	analyzer   Analyzer
	acc        *audio.Accumulator
	reframer   *audio.Reframer
	metrics    *observability.SessionMetrics
	logger     zerolog.Logger
}

// NewPipeline creates a pipeline with fresh segmentation state
func NewPipeline(cfg PipelineConfig, classifier audio.Classifier, analyzer Analyzer, metrics *observability.SessionMetrics, logger zerolog.Logger) *Pipeline {
	p := &Pipeline{
		config:     cfg,
		classifier: classifier,
		analyzer:   analyzer,
		acc:        audio.NewAccumulator(cfg.Accumulator),
		metrics:    metrics,
		logger:     logger,
	}
	if cfg.Reframe {
		p.reframer = audio.NewReframer(cfg.FrameSize*2, cfg.ReframeBuffer)
	}
	return p
}

// Process handles one inbound chunk in arrival order. A malformed chunk
// returns a malformed_audio error and leaves all state untouched. Results for
// segments completed by this chunk are emitted, in order, before Process
// returns; none are emitted once ctx is done.
func (p *Pipeline) Process(ctx context.Context, chunk []byte, emit EmitFunc) error {
	frames, err := p.frames(chunk)
	if err != nil {
		return err
	}

	for _, frame := range frames {
		isSpeech := p.classify(frame)
		p.metrics.RecordFrame(isSpeech)

		seg, event := p.acc.Push(frame, isSpeech)
		p.logEvent(event)

		if seg == nil {
			continue
		}
		if err := p.dispatch(ctx, *seg, emit); err != nil {
			return err
		}
	}
	return nil
}

// frames validates the whole chunk before anything is accumulated
func (p *Pipeline) frames(chunk []byte) ([]audio.Frame, error) {
	if p.reframer == nil {
		frame, err := audio.DecodePCM16(chunk, p.config.SampleRate)
		if err != nil {
			return nil, err
		}
		if err := audio.ValidateFrame(frame, p.config.SampleRate, p.config.FrameSize); err != nil {
			return nil, err
		}
		return []audio.Frame{frame}, nil
	}

	raw, err := p.reframer.Push(chunk)
	if err != nil {
		return nil, err
	}
	frames := make([]audio.Frame, 0, len(raw))
	for _, b := range raw {
		frame, err := audio.DecodePCM16(b, p.config.SampleRate)
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// classify treats a classifier failure as non-speech
func (p *Pipeline) classify(frame audio.Frame) bool {
	isSpeech, err := p.classifier.IsSpeech(frame)
	if err != nil {
		err = failure.New(failure.ClassifierFailure, "classify", err)
		p.metrics.RecordError(string(failure.ClassifierFailure), "vad")
		p.logger.Warn().Err(err).Msg("Voice activity classifier failed, treating frame as silence")
		return false
	}
	return isSpeech
}

func (p *Pipeline) dispatch(ctx context.Context, seg audio.Segment, emit EmitFunc) error {
	p.metrics.RecordSegment(string(seg.Reason), seg.Duration())
	p.logger.Info().
		Int("segment", seg.Index).
		Str("reason", string(seg.Reason)).
		Dur("duration", seg.Duration()).
		Msg("Segment ready for analysis")

	result := p.analyzer.Analyze(ctx, seg)

	// The client may have gone while the engines ran
	if err := ctx.Err(); err != nil {
		p.logger.Debug().Int("segment", seg.Index).Msg("Session closed during analysis, dropping result")
		return err
	}

	return emit(result)
}

func (p *Pipeline) logEvent(event audio.Event) {
	switch event {
	case audio.EventNone:
		return
	case audio.EventIdleTrim:
		p.logger.Debug().Str("event", event.String()).Msg("Trimmed leading non-speech")
	default:
		p.logger.Debug().Str("event", event.String()).Msg("Segmentation state changed")
	}
}

// Snapshot returns the segmentation state
func (p *Pipeline) Snapshot() audio.Snapshot {
	return p.acc.Snapshot()
}

// Pending returns bytes held by the reframer, 0 in strict mode
func (p *Pipeline) Pending() int {
	if p.reframer == nil {
		return 0
	}
	return p.reframer.Pending()
}

// Close releases buffered audio and returns the number of samples dropped
func (p *Pipeline) Close() int {
	if p.reframer != nil {
		p.reframer.Reset()
	}
	return p.acc.Discard()
}
