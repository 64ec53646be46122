package audio

import (
	"github.com/socially/speech-gateway/internal/failure"
)

// Classifier decides whether a single frame contains speech. Implementations
// are shared by every session and must be safe for concurrent use.
type Classifier interface {
	IsSpeech(frame Frame) (bool, error)
}

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	EnergyThreshold float64 // RMS of normalized samples above which a frame is speech
	SampleRate      int     // Required sample rate of every frame
	FrameSize       int     // Required number of samples per frame
}

// DefaultVADConfig returns a default VAD configuration
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 0.015,
		SampleRate:      DefaultSampleRate,
		FrameSize:       DefaultFrameSize, // 30ms at 16kHz
	}
}

// EnergyClassifier is a stateless RMS energy voice activity classifier.
// Hysteresis lives in the Accumulator, not here.
type EnergyClassifier struct {
	config *VADConfig
}

// NewEnergyClassifier creates a new energy classifier
func NewEnergyClassifier(config *VADConfig) *EnergyClassifier {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &EnergyClassifier{config: config}
}

// IsSpeech reports whether the frame's energy exceeds the threshold. Frames of
// the wrong size or rate are rejected rather than padded or truncated.
func (c *EnergyClassifier) IsSpeech(frame Frame) (bool, error) {
	if err := ValidateFrame(frame, c.config.SampleRate, c.config.FrameSize); err != nil {
		return false, err
	}
	return CalculateRMS(frame.Samples) > c.config.EnergyThreshold, nil
}

// Config returns the classifier configuration
func (c *EnergyClassifier) Config() VADConfig {
	return *c.config
}

// ValidateFrame checks that a frame has exactly the geometry a classifier
// requires
func ValidateFrame(frame Frame, sampleRate, frameSize int) error {
	if frame.SampleRate != sampleRate {
		return failure.Newf(failure.MalformedAudio, "frame",
			"sample rate %d Hz, expected %d Hz", frame.SampleRate, sampleRate)
	}
	if len(frame.Samples) != frameSize {
		return failure.Newf(failure.MalformedAudio, "frame",
			"frame has %d samples, expected %d", len(frame.Samples), frameSize)
	}
	return nil
}
