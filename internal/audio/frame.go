package audio

import "time"

const (
	// DefaultSampleRate is the only rate the analysis engines accept
	DefaultSampleRate = 16000
	// DefaultFrameDurationMs is the classification frame length
	DefaultFrameDurationMs = 30
	// DefaultFrameSize is 30ms at 16kHz
	DefaultFrameSize = DefaultSampleRate * DefaultFrameDurationMs / 1000
)

// Frame is one fixed-duration slice of normalized mono samples. Frames are
// not modified after decoding.
type Frame struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the wall-clock length of the frame
func (f Frame) Duration() time.Duration {
	return DurationOf(len(f.Samples), f.SampleRate)
}

// SegmentReason records why a segment was emitted
type SegmentReason string

const (
	ReasonSilence     SegmentReason = "silence"      // trailing silence ended the utterance
	ReasonMaxDuration SegmentReason = "max_duration" // buffer bound forced a flush mid-utterance
)

// Segment is a completed utterance handed to the analysis dispatcher. The
// accumulator gives up its reference to Samples when it emits the segment.
type Segment struct {
	Samples    []float32
	SampleRate int
	Reason     SegmentReason
	// Index is the 1-based position of the segment within its session
	Index int
}

// Duration returns the wall-clock length of the segment
func (s Segment) Duration() time.Duration {
	return DurationOf(len(s.Samples), s.SampleRate)
}
