package audio

// State is the accumulator's position relative to an utterance
type State int

const (
	StateIdle State = iota
	StateSpeaking
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Event reports what a single Push did to the accumulator
type Event int

const (
	EventNone          Event = iota
	EventSpeechStarted       // Idle -> Speaking
	EventSpeechEnded         // Speaking -> Idle, segment emitted if non-empty
	EventForcedFlush         // buffer bound reached while Speaking
	EventIdleTrim            // buffer bound reached while Idle, leading non-speech dropped
)

// String returns the string representation of the event
func (e Event) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventSpeechStarted:
		return "speech_started"
	case EventSpeechEnded:
		return "speech_ended"
	case EventForcedFlush:
		return "forced_flush"
	case EventIdleTrim:
		return "idle_trim"
	default:
		return "unknown"
	}
}

// AccumulatorConfig holds the hysteresis thresholds and buffer bound
type AccumulatorConfig struct {
	MinSpeechFrames  int // consecutive speech frames needed to enter Speaking
	MaxSilenceFrames int // consecutive silence frames needed to leave Speaking
	MaxSegmentFrames int // buffer bound in frames, 0 = unbounded
	FrameSize        int // samples per frame
	SampleRate       int
}

// DefaultAccumulatorConfig returns thresholds of 10 speech frames (~300ms) in
// and 20 silence frames (~600ms) out, bounded at 30s
func DefaultAccumulatorConfig() AccumulatorConfig {
	return AccumulatorConfig{
		MinSpeechFrames:  10,
		MaxSilenceFrames: 20,
		MaxSegmentFrames: 1000,
		FrameSize:        DefaultFrameSize,
		SampleRate:       DefaultSampleRate,
	}
}

// Snapshot is a copy of the accumulator's observable state
type Snapshot struct {
	State      State
	SpeechRun  int
	SilenceRun int
	Buffered   int // samples held
	Emitted    int // segments emitted so far
}

// Accumulator is the per-session segmentation state machine. It consumes
// classified frames one at a time and decides where utterances begin and end.
// Every frame is retained, speech or not, so segments keep their natural
// leading and trailing silence.
//
// An Accumulator belongs to exactly one session and is not safe for
// concurrent use.
type Accumulator struct {
	config AccumulatorConfig

	samples    []float32
	state      State
	speechRun  int
	silenceRun int
	emitted    int
}

// NewAccumulator creates an accumulator in the Idle state
func NewAccumulator(config AccumulatorConfig) *Accumulator {
	a := &Accumulator{config: config}
	a.samples = a.newBuffer()
	return a
}

// Push feeds one classified frame. It returns a non-nil segment when an
// utterance boundary was reached; ownership of the segment's samples passes to
// the caller.
func (a *Accumulator) Push(frame Frame, isSpeech bool) (*Segment, Event) {
	a.samples = append(a.samples, frame.Samples...)

	if isSpeech {
		a.speechRun++
		a.silenceRun = 0

		if a.state == StateIdle && a.speechRun >= a.config.MinSpeechFrames {
			a.state = StateSpeaking
			if a.atBound() {
				return a.flush(ReasonMaxDuration), EventForcedFlush
			}
			return nil, EventSpeechStarted
		}
	} else {
		a.silenceRun++
		a.speechRun = 0

		if a.state == StateSpeaking && a.silenceRun >= a.config.MaxSilenceFrames {
			a.state = StateIdle
			return a.flush(ReasonSilence), EventSpeechEnded
		}
	}

	if a.atBound() {
		if a.state == StateSpeaking {
			return a.flush(ReasonMaxDuration), EventForcedFlush
		}
		a.trimIdle()
		return nil, EventIdleTrim
	}

	return nil, EventNone
}

// State returns the current state
func (a *Accumulator) State() State {
	return a.state
}

// Snapshot returns a copy of the current state
func (a *Accumulator) Snapshot() Snapshot {
	return Snapshot{
		State:      a.state,
		SpeechRun:  a.speechRun,
		SilenceRun: a.silenceRun,
		Buffered:   len(a.samples),
		Emitted:    a.emitted,
	}
}

// Discard drops any buffered audio and returns to Idle. It returns the number
// of samples dropped.
func (a *Accumulator) Discard() int {
	n := len(a.samples)
	a.samples = a.samples[:0]
	a.speechRun = 0
	a.silenceRun = 0
	a.state = StateIdle
	return n
}

// flush hands the buffer off as a segment and starts a fresh one. Returns nil
// when nothing was buffered.
func (a *Accumulator) flush(reason SegmentReason) *Segment {
	samples := a.samples
	a.samples = a.newBuffer()
	a.speechRun = 0
	a.silenceRun = 0

	if len(samples) == 0 {
		return nil
	}

	a.emitted++
	return &Segment{
		Samples:    samples,
		SampleRate: a.config.SampleRate,
		Reason:     reason,
		Index:      a.emitted,
	}
}

// trimIdle keeps only the samples of the current speech run. Called in Idle,
// where that run is shorter than MinSpeechFrames.
func (a *Accumulator) trimIdle() {
	keep := a.speechRun * a.config.FrameSize
	if keep > len(a.samples) {
		keep = len(a.samples)
	}
	n := copy(a.samples, a.samples[len(a.samples)-keep:])
	a.samples = a.samples[:n]
}

func (a *Accumulator) atBound() bool {
	if a.config.MaxSegmentFrames <= 0 {
		return false
	}
	return len(a.samples) >= a.config.MaxSegmentFrames*a.config.FrameSize
}

// newBuffer sizes a fresh buffer for a typical short utterance
func (a *Accumulator) newBuffer() []float32 {
	frames := a.config.MinSpeechFrames + a.config.MaxSilenceFrames
	if a.config.MaxSegmentFrames > 0 && frames > a.config.MaxSegmentFrames {
		frames = a.config.MaxSegmentFrames
	}
	return make([]float32, 0, frames*a.config.FrameSize)
}
