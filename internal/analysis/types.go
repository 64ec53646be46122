package analysis

import (
	"context"
	"strings"
)

// Emotion is one of the fixed labels the emotion engine may report
type Emotion string

const (
	EmotionAngry    Emotion = "angry"
	EmotionDisgust  Emotion = "disgust"
	EmotionFear     Emotion = "fear"
	EmotionHappy    Emotion = "happy"
	EmotionNeutral  Emotion = "neutral"
	EmotionSad      Emotion = "sad"
	EmotionSurprise Emotion = "surprise"
)

var knownEmotions = map[Emotion]struct{}{
	EmotionAngry:    {},
	EmotionDisgust:  {},
	EmotionFear:     {},
	EmotionHappy:    {},
	EmotionNeutral:  {},
	EmotionSad:      {},
	EmotionSurprise: {},
}

// ParseEmotion normalizes an engine label. Labels outside the fixed set map to
// neutral and report false.
func ParseEmotion(label string) (Emotion, bool) {
	e := Emotion(strings.ToLower(strings.TrimSpace(label)))
	if _, ok := knownEmotions[e]; !ok {
		return EmotionNeutral, false
	}
	return e, true
}

// Result is the analysis of one segment
type Result struct {
	Transcript string
	Emotion    Emotion
	// Timestamp is monotonic seconds since process start at completion
	Timestamp float64
}

// Transcriber converts 16 kHz mono samples to text. Implementations are shared
// by every session.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)
	HealthCheck(ctx context.Context) (bool, error)
}

// EmotionClassifier labels the speaker's emotion in 16 kHz mono samples.
// Implementations are shared by every session.
type EmotionClassifier interface {
	ClassifyEmotion(ctx context.Context, samples []float32, sampleRate int) (Emotion, error)
	HealthCheck(ctx context.Context) (bool, error)
}
