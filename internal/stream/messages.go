package stream

import (
	"fmt"

	"github.com/socially/speech-gateway/internal/analysis"
	"github.com/socially/speech-gateway/internal/failure"
)

// resultMessage is sent once per analyzed segment
type resultMessage struct {
	Transcription string  `json:"transcription"`
	Emotion       string  `json:"emotion"`
	Timestamp     float64 `json:"timestamp"`
}

// errorMessage reports a non-fatal problem with one inbound message
type errorMessage struct {
	Error string `json:"error"`
}

func newResultMessage(r analysis.Result) resultMessage {
	return resultMessage{
		Transcription: r.Transcript,
		Emotion:       string(r.Emotion),
		Timestamp:     r.Timestamp,
	}
}

// newErrorMessage prefixes the error with its kind, e.g.
// "malformed_audio: decode: chunk length 961 is not a multiple of 2"
func newErrorMessage(err error) errorMessage {
	return errorMessage{Error: fmt.Sprintf("%s: %v", failure.KindOf(err), err)}
}
