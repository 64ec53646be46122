// Package failure tags errors with the kind of fault that produced them so the
// session loop can decide whether to report, degrade or terminate.
package failure

import (
	"errors"
	"fmt"
)

// Kind identifies a class of fault. The string value is also used as a
// metric label.
type Kind string

const (
	Unknown           Kind = "unknown"
	MalformedAudio    Kind = "malformed_audio"    // chunk failed structural validation
	ClassifierFailure Kind = "classifier_failure" // voice activity classifier raised an error
	EngineFailure     Kind = "engine_failure"     // transcription or emotion engine failed
	TransportClosed   Kind = "transport_closed"   // peer closed the connection
	TransportFault    Kind = "transport_fault"    // unexpected transport failure
)

// Error is an error carrying a Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the given kind. A nil err still produces an error so
// callers can signal a fault without an underlying cause.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf is New with a formatted cause.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost tagged error in err's chain, or
// Unknown if none is tagged.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err is tagged with kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
