package speech

import "github.com/gerontovoice/speechkit/pkg/engine/recognition"

// Kind classifies a speech error. The set is closed; engine codes outside the
// mapping table collapse to KindUnknown.
type Kind string

const (
	KindPermissionDenied     Kind = "permission-denied"
	KindNoSpeech             Kind = "no-speech"
	KindNoMicrophone         Kind = "no-microphone"
	KindNetwork              Kind = "network"
	KindAborted              Kind = "aborted"
	KindNotSupported         Kind = "not-supported"
	KindInitializationFailed Kind = "initialization-failed"
	KindUnknown              Kind = "unknown"
)

// Error describes a speech input/output failure in user-presentable terms.
// Recoverable errors are retried internally by the Manager and only surface
// once retries are exhausted; non-recoverable errors surface immediately.
type Error struct {
	// Kind is the taxonomy bucket.
	Kind Kind

	// Message is a human-readable description of what went wrong.
	Message string

	// Recoverable reports whether automatic retry is appropriate.
	Recoverable bool

	// Suggestion is user-facing remediation text suitable for direct display.
	Suggestion string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// newError constructs the canonical Error for a kind.
func newError(kind Kind, message string) *Error {
	e := &Error{Kind: kind, Message: message}
	switch kind {
	case KindPermissionDenied:
		e.Suggestion = "Please allow microphone access in your browser or system settings."
	case KindNoSpeech:
		e.Recoverable = true
		e.Suggestion = "No speech was detected. Try speaking a little louder or closer to the microphone."
	case KindNoMicrophone:
		e.Suggestion = "No microphone was found. Check that one is connected and enabled."
	case KindNetwork:
		e.Recoverable = true
		e.Suggestion = "A network problem interrupted speech recognition. Check your connection and try again."
	case KindAborted:
		e.Recoverable = true
		e.Suggestion = "Listening was interrupted. Start listening again when you are ready."
	case KindNotSupported:
		e.Suggestion = "Speech input is not available here. You can type your response instead."
	case KindInitializationFailed:
		e.Recoverable = true
		e.Suggestion = "The speech recognizer could not be started. Please try again."
	default:
		e.Kind = KindUnknown
		e.Recoverable = true
		e.Suggestion = "Something went wrong with speech recognition. Please try again."
	}
	return e
}

// faultError maps an engine-native fault onto the closed error taxonomy.
func faultError(f recognition.Fault) *Error {
	var kind Kind
	switch f.Code {
	case recognition.CodeNotAllowed:
		kind = KindPermissionDenied
	case recognition.CodeNoSpeech:
		kind = KindNoSpeech
	case recognition.CodeAudioCapture:
		kind = KindNoMicrophone
	case recognition.CodeNetwork:
		kind = KindNetwork
	case recognition.CodeAborted:
		kind = KindAborted
	default:
		kind = KindUnknown
	}
	msg := f.Message
	if msg == "" {
		msg = "recognition engine reported " + f.Code
	}
	return newError(kind, msg)
}
