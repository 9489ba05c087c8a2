// Package recognition defines the Engine interface for speech recognition
// backends.
//
// A recognition engine wraps a streaming transcription capability (a cloud
// WebSocket API, a local whisper.cpp model, or a host platform recognizer) and
// surfaces it as an event-driven session. The central abstraction is Session:
// once started, a session accepts raw PCM audio frames (engines that capture
// audio themselves may ignore them) and emits Event values describing the
// recognizer's evolving view of the utterance, Fault values for engine-level
// errors, and signals session end by closing the Results channel.
//
// Implementations must be safe for concurrent use. Multiple sessions may be
// open simultaneously against one Engine.
package recognition

import "context"

// Engine-native fault codes. These mirror the codes real recognizers report;
// callers map them onto their own error taxonomy.
const (
	CodeNotAllowed   = "not-allowed"
	CodeNoSpeech     = "no-speech"
	CodeAudioCapture = "audio-capture"
	CodeNetwork      = "network"
	CodeAborted      = "aborted"
)

// Config describes the recognition parameters for a new session.
type Config struct {
	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the engine auto-detect, if supported.
	Language string

	// Continuous keeps the session listening across multiple utterances.
	// When false the engine ends the session after the first final result.
	Continuous bool

	// InterimResults requests provisional (non-final) transcripts while an
	// utterance is still in progress.
	InterimResults bool

	// MaxAlternatives is the number of candidate transcriptions requested per
	// recognized utterance. Engines clamp values below 1 to 1.
	MaxAlternatives int

	// SampleRate is the PCM sample rate in Hz of audio delivered via
	// Session.SendAudio. Common value: 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// ElderlyOptimized biases engine timing for slow, quiet speakers: longer
	// end-of-utterance silence windows and more tolerant segmentation.
	// Engines that cannot adjust timing ignore this flag.
	ElderlyOptimized bool
}

// Alternative is one candidate transcription for an audio span.
type Alternative struct {
	// Transcript is the candidate text.
	Transcript string

	// Confidence is the engine-reported likelihood in [0,1] that Transcript
	// is correct. May be zero if the engine does not report confidence.
	Confidence float64
}

// Candidate is the recognizer's view of one utterance within an Event:
// an ordered list of alternatives plus a finality marker.
type Candidate struct {
	// Final indicates the engine has committed to this utterance; non-final
	// candidates are provisional and will be re-delivered as they evolve.
	Final bool

	// Alternatives is ordered best-first. Always has at least one entry in
	// events produced by conforming engines.
	Alternatives []Alternative
}

// Event is a single recognition event. Results holds the session's current
// candidate list; Index is the position of the first candidate that is new or
// changed since the previous event, so consumers iterate Results[Index:].
type Event struct {
	Index   int
	Results []Candidate
}

// Fault is an engine-level error event, carrying the engine-native code
// (one of the Code* constants, or any other string for unrecognised
// conditions) and a human-readable message.
type Fault struct {
	Code    string
	Message string
}

// Session is an open recognition session. It is an interface so that test
// code can provide mock implementations without a live engine.
//
// The session ends — naturally, after Stop, or after a fatal fault — by
// closing the Results channel. Callers must drain Results and Faults.
// All methods must be safe for concurrent use.
type Session interface {
	// SendAudio delivers a chunk of raw 16-bit little-endian PCM audio for
	// recognition. Engines that acquire audio themselves ignore the data and
	// return nil. Calling SendAudio after the session ended returns an error.
	SendAudio(chunk []byte) error

	// Results returns the channel of recognition events. The channel is
	// closed when the session ends.
	Results() <-chan Event

	// Faults returns the channel of engine-level errors. A fault does not
	// necessarily end the session; fatal faults are followed by the Results
	// channel closing.
	Faults() <-chan Fault

	// SetConfig applies a changed configuration to the live session on a
	// best-effort basis. Engines that cannot reconfigure mid-session may
	// return an error; already-buffered audio may still use the old settings.
	SetConfig(cfg Config) error

	// Stop requests a graceful end: pending audio is flushed, remaining
	// results are delivered, and the Results channel closes. Stop does not
	// block waiting for that to happen.
	Stop()

	// Close aborts the session immediately, discarding pending audio and
	// results. Calling Close more than once is safe and returns nil.
	Close() error
}

// Engine is the abstraction over any speech recognition backend.
type Engine interface {
	// Start opens a new recognition session with the given configuration.
	// The returned Session is ready to accept audio immediately. The caller
	// owns the Session and must end it with Stop or Close.
	Start(ctx context.Context, cfg Config) (Session, error)
}
