// Package synthesis defines the Engine interface for speech synthesis
// backends.
//
// A synthesis engine wraps a text-to-speech capability (a cloud streaming API
// played through a local sink, or a host platform synthesizer). Speak blocks
// until playback of the utterance finishes, mirroring promise-style synthesis
// APIs; Cancel aborts whatever is currently being spoken.
//
// Implementations must be safe for concurrent use.
package synthesis

import "context"

// Utterance is a single unit of text to synthesize, together with the voice
// parameters that shape its delivery.
type Utterance struct {
	// Text is the content to speak. Must be non-empty.
	Text string

	// Language is the BCP-47 language tag (e.g., "en-US").
	Language string

	// VoiceID selects a specific voice. Empty means the engine default.
	VoiceID string

	// Rate is the speaking rate multiplier, typically in [0.1, 10]. 1 = normal.
	Rate float64

	// Pitch is the pitch multiplier, typically in [0, 2]. 1 = normal.
	Pitch float64

	// Volume is the playback volume in [0, 1].
	Volume float64
}

// Voice describes one voice available from an Engine.
type Voice struct {
	// ID is the engine-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Language is the BCP-47 language tag the voice is designed for.
	Language string

	// Default marks the engine's default voice.
	Default bool
}

// Engine is the abstraction over any speech synthesis backend.
type Engine interface {
	// Speak synthesizes and plays the utterance, returning once playback has
	// completed or the context is cancelled. It returns an error if synthesis
	// or playback fails; callers decide whether and how to retry.
	Speak(ctx context.Context, u Utterance) error

	// Voices returns the voices currently available from this engine. The
	// list may change between calls.
	Voices(ctx context.Context) ([]Voice, error)

	// Cancel aborts any in-flight Speak call, causing it to return promptly.
	// Calling Cancel when nothing is being spoken is a no-op.
	Cancel()
}
