// Package capture defines the Engine interface for microphone acquisition.
//
// A capture engine opens the host's audio input as a readable PCM stream with
// optional echo cancellation, noise suppression, and automatic gain control.
// The stream carries a gain stage so callers can apply basic attenuation
// without any further signal processing.
//
// Capture is an optional capability: the speech Manager degrades gracefully
// when no engine is available or a stream cannot be opened.
package capture

import "context"

// Constraints describes the requested audio input configuration. Engines
// honour constraints on a best-effort basis; a stream may be opened with
// fewer processing stages than requested.
type Constraints struct {
	// SampleRate is the requested sample rate in Hz. 16000 is the
	// speech-optimized default.
	SampleRate int

	// Channels is the requested channel count. 1 = mono.
	Channels int

	// EchoCancellation requests acoustic echo cancellation.
	EchoCancellation bool

	// NoiseSuppression requests background noise suppression.
	NoiseSuppression bool

	// AutoGainControl requests automatic input gain control.
	AutoGainControl bool
}

// Stream is an open microphone stream delivering raw 16-bit little-endian
// PCM. A Stream must be Closed on every exit path; Close releases the
// underlying device.
type Stream interface {
	// Read fills p with PCM bytes, blocking until data is available or the
	// stream is closed. Returns io.EOF after Close.
	Read(p []byte) (int, error)

	// SetGain scales subsequent samples by g (1 = unchanged, 0 = silence).
	// Values are clamped to [0, 1].
	SetGain(g float64)

	// Close releases the input device. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Engine is the abstraction over the host's media capture capability.
type Engine interface {
	// Open acquires an audio input stream matching the constraints as closely
	// as the host allows. The caller owns the Stream and must Close it.
	Open(ctx context.Context, c Constraints) (Stream, error)
}
