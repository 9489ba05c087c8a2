package speech

import (
	"time"

	"github.com/gerontovoice/speechkit/pkg/engine/recognition"
)

// Result is one recognition outcome delivered to the caller's result sink.
// Results are ephemeral: the Manager does not retain them after delivery.
type Result struct {
	// Transcript is the best-candidate text for the current recognition
	// window. For final results that fell below the confidence threshold,
	// this may be a substituted higher-confidence alternative.
	Transcript string

	// Confidence is the scalar in [0, 1] attached to the best candidate.
	Confidence float64

	// Alternatives lists the candidates that met the confidence threshold,
	// sorted by confidence descending. It exists for quality display; an
	// empty list does not mean the transcript is unusable.
	Alternatives []recognition.Alternative

	// IsFinal reports whether this is a finalized utterance rather than an
	// interim (still-updating) one.
	IsFinal bool

	// Timestamp is the capture time, used for deduplication and ordering.
	Timestamp time.Time
}
