package resilience

import (
	"context"

	"github.com/gerontovoice/speechkit/pkg/engine/recognition"
)

// RecognitionFallback implements [recognition.Engine] with automatic failover
// across multiple recognition backends — typically a cloud streaming
// recognizer backed by a local whisper.cpp engine. Each backend has its own
// circuit breaker.
//
// Only session startup participates in failover; once a session is
// established, mid-session faults are handled by the caller's retry logic.
type RecognitionFallback struct {
	group *FallbackGroup[recognition.Engine]
}

// Compile-time interface assertion.
var _ recognition.Engine = (*RecognitionFallback)(nil)

// NewRecognitionFallback creates a [RecognitionFallback] with primary as the
// preferred backend.
func NewRecognitionFallback(primary recognition.Engine, primaryName string, cfg FallbackConfig) *RecognitionFallback {
	return &RecognitionFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional recognition engine as a fallback.
func (f *RecognitionFallback) AddFallback(name string, engine recognition.Engine) {
	f.group.AddFallback(name, engine)
}

// Start opens a recognition session against the first healthy backend.
func (f *RecognitionFallback) Start(ctx context.Context, cfg recognition.Config) (recognition.Session, error) {
	return ExecuteWithResult(f.group, func(e recognition.Engine) (recognition.Session, error) {
		return e.Start(ctx, cfg)
	})
}
