package resilience

import (
	"context"

	"github.com/gerontovoice/speechkit/pkg/engine/synthesis"
)

// SynthesisFallback implements [synthesis.Engine] with automatic failover
// across multiple synthesis backends. Each backend has its own circuit
// breaker.
type SynthesisFallback struct {
	group *FallbackGroup[synthesis.Engine]
}

// Compile-time interface assertion.
var _ synthesis.Engine = (*SynthesisFallback)(nil)

// NewSynthesisFallback creates a [SynthesisFallback] with primary as the
// preferred backend.
func NewSynthesisFallback(primary synthesis.Engine, primaryName string, cfg FallbackConfig) *SynthesisFallback {
	return &SynthesisFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional synthesis engine as a fallback.
func (f *SynthesisFallback) AddFallback(name string, engine synthesis.Engine) {
	f.group.AddFallback(name, engine)
}

// Speak synthesizes the utterance on the first healthy backend.
func (f *SynthesisFallback) Speak(ctx context.Context, u synthesis.Utterance) error {
	return f.group.Execute(func(e synthesis.Engine) error {
		return e.Speak(ctx, u)
	})
}

// Voices lists voices from the first healthy backend.
func (f *SynthesisFallback) Voices(ctx context.Context) ([]synthesis.Voice, error) {
	return ExecuteWithResult(f.group, func(e synthesis.Engine) ([]synthesis.Voice, error) {
		return e.Voices(ctx)
	})
}

// Cancel interrupts in-flight speech on every backend. A Speak call may have
// failed over, so the cancel is broadcast rather than routed.
func (f *SynthesisFallback) Cancel() {
	f.group.Each(func(e synthesis.Engine) { e.Cancel() })
}
