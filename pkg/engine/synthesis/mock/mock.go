// Package mock provides test doubles for the synthesis package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/gerontovoice/speechkit/pkg/engine/synthesis"
)

// SpeakCall records a single invocation of Engine.Speak.
type SpeakCall struct {
	Utterance synthesis.Utterance
}

// Engine is a mock implementation of synthesis.Engine.
type Engine struct {
	mu sync.Mutex

	// SpeakErr, if non-nil, is returned by every Speak call.
	SpeakErr error

	// VoicesErr, if non-nil, is returned by Voices.
	VoicesErr error

	// VoiceList is returned by Voices.
	VoiceList []synthesis.Voice

	// Block, if non-nil, makes Speak wait until the channel is closed (or the
	// context is cancelled, or Cancel is called). Useful for testing
	// cancellation of in-flight synthesis.
	Block chan struct{}

	// SpeakCalls records every call to Speak in order.
	SpeakCalls []SpeakCall

	// CancelCallCount is the number of times Cancel was called.
	CancelCallCount int

	cancel chan struct{}
}

// Speak records the call and returns SpeakErr, optionally blocking first.
func (e *Engine) Speak(ctx context.Context, u synthesis.Utterance) error {
	e.mu.Lock()
	e.SpeakCalls = append(e.SpeakCalls, SpeakCall{Utterance: u})
	block := e.Block
	if e.cancel == nil {
		e.cancel = make(chan struct{}, 1)
	}
	cancel := e.cancel
	e.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-cancel:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return e.SpeakErr
}

// Voices returns VoiceList, VoicesErr.
func (e *Engine) Voices(context.Context) ([]synthesis.Voice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.VoiceList, e.VoicesErr
}

// Cancel records the call and unblocks a blocked Speak.
func (e *Engine) Cancel() {
	e.mu.Lock()
	e.CancelCallCount++
	if e.cancel == nil {
		e.cancel = make(chan struct{}, 1)
	}
	cancel := e.cancel
	e.mu.Unlock()
	select {
	case cancel <- struct{}{}:
	default:
	}
}

// SpeakCallCount returns the number of Speak calls. Thread-safe.
func (e *Engine) SpeakCallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.SpeakCalls)
}

// Compile-time interface assertion.
var _ synthesis.Engine = (*Engine)(nil)
