// Package mock provides test doubles for the recognition package interfaces.
//
// Use Engine to verify that the caller starts sessions with the expected
// Config. Use Session to feed controlled Event and Fault values and inspect
// which audio chunks were delivered.
//
// Example:
//
//	sess := mock.NewSession()
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.Start(ctx, cfg)
//	sess.EmitFinal(recognition.Alternative{Transcript: "hello", Confidence: 0.9})
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/gerontovoice/speechkit/pkg/engine/recognition"
)

// StartCall records a single invocation of Engine.Start.
type StartCall struct {
	// Ctx is the context passed to Start.
	Ctx context.Context
	// Cfg is the Config passed to Start.
	Cfg recognition.Config
}

// Engine is a mock implementation of recognition.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the Session returned by Start. If nil, Start returns a new
	// default Session.
	Session recognition.Session

	// StartErr, if non-nil, is returned as the error from Start.
	StartErr error

	// Sessions, if non-empty, is consumed front-to-back by successive Start
	// calls, taking precedence over Session. Useful for retry tests where
	// each restart should get its own session.
	Sessions []recognition.Session

	// StartCalls records every call to Start.
	StartCalls []StartCall
}

// Start records the call and returns the next configured session.
func (e *Engine) Start(ctx context.Context, cfg recognition.Config) (recognition.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.StartCalls = append(e.StartCalls, StartCall{Ctx: ctx, Cfg: cfg})
	if e.StartErr != nil {
		return nil, e.StartErr
	}
	if len(e.Sessions) > 0 {
		s := e.Sessions[0]
		e.Sessions = e.Sessions[1:]
		return s, nil
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return NewSession(), nil
}

// StartCallCount returns the number of Start calls. Thread-safe.
func (e *Engine) StartCallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.StartCalls)
}

// Compile-time interface assertion.
var _ recognition.Engine = (*Engine)(nil)

// SetConfigCall records a single invocation of Session.SetConfig.
type SetConfigCall struct {
	Cfg recognition.Config
}

// Session is a mock implementation of recognition.Session. Tests push events
// with Emit/EmitFinal/EmitInterim/Fail and end the session with Stop or End.
type Session struct {
	mu sync.Mutex

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SetConfigErr, if non-nil, is returned by every SetConfig call.
	SetConfigErr error

	// SendAudioChunks records a copy of every chunk passed to SendAudio.
	SendAudioChunks [][]byte

	// SetConfigCalls records every call to SetConfig in order.
	SetConfigCalls []SetConfigCall

	// StopCallCount is the number of times Stop was called.
	StopCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	results chan recognition.Event
	faults  chan recognition.Fault
	once    sync.Once
}

// NewSession creates a Session with buffered event channels.
func NewSession() *Session {
	return &Session{
		results: make(chan recognition.Event, 16),
		faults:  make(chan recognition.Fault, 16),
	}
}

// Emit pushes a raw Event.
func (s *Session) Emit(ev recognition.Event) {
	s.results <- ev
}

// EmitFinal pushes a single-candidate final event with the given alternatives.
// The first pair is the primary transcript.
func (s *Session) EmitFinal(alts ...recognition.Alternative) {
	s.Emit(recognition.Event{Results: []recognition.Candidate{{Final: true, Alternatives: alts}}})
}

// EmitInterim pushes a single-candidate non-final event.
func (s *Session) EmitInterim(alts ...recognition.Alternative) {
	s.Emit(recognition.Event{Results: []recognition.Candidate{{Final: false, Alternatives: alts}}})
}

// Fail pushes a Fault with the given engine code.
func (s *Session) Fail(code string) {
	s.faults <- recognition.Fault{Code: code, Message: "mock fault: " + code}
}

// End closes the Results channel, simulating the engine ending the session
// naturally.
func (s *Session) End() {
	s.once.Do(func() { close(s.results) })
}

// SendAudio records the chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioChunks = append(s.SendAudioChunks, cp)
	return s.SendAudioErr
}

// Results returns the mock event channel.
func (s *Session) Results() <-chan recognition.Event { return s.results }

// Faults returns the mock fault channel.
func (s *Session) Faults() <-chan recognition.Fault { return s.faults }

// SetConfig records the call and returns SetConfigErr.
func (s *Session) SetConfig(cfg recognition.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SetConfigCalls = append(s.SetConfigCalls, SetConfigCall{Cfg: cfg})
	return s.SetConfigErr
}

// Stop records the call and ends the session like a real engine would.
func (s *Session) Stop() {
	s.mu.Lock()
	s.StopCallCount++
	s.mu.Unlock()
	s.End()
}

// Close records the call and ends the session.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.mu.Unlock()
	s.End()
	return nil
}

// LastSetConfig returns the most recent SetConfig argument and whether any
// call was made. Thread-safe.
func (s *Session) LastSetConfig() (recognition.Config, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.SetConfigCalls) == 0 {
		return recognition.Config{}, false
	}
	return s.SetConfigCalls[len(s.SetConfigCalls)-1].Cfg, true
}

// SendAudioCallCount returns the number of SendAudio calls. Thread-safe.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioChunks)
}

// Stopped reports whether Stop was called at least once. Thread-safe.
func (s *Session) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StopCallCount > 0
}

// ErrSessionEnded is a convenience error for configuring SendAudioErr.
var ErrSessionEnded = errors.New("mock: session ended")

// Compile-time interface assertion.
var _ recognition.Session = (*Session)(nil)
