// Package mock provides test doubles for the capture package interfaces.
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/gerontovoice/speechkit/pkg/engine/capture"
)

// OpenCall records a single invocation of Engine.Open.
type OpenCall struct {
	Constraints capture.Constraints
}

// Engine is a mock implementation of capture.Engine.
type Engine struct {
	mu sync.Mutex

	// Stream is the Stream returned by Open. If nil, Open returns a new
	// default Stream that reads silence.
	Stream capture.Stream

	// OpenErr, if non-nil, is returned as the error from Open.
	OpenErr error

	// OpenCalls records every call to Open.
	OpenCalls []OpenCall
}

// Open records the call and returns Stream, OpenErr.
func (e *Engine) Open(_ context.Context, c capture.Constraints) (capture.Stream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.OpenCalls = append(e.OpenCalls, OpenCall{Constraints: c})
	if e.OpenErr != nil {
		return nil, e.OpenErr
	}
	if e.Stream != nil {
		return e.Stream, nil
	}
	return NewStream(nil), nil
}

// OpenCallCount returns the number of Open calls. Thread-safe.
func (e *Engine) OpenCallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.OpenCalls)
}

// Compile-time interface assertion.
var _ capture.Engine = (*Engine)(nil)

// Stream is a mock implementation of capture.Stream. Read serves the supplied
// data once and then blocks until Close.
type Stream struct {
	mu sync.Mutex

	data   []byte
	gain   float64
	closed chan struct{}
	once   sync.Once

	// GainCalls records every value passed to SetGain.
	GainCalls []float64

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewStream creates a Stream that serves data and then blocks until closed.
func NewStream(data []byte) *Stream {
	return &Stream{
		data:   data,
		gain:   1,
		closed: make(chan struct{}),
	}
}

// Read serves pending data, then blocks until the stream is closed.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	if len(s.data) > 0 {
		n := copy(p, s.data)
		s.data = s.data[n:]
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()

	<-s.closed
	return 0, io.EOF
}

// SetGain records the call.
func (s *Stream) SetGain(g float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gain = g
	s.GainCalls = append(s.GainCalls, g)
}

// Gain returns the last gain value set. Thread-safe.
func (s *Stream) Gain() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gain
}

// Close unblocks pending reads and records the call.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.mu.Unlock()
	s.once.Do(func() { close(s.closed) })
	return nil
}

// Closed reports whether Close was called at least once. Thread-safe.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount > 0
}

// Compile-time interface assertion.
var _ capture.Stream = (*Stream)(nil)
