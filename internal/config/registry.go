package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gerontovoice/speechkit/internal/conversation"
	"github.com/gerontovoice/speechkit/pkg/engine/recognition"
	"github.com/gerontovoice/speechkit/pkg/engine/synthesis"
)

// ErrEngineNotRegistered is returned by Create* methods when no factory has
// been registered under the requested engine name.
var ErrEngineNotRegistered = errors.New("config: engine not registered")

// Registry maps engine names to their constructor functions for each pipeline
// stage. It is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	recognition  map[string]func(EngineEntry) (recognition.Engine, error)
	synthesis    map[string]func(EngineEntry) (synthesis.Engine, error)
	conversation map[string]func(EngineEntry) (conversation.Service, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		recognition:  make(map[string]func(EngineEntry) (recognition.Engine, error)),
		synthesis:    make(map[string]func(EngineEntry) (synthesis.Engine, error)),
		conversation: make(map[string]func(EngineEntry) (conversation.Service, error)),
	}
}

// RegisterRecognition registers a recognition engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterRecognition(name string, factory func(EngineEntry) (recognition.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognition[name] = factory
}

// RegisterSynthesis registers a synthesis engine factory under name.
func (r *Registry) RegisterSynthesis(name string, factory func(EngineEntry) (synthesis.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synthesis[name] = factory
}

// RegisterConversation registers a conversation service factory under name.
func (r *Registry) RegisterConversation(name string, factory func(EngineEntry) (conversation.Service, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversation[name] = factory
}

// CreateRecognition instantiates a recognition engine using the factory
// registered under entry.Name. Returns [ErrEngineNotRegistered] if no factory
// has been registered for that name.
func (r *Registry) CreateRecognition(entry EngineEntry) (recognition.Engine, error) {
	r.mu.RLock()
	factory, ok := r.recognition[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: recognition/%q", ErrEngineNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSynthesis instantiates a synthesis engine using the factory registered
// under entry.Name.
func (r *Registry) CreateSynthesis(entry EngineEntry) (synthesis.Engine, error) {
	r.mu.RLock()
	factory, ok := r.synthesis[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: synthesis/%q", ErrEngineNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateConversation instantiates a conversation service using the factory
// registered under entry.Name.
func (r *Registry) CreateConversation(entry EngineEntry) (conversation.Service, error) {
	r.mu.RLock()
	factory, ok := r.conversation[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: conversation/%q", ErrEngineNotRegistered, entry.Name)
	}
	return factory(entry)
}
