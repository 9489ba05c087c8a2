package app

import (
	"sync"

	"github.com/gerontovoice/speechkit/pkg/speech"
)

// ManagerSet tracks the speech Managers of open gateway connections so
// hot-reloaded voice defaults reach sessions already in flight.
// All methods are safe for concurrent use.
type ManagerSet struct {
	mu   sync.Mutex
	next int
	live map[int]*speech.Manager
}

// NewManagerSet returns an empty set.
func NewManagerSet() *ManagerSet {
	return &ManagerSet{live: make(map[int]*speech.Manager)}
}

// Track adds m to the set and returns a function that removes it again. The
// returned function is idempotent.
func (s *ManagerSet) Track(m *speech.Manager) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.live[id] = m
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.live, id)
			s.mu.Unlock()
		})
	}
}

// Broadcast applies a settings patch to every tracked manager.
func (s *ManagerSet) Broadcast(p speech.Patch) {
	s.mu.Lock()
	managers := make([]*speech.Manager, 0, len(s.live))
	for _, m := range s.live {
		managers = append(managers, m)
	}
	s.mu.Unlock()

	for _, m := range managers {
		m.UpdateSettings(p)
	}
}

// Len returns the number of tracked managers.
func (s *ManagerSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}
