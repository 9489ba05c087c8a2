package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store]. It is
// suitable for demo deployments and testing; history disappears on restart.
type MemStore struct {
	mu        sync.RWMutex
	sessions  map[string]Session
	exchanges map[string][]Exchange
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		sessions:  make(map[string]Session),
		exchanges: make(map[string][]Exchange),
	}
}

// CreateSession implements [Store.CreateSession].
func (s *MemStore) CreateSession(ctx context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return ErrDuplicateID
	}
	s.sessions[sess.ID] = sess
	return nil
}

// EndSession implements [Store.EndSession].
func (s *MemStore) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.EndedAt = endedAt
	s.sessions[id] = sess
	return nil
}

// GetSession implements [Store.GetSession].
func (s *MemStore) GetSession(ctx context.Context, id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

// ListSessions implements [Store.ListSessions].
func (s *MemStore) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if userID != "" && sess.UserID != userID {
			continue
		}
		result = append(result, sess)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	return result, nil
}

// AppendExchange implements [Store.AppendExchange].
func (s *MemStore) AppendExchange(ctx context.Context, e Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[e.SessionID]; !ok {
		return ErrNotFound
	}
	s.exchanges[e.SessionID] = append(s.exchanges[e.SessionID], e)
	return nil
}

// Exchanges implements [Store.Exchanges].
func (s *MemStore) Exchanges(ctx context.Context, sessionID string) ([]Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.exchanges[sessionID]
	result := make([]Exchange, len(stored))
	copy(result, stored)
	return result, nil
}
