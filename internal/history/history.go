// Package history persists practice sessions and the exchanges spoken in
// them, so caregivers can review past conversations and track progress.
package history

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the requested session does not exist.
var ErrNotFound = errors.New("history: session not found")

// ErrDuplicateID is returned when creating a session whose ID already exists.
var ErrDuplicateID = errors.New("history: duplicate session id")

// Session is one practice conversation between a caregiver and a persona.
type Session struct {
	ID        string
	UserID    string
	PersonaID string
	StartedAt time.Time
	// EndedAt is zero while the session is still running.
	EndedAt time.Time
}

// Exchange is a single utterance within a session.
type Exchange struct {
	SessionID string
	// Speaker is "user" (the caregiver) or "ai" (the persona).
	Speaker string
	Text    string
	// Emotion is set for persona replies, empty for caregiver utterances.
	Emotion string
	// Confidence is the recognition confidence for caregiver utterances and
	// the backend's self-assessment for persona replies.
	Confidence float64
	SpokenAt   time.Time
}

// Store persists sessions and their exchanges.
// Implementations must be safe for concurrent use.
type Store interface {
	// CreateSession inserts a new session. Returns ErrDuplicateID when a
	// session with the same ID already exists.
	CreateSession(ctx context.Context, s Session) error

	// EndSession marks a session finished. Returns ErrNotFound when the
	// session does not exist.
	EndSession(ctx context.Context, id string, endedAt time.Time) error

	// GetSession retrieves a session by ID. Returns ErrNotFound when it does
	// not exist.
	GetSession(ctx context.Context, id string) (Session, error)

	// ListSessions returns all sessions for a user, newest first. An empty
	// userID returns every session.
	ListSessions(ctx context.Context, userID string) ([]Session, error)

	// AppendExchange records one utterance. The session must exist.
	AppendExchange(ctx context.Context, e Exchange) error

	// Exchanges returns a session's utterances in spoken order.
	Exchanges(ctx context.Context, sessionID string) ([]Exchange, error)
}
