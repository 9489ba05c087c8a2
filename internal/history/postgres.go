package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the history tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS practice_sessions (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL DEFAULT '',
    persona_id TEXT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    ended_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_practice_sessions_user ON practice_sessions(user_id);

CREATE TABLE IF NOT EXISTS exchanges (
    id         BIGSERIAL PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES practice_sessions(id) ON DELETE CASCADE,
    speaker    TEXT NOT NULL,
    text       TEXT NOT NULL,
    emotion    TEXT NOT NULL DEFAULT '',
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    spoken_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exchanges_session ON exchanges(session_id, spoken_at);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// CreateSession implements [Store.CreateSession].
func (s *PostgresStore) CreateSession(ctx context.Context, sess Session) error {
	const query = `
		INSERT INTO practice_sessions (id, user_id, persona_id, started_at)
		VALUES ($1, $2, $3, $4)`

	_, err := s.db.Exec(ctx, query, sess.ID, sess.UserID, sess.PersonaID, sess.StartedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("history: create session: %w", err)
	}
	return nil
}

// EndSession implements [Store.EndSession].
func (s *PostgresStore) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	const query = `UPDATE practice_sessions SET ended_at = $2 WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id, endedAt)
	if err != nil {
		return fmt.Errorf("history: end session %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSession implements [Store.GetSession].
func (s *PostgresStore) GetSession(ctx context.Context, id string) (Session, error) {
	const query = `
		SELECT id, user_id, persona_id, started_at, COALESCE(ended_at, 'epoch'::timestamptz)
		FROM practice_sessions
		WHERE id = $1`

	var sess Session
	err := s.db.QueryRow(ctx, query, id).Scan(
		&sess.ID, &sess.UserID, &sess.PersonaID, &sess.StartedAt, &sess.EndedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("history: get session %q: %w", id, err)
	}
	normalizeEnd(&sess)
	return sess, nil
}

// ListSessions implements [Store.ListSessions].
func (s *PostgresStore) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	const query = `
		SELECT id, user_id, persona_id, started_at, COALESCE(ended_at, 'epoch'::timestamptz)
		FROM practice_sessions
		WHERE $1 = '' OR user_id = $1
		ORDER BY started_at DESC`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("history: list sessions: %w", err)
	}
	defer rows.Close()

	var result []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.PersonaID, &sess.StartedAt, &sess.EndedAt); err != nil {
			return nil, fmt.Errorf("history: scan session: %w", err)
		}
		normalizeEnd(&sess)
		result = append(result, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: list sessions: %w", err)
	}
	return result, nil
}

// AppendExchange implements [Store.AppendExchange].
func (s *PostgresStore) AppendExchange(ctx context.Context, e Exchange) error {
	const query = `
		INSERT INTO exchanges (session_id, speaker, text, emotion, confidence, spoken_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.Exec(ctx, query, e.SessionID, e.Speaker, e.Text, e.Emotion, e.Confidence, e.SpokenAt)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrNotFound
		}
		return fmt.Errorf("history: append exchange: %w", err)
	}
	return nil
}

// Exchanges implements [Store.Exchanges].
func (s *PostgresStore) Exchanges(ctx context.Context, sessionID string) ([]Exchange, error) {
	const query = `
		SELECT session_id, speaker, text, emotion, confidence, spoken_at
		FROM exchanges
		WHERE session_id = $1
		ORDER BY spoken_at, id`

	rows, err := s.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("history: exchanges: %w", err)
	}
	defer rows.Close()

	var result []Exchange
	for rows.Next() {
		var e Exchange
		if err := rows.Scan(&e.SessionID, &e.Speaker, &e.Text, &e.Emotion, &e.Confidence, &e.SpokenAt); err != nil {
			return nil, fmt.Errorf("history: scan exchange: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: exchanges: %w", err)
	}
	return result, nil
}

// normalizeEnd maps the epoch sentinel used for NULL ended_at back to the
// zero time.
func normalizeEnd(sess *Session) {
	if sess.EndedAt.Unix() == 0 {
		sess.EndedAt = time.Time{}
	}
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isForeignKeyError checks whether a PostgreSQL error is a foreign-key
// violation (SQLSTATE 23503).
func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
