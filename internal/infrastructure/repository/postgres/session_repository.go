package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/domain"
)

type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026031002)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	last_activity TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS session_turns (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	query TEXT NOT NULL,
	answer TEXT NOT NULL,
	citations JSONB NOT NULL DEFAULT '[]'::jsonb,
	incomplete BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_turns_session ON session_turns(session_id, id);
CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// AppendTurn creates the session row when absent and records the turn in one
// transaction, so history never shows a turn without its session.
func (r *SessionRepository) AppendTurn(ctx context.Context, sessionID string, turn domain.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	citationsJSON, err := json.Marshal(turn.Citations)
	if err != nil {
		return fmt.Errorf("marshal citations: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin turn tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO sessions (id, created_at, last_activity)
VALUES ($1, $2, $2)
ON CONFLICT (id) DO UPDATE SET last_activity = EXCLUDED.last_activity
`, sessionID, turn.CreatedAt); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO session_turns (session_id, query, answer, citations, incomplete, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, sessionID, turn.Query, turn.Answer, citationsJSON, turn.Incomplete, turn.CreatedAt); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit turn tx: %w", err)
	}
	return nil
}

// History returns turns in insertion order. Unknown sessions yield an empty
// slice, not an error.
func (r *SessionRepository) History(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT query, answer, citations, incomplete, created_at
FROM session_turns
WHERE session_id = $1
ORDER BY id ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Turn, 0)
	for rows.Next() {
		var turn domain.Turn
		var citationsRaw []byte
		if err := rows.Scan(&turn.Query, &turn.Answer, &citationsRaw, &turn.Incomplete, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if err := json.Unmarshal(citationsRaw, &turn.Citations); err != nil {
			return nil, fmt.Errorf("unmarshal citations: %w", err)
		}
		out = append(out, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return out, nil
}

func (r *SessionRepository) Exists(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1)`, sessionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("session exists: %w", err)
	}
	return exists, nil
}

// Clear removes a session and its turns. Clearing an absent session is a no-op.
func (r *SessionRepository) Clear(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// PurgeExpired drops sessions idle longer than ttl and reports how many were
// removed. Turns go with them via the cascade.
func (r *SessionRepository) PurgeExpired(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_activity < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge sessions rows: %w", err)
	}
	return int(affected), nil
}

func (r *SessionRepository) Healthy(ctx context.Context) bool {
	return r.db.PingContext(ctx) == nil
}
