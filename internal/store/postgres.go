package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time interface checks.
var (
	_ TranscriptStore    = (*PGStore)(nil)
	_ CompletionNotifier = (*PGStore)(nil)
)

// PGStore writes transcripts and completion updates straight to PostgreSQL.
// Used by deployments colocated with the interview database; the HTTP store
// is for everyone else.
//
// Appends are synchronous inserts — the pool's internal queueing is fast
// enough that no extra buffering layer is needed — so Flush is a no-op.
// All methods are safe for concurrent use.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects to the database at dsn, verifies the connection, and
// ensures the conversations schema exists.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg store: ping: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg store: migrate: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// Append inserts one transcript entry under interviewID.
func (s *PGStore) Append(ctx context.Context, interviewID string, entry TranscriptEntry) error {
	const q = `
		INSERT INTO conversations (interview_id, role, message, created_at)
		VALUES ($1, $2, $3, $4)`

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if _, err := s.pool.Exec(ctx, q, interviewID, string(entry.Role), entry.Text, ts); err != nil {
		return fmt.Errorf("pg store: append: %w", err)
	}
	return nil
}

// Flush is a no-op; appends are synchronous.
func (s *PGStore) Flush(context.Context) error { return nil }

// Complete marks the interview row completed with the given end reason.
func (s *PGStore) Complete(ctx context.Context, interviewID string, reason string) error {
	const q = `
		UPDATE interviews
		SET    status = 'completed', end_reason = $2, completed_at = now()
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, interviewID, reason)
	if err != nil {
		return fmt.Errorf("pg store: complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pg store: complete: interview %s not found", interviewID)
	}
	return nil
}

// Close releases the connection pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

// migrate ensures the tables this store writes to exist. The interviews
// table is normally owned by the web application; the CREATE here only
// covers standalone deployments and never alters existing tables.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS interviews (
			id           text PRIMARY KEY,
			status       text NOT NULL DEFAULT 'in_progress',
			end_reason   text,
			completed_at timestamptz
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id           bigserial PRIMARY KEY,
			interview_id text NOT NULL,
			role         text NOT NULL,
			message      text NOT NULL,
			created_at   timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS conversations_interview_idx
			ON conversations (interview_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
