package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prepvox/prepvox/internal/store"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if PREPVOX_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("PREPVOX_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PREPVOX_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestPGStore creates a fresh PGStore over clean tables and a pool for
// direct verification queries.
func newTestPGStore(t *testing.T) (*store.PGStore, *pgxpool.Pool) {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	for _, tbl := range []string{"conversations", "interviews"} {
		if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+tbl); err != nil {
			t.Fatalf("drop %s: %v", tbl, err)
		}
	}

	s, err := store.NewPGStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPGStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s, pool
}

func TestPGStore_AppendAndReadBack(t *testing.T) {
	s, pool := newTestPGStore(t)
	ctx := context.Background()

	entries := []store.TranscriptEntry{
		{Role: store.RoleInterviewer, Text: "Walk me through your resume.", Timestamp: time.Now()},
		{Role: store.RoleUser, Text: "Sure, I started as a junior engineer...", Timestamp: time.Now()},
	}
	for _, e := range entries {
		if err := s.Append(ctx, "iv-pg-1", e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	rows, err := pool.Query(ctx,
		`SELECT role, message FROM conversations WHERE interview_id = $1 ORDER BY created_at`, "iv-pg-1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()

	var got []store.TranscriptEntry
	for rows.Next() {
		var role, msg string
		if err := rows.Scan(&role, &msg); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got = append(got, store.TranscriptEntry{Role: store.Role(role), Text: msg})
	}
	if len(got) != len(entries) {
		t.Fatalf("got %d rows, want %d", len(got), len(entries))
	}
	for i := range entries {
		if got[i].Role != entries[i].Role || got[i].Text != entries[i].Text {
			t.Errorf("row %d = %+v, want %+v", i, got[i], entries[i])
		}
	}
}

func TestPGStore_Complete(t *testing.T) {
	s, pool := newTestPGStore(t)
	ctx := context.Background()

	if _, err := pool.Exec(ctx, `INSERT INTO interviews (id) VALUES ('iv-pg-2')`); err != nil {
		t.Fatalf("seed interview: %v", err)
	}

	if err := s.Complete(ctx, "iv-pg-2", "manual"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	var status, reason string
	err := pool.QueryRow(ctx,
		`SELECT status, end_reason FROM interviews WHERE id = 'iv-pg-2'`).Scan(&status, &reason)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}
	if reason != "manual" {
		t.Errorf("end_reason = %q, want manual", reason)
	}
}

func TestPGStore_CompleteUnknownInterview(t *testing.T) {
	s, _ := newTestPGStore(t)

	if err := s.Complete(context.Background(), "no-such-interview", "manual"); err == nil {
		t.Error("expected error for unknown interview id")
	}
}
