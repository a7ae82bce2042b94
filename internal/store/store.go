// Package store defines the external persistence collaborators of a live
// interview session: the append-only transcript log and the
// interview-completion endpoint. The orchestrator writes to these and never
// reads back during a session.
//
// Two TranscriptStore implementations ship: an HTTP client posting to the
// web application's transcript endpoint, and a direct PostgreSQL writer for
// deployments colocated with the database. Both are fire-and-forget from
// the caller's perspective — a slow or failing store must never stall the
// audio loop.
package store

import (
	"context"
	"time"
)

// Role identifies who spoke a transcript entry.
type Role string

const (
	RoleUser        Role = "user"
	RoleInterviewer Role = "interviewer"
)

// TranscriptEntry is one (role, message, timestamp) tuple. Entries are
// append-only and ordered by arrival, not by claimed speech time.
type TranscriptEntry struct {
	Role      Role
	Text      string
	Timestamp time.Time
}

// TranscriptStore is the durable append-only transcript log.
//
// Append must return quickly; implementations queue writes internally.
// Flush blocks until all queued writes have been attempted (successfully or
// not), bounded by ctx. Implementations must be safe for concurrent use.
type TranscriptStore interface {
	Append(ctx context.Context, interviewID string, entry TranscriptEntry) error
	Flush(ctx context.Context) error
}

// CompletionNotifier marks an interview as finished server-side. The
// orchestrator calls it exactly once on entering the ended state.
type CompletionNotifier interface {
	// Complete marks interviewID finished. reason is the session end reason
	// ("time_expired", "manual", "policy", "error") recorded alongside.
	Complete(ctx context.Context, interviewID string, reason string) error
}
