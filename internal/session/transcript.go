package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prepvox/prepvox/internal/store"
)

// TranscriptLog is the session's in-memory transcript: an append-only list
// of entries in arrival order. Entries are never reordered by claimed
// speech time — slight interleave from network delays is accepted.
//
// Consecutive identical finalized events (same role, same text) are
// suppressed; remote endpoints retransmit finals and each turn must yield
// exactly one entry. Identical text from the other role, or repeated
// non-adjacently, is kept.
//
// When a backing store is configured every accepted entry is also appended
// to it; store failures are logged and never block the caller.
//
// All methods are safe for concurrent use.
type TranscriptLog struct {
	interviewID string
	backing     store.TranscriptStore
	log         *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	entries []store.TranscriptEntry
}

// TranscriptOption configures a TranscriptLog.
type TranscriptOption func(*TranscriptLog)

// WithTranscriptClock injects the time source used for entry timestamps.
func WithTranscriptClock(now func() time.Time) TranscriptOption {
	return func(l *TranscriptLog) { l.now = now }
}

// WithTranscriptLogger sets the logger. Defaults to slog.Default.
func WithTranscriptLogger(log *slog.Logger) TranscriptOption {
	return func(l *TranscriptLog) { l.log = log }
}

// NewTranscriptLog creates a transcript log for one interview. backing may
// be nil for sessions without persistence.
func NewTranscriptLog(interviewID string, backing store.TranscriptStore, opts ...TranscriptOption) *TranscriptLog {
	l := &TranscriptLog{
		interviewID: interviewID,
		backing:     backing,
		log:         slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records one finalized transcript event. It returns true when the
// entry was accepted and false when it was suppressed as a consecutive
// duplicate or was empty.
func (l *TranscriptLog) Append(role store.Role, text string) bool {
	if text == "" {
		return false
	}

	l.mu.Lock()
	if n := len(l.entries); n > 0 {
		last := l.entries[n-1]
		if last.Role == role && last.Text == text {
			l.mu.Unlock()
			return false
		}
	}
	entry := store.TranscriptEntry{Role: role, Text: text, Timestamp: l.now()}
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	if l.backing != nil {
		if err := l.backing.Append(context.Background(), l.interviewID, entry); err != nil {
			l.log.Warn("transcript store append failed",
				"interview_id", l.interviewID,
				"role", string(role),
				"error", err,
			)
		}
	}
	return true
}

// Entries returns a copy of the transcript in arrival order.
func (l *TranscriptLog) Entries() []store.TranscriptEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]store.TranscriptEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of accepted entries.
func (l *TranscriptLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Flush drains pending writes in the backing store, bounded by ctx.
func (l *TranscriptLog) Flush(ctx context.Context) error {
	if l.backing == nil {
		return nil
	}
	return l.backing.Flush(ctx)
}
