// Package mock provides test doubles for the store package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/prepvox/prepvox/internal/store"
)

// AppendCall records a single invocation of TranscriptStore.Append.
type AppendCall struct {
	InterviewID string
	Entry       store.TranscriptEntry
}

// TranscriptStore is a mock implementation of store.TranscriptStore.
type TranscriptStore struct {
	mu sync.Mutex

	// AppendErr, if non-nil, is returned by every Append call.
	AppendErr error

	// FlushErr, if non-nil, is returned by every Flush call.
	FlushErr error

	// AppendCalls records every call to Append in order.
	AppendCalls []AppendCall

	// FlushCallCount is the number of times Flush was called.
	FlushCallCount int
}

// Append records the call and returns AppendErr.
func (s *TranscriptStore) Append(_ context.Context, interviewID string, entry store.TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AppendCalls = append(s.AppendCalls, AppendCall{InterviewID: interviewID, Entry: entry})
	return s.AppendErr
}

// Flush records the call and returns FlushErr.
func (s *TranscriptStore) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FlushCallCount++
	return s.FlushErr
}

// Appends returns a copy of the recorded Append calls. Thread-safe.
func (s *TranscriptStore) Appends() []AppendCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AppendCall, len(s.AppendCalls))
	copy(out, s.AppendCalls)
	return out
}

// Flushes returns the number of Flush calls. Thread-safe.
func (s *TranscriptStore) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FlushCallCount
}

var _ store.TranscriptStore = (*TranscriptStore)(nil)

// CompleteCall records a single invocation of CompletionNotifier.Complete.
type CompleteCall struct {
	InterviewID string
	Reason      string
}

// CompletionNotifier is a mock implementation of store.CompletionNotifier.
type CompletionNotifier struct {
	mu sync.Mutex

	// CompleteErr, if non-nil, is returned by every Complete call.
	CompleteErr error

	// CompleteCalls records every call to Complete in order.
	CompleteCalls []CompleteCall
}

// Complete records the call and returns CompleteErr.
func (n *CompletionNotifier) Complete(_ context.Context, interviewID string, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.CompleteCalls = append(n.CompleteCalls, CompleteCall{InterviewID: interviewID, Reason: reason})
	return n.CompleteErr
}

// Completions returns a copy of the recorded Complete calls. Thread-safe.
func (n *CompletionNotifier) Completions() []CompleteCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]CompleteCall, len(n.CompleteCalls))
	copy(out, n.CompleteCalls)
	return out
}

var _ store.CompletionNotifier = (*CompletionNotifier)(nil)
