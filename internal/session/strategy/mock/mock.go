// Package mock provides a test double for strategy.VoiceSessionStrategy.
// Tests feed EventsCh to simulate the session event stream and inspect the
// recorded lifecycle calls.
package mock

import (
	"context"
	"sync"

	"github.com/prepvox/prepvox/internal/session/strategy"
	"github.com/prepvox/prepvox/pkg/audio"
)

// Strategy is a mock implementation of strategy.VoiceSessionStrategy.
type Strategy struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events. Callers own it; close it
	// to signal end-of-session.
	EventsCh chan strategy.Event

	// ConnectErr, if non-nil, is returned by every Connect call.
	ConnectErr error

	// DisconnectErr, if non-nil, is returned by every Disconnect call.
	DisconnectErr error

	// ErrVal is returned by Err.
	ErrVal error

	// ConnectHandles records the capture handle passed to each Connect call.
	ConnectHandles []*audio.Handle

	// DisconnectCallCount is the number of times Disconnect was called.
	DisconnectCallCount int

	// PauseCallCount is the number of times Pause was called.
	PauseCallCount int

	// ResumeCallCount is the number of times Resume was called.
	ResumeCallCount int
}

// New creates a Strategy with a buffered event channel ready for use.
func New() *Strategy {
	return &Strategy{EventsCh: make(chan strategy.Event, 32)}
}

// Connect records the call and returns ConnectErr.
func (s *Strategy) Connect(_ context.Context, handle *audio.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConnectHandles = append(s.ConnectHandles, handle)
	return s.ConnectErr
}

// Disconnect records the call and returns DisconnectErr.
func (s *Strategy) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DisconnectCallCount++
	return s.DisconnectErr
}

// Pause records the call.
func (s *Strategy) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PauseCallCount++
}

// Resume records the call.
func (s *Strategy) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResumeCallCount++
}

// Events returns EventsCh.
func (s *Strategy) Events() <-chan strategy.Event {
	return s.EventsCh
}

// Err returns ErrVal.
func (s *Strategy) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrVal
}

// Connects returns the number of Connect calls. Thread-safe.
func (s *Strategy) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ConnectHandles)
}

// Disconnects returns the number of Disconnect calls. Thread-safe.
func (s *Strategy) Disconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DisconnectCallCount
}

// Pauses returns the number of Pause calls. Thread-safe.
func (s *Strategy) Pauses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PauseCallCount
}

// Resumes returns the number of Resume calls. Thread-safe.
func (s *Strategy) Resumes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ResumeCallCount
}

// Ensure Strategy implements the interface at compile time.
var _ strategy.VoiceSessionStrategy = (*Strategy)(nil)
