package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for session lifecycle misuse.
var (
	// ErrAlreadyStarted is returned by Start on any state but not-started.
	ErrAlreadyStarted = errors.New("session: already started")

	// ErrEnded is returned by operations on a session that has ended.
	ErrEnded = errors.New("session: ended")
)

// ConnectionError reports a failure to establish the session: credential
// fetch or transport negotiation. The flow is retryable by starting a new
// session.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("session: connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransportError reports a mid-session transport problem. It is surfaced as
// a non-fatal status; the timer and session state are left intact.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("session: transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
