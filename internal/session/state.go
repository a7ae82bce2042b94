// Package session implements the interview session core: the orchestrator
// state machine, the wall-clock interview timer, and the in-memory
// transcript log with consecutive-duplicate suppression.
//
// A session composes a capture manager (media ownership), one voice session
// strategy (realtime or segmented), a content guard, and the external
// persistence collaborators. The orchestrator is the single writer of
// session state; every other component only emits events that request
// transitions.
package session

import (
	"time"
)

// State is the orchestrator's lifecycle state. Exactly one writer (the
// orchestrator reducer) mutates it.
type State int

const (
	// StateNotStarted is the initial state before Start is called.
	StateNotStarted State = iota

	// StateConnecting covers media acquisition and transport negotiation.
	StateConnecting

	// StateIdle means connected with neither side speaking.
	StateIdle

	// StateListening means the candidate is speaking.
	StateListening

	// StateProcessing means a candidate utterance was finalized and the
	// interviewer's reply is pending.
	StateProcessing

	// StateSpeaking means the interviewer reply is playing.
	StateSpeaking

	// StatePaused freezes the timer while keeping transport and media alive.
	StatePaused

	// StateEnded is terminal.
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateConnecting:
		return "connecting"
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// IsActive reports whether s is one of the in-conversation states that
// pause can be requested from.
func (s State) IsActive() bool {
	switch s {
	case StateIdle, StateListening, StateProcessing, StateSpeaking:
		return true
	default:
		return false
	}
}

// EndReason records why a session reached StateEnded.
type EndReason int

const (
	// EndTimerExpired means the interview budget ran out.
	EndTimerExpired EndReason = iota

	// EndManual means the candidate ended the session.
	EndManual

	// EndPolicy means the content guard terminated the session early. This
	// is a successful completion flavor, not an error.
	EndPolicy

	// EndError means the session failed (device or connection error). The
	// interview is not marked complete.
	EndError
)

func (r EndReason) String() string {
	switch r {
	case EndTimerExpired:
		return "time_expired"
	case EndManual:
		return "manual"
	case EndPolicy:
		return "policy"
	case EndError:
		return "error"
	default:
		return "unknown"
	}
}

// Config is the immutable per-attempt session configuration, created at
// session start and never mutated.
type Config struct {
	// InterviewID identifies the interview row server-side.
	InterviewID string

	// Budget is the total interview duration.
	Budget time.Duration

	// Display metadata, passed through to the persona and UI. Never
	// interpreted by the session core.
	JobTitle      string
	Company       string
	InterviewType string
	Difficulty    string

	// Voice is the provider voice ID for the interviewer.
	Voice string
}
