// Package strategy defines the capability interface shared by the two voice
// session implementations: the realtime duplex transport and the legacy
// segmented record-then-transcribe loop. The orchestrator drives either one
// through this interface and stays agnostic of which is deployed.
package strategy

import (
	"context"

	"github.com/prepvox/prepvox/pkg/audio"
)

// Kind enumerates the closed set of events a strategy emits. Both
// implementations produce the same set so the orchestrator's reducer needs
// no strategy-specific cases.
type Kind int

const (
	// KindUserSpeechStarted fires when the candidate is heard starting to
	// speak (server-side VAD in realtime mode, local VAD in segmented mode).
	KindUserSpeechStarted Kind = iota

	// KindUserUtterance carries one finalized candidate transcript.
	KindUserUtterance

	// KindResponseStarted fires when the interviewer reply begins.
	KindResponseStarted

	// KindInterviewerUtterance carries one finalized interviewer transcript.
	KindInterviewerUtterance

	// KindResponseDone fires when the interviewer reply finishes playing.
	KindResponseDone

	// KindPolicyFlag fires when the strategy's content screening decided the
	// session must end early. Text carries the canned closing line already
	// spoken (or to be logged) to the candidate.
	KindPolicyFlag

	// KindTransportError carries a non-fatal mid-session error. The session
	// stays up; the orchestrator surfaces it as a warning.
	KindTransportError
)

func (k Kind) String() string {
	switch k {
	case KindUserSpeechStarted:
		return "user_speech_started"
	case KindUserUtterance:
		return "user_utterance"
	case KindResponseStarted:
		return "response_started"
	case KindInterviewerUtterance:
		return "interviewer_utterance"
	case KindResponseDone:
		return "response_done"
	case KindPolicyFlag:
		return "policy_flag"
	case KindTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Event is one typed occurrence in the session event stream.
type Event struct {
	Kind Kind

	// Text is the transcript text for utterance events and the canned
	// closing line for KindPolicyFlag.
	Text string

	// Err is set for KindTransportError.
	Err error
}

// Sink consumes synthesised interviewer audio for playback, typically backed
// by the WebRTC transport's outbound track.
type Sink interface {
	Write(frame audio.AudioFrame) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(frame audio.AudioFrame) error

// Write calls f(frame).
func (f SinkFunc) Write(frame audio.AudioFrame) error { return f(frame) }

// VoiceSessionStrategy is one way of running the voice leg of an interview.
//
// Connect borrows the capture handle — the strategy subscribes to frames
// but never releases the handle; ownership stays with the capture manager.
// Events delivers the typed event stream; the channel is closed when the
// session ends, after which Err reports whether it ended cleanly.
//
// Pause stops forwarding candidate audio without tearing down the
// transport, so Resume is immediate and never renegotiates. Disconnect is
// idempotent and safe to call when never connected.
type VoiceSessionStrategy interface {
	Connect(ctx context.Context, handle *audio.Handle) error
	Disconnect() error
	Pause()
	Resume()
	Events() <-chan Event
	Err() error
}
