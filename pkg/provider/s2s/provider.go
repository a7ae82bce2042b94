// Package s2s defines the Provider interface for speech-to-speech backends.
//
// An S2S provider wraps a realtime voice service that accepts raw audio input
// and returns synthesised audio output in a single, stateful session —
// bypassing the separate STT → LLM → TTS pipeline entirely. The OpenAI
// Realtime API is the reference implementation.
//
// The central abstraction is SessionHandle: a bidirectional, multiplexed
// connection carrying audio, transcripts, and turn notifications
// concurrently. Sessions are long-lived (the length of an interview) and
// support mid-session instruction updates.
//
// All implementations must be safe for concurrent use.
package s2s

import "context"

// Role identifies the speaker of a transcript event.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TranscriptEvent is a piece of recognised or generated speech text.
// Assistant text streams as non-final deltas followed by one final event per
// turn; user speech arrives only as final events once the provider's
// transcription completes.
type TranscriptEvent struct {
	Role  Role
	Text  string
	Final bool
}

// NotificationKind enumerates out-of-band session notifications.
type NotificationKind int

const (
	// NoteSpeechStarted fires when the provider's server-side turn detection
	// hears the user start speaking. Used for barge-in handling.
	NoteSpeechStarted NotificationKind = iota

	// NoteResponseStarted fires when the model begins generating a response.
	NoteResponseStarted

	// NoteResponseDone fires when the model finishes a response turn.
	NoteResponseDone

	// NoteError carries a non-fatal provider error. The session stays open.
	NoteError
)

// Notification is an out-of-band session event.
type Notification struct {
	Kind NotificationKind
	Err  error // set for NoteError
}

// TurnDetection configures the provider's server-side voice activity
// detection. Zero value disables server VAD; the caller then drives turns
// explicitly via TriggerResponse.
type TurnDetection struct {
	// Threshold is the activation threshold (0.0–1.0).
	Threshold float64

	// PrefixPaddingMs is how much audio before detected speech is included.
	PrefixPaddingMs int

	// SilenceDurationMs is how long silence must last to end the user's turn.
	SilenceDurationMs int

	// CreateResponse makes the provider start a model response automatically
	// when the user's turn ends.
	CreateResponse bool
}

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// Voice selects the synthesised voice by provider voice ID.
	Voice string

	// Instructions is the system-level prompt defining the interviewer's
	// persona and behavioural constraints.
	Instructions string

	// InputTranscription names the model used to transcribe user speech.
	// Empty disables user transcription.
	InputTranscription string

	// TurnDetection configures server-side VAD. Nil disables it.
	TurnDetection *TurnDetection
}

// Capabilities describes static properties of the S2S provider. The values
// are assumed constant for the lifetime of the Provider instance.
type Capabilities struct {
	// ContextWindow is the maximum token count the model can maintain across
	// the session.
	ContextWindow int

	// MaxSessionDurationMs is the hard upper bound on session lifetime in
	// milliseconds, as imposed by the provider. Zero means no documented limit.
	MaxSessionDurationMs int

	// Voices lists the voice IDs available for this provider.
	Voices []string
}

// SessionHandle represents an open S2S session. It is an interface so that
// test code can supply mock implementations without a live provider
// connection.
//
// The session is the hot path of the voice pipeline — every method must
// return quickly. Audio I/O is channel-based to avoid blocking the caller's
// audio loop. All methods must be safe for concurrent use.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers a raw PCM16 audio chunk to the provider. The chunk
	// must match the audio format negotiated when the session was opened.
	// Returns an error if the session is closed or the write fails.
	SendAudio(chunk []byte) error

	// Audio returns a read-only channel that emits raw PCM audio byte slices
	// as the model synthesises its spoken response. The channel is closed
	// when the session ends or a mid-stream error occurs; after it closes,
	// call Err to check whether the session ended cleanly. Consumers must
	// drain this channel promptly.
	Audio() <-chan []byte

	// Transcripts returns a read-only channel emitting TranscriptEvents for
	// both user speech and model responses. Closed when the session ends.
	Transcripts() <-chan TranscriptEvent

	// Notifications returns a read-only channel of out-of-band session
	// events: speech detection, response lifecycle, non-fatal errors.
	// Closed when the session ends.
	Notifications() <-chan Notification

	// TriggerResponse explicitly asks the model to produce a response turn
	// now, without waiting for user speech. Used for the opening question of
	// an interview.
	TriggerResponse() error

	// UpdateInstructions replaces the system-level instructions mid-session.
	// Effective for the next model turn.
	UpdateInstructions(instructions string) error

	// Interrupt stops the current model response and discards buffered
	// audio. Used when the user barges in mid-answer.
	Interrupt() error

	// Err returns the error that caused the session channels to close
	// prematurely, or nil if the session ended cleanly.
	Err() error

	// Close terminates the session, releases all resources, and closes the
	// session channels. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
//
// Implementations must be safe for concurrent use; the service may open
// concurrent sessions for separate interviews.
type Provider interface {
	// Connect establishes a new S2S session with the given configuration.
	// The returned SessionHandle is ready to accept audio immediately.
	//
	// Returns an error if the session cannot be established. The caller owns
	// the SessionHandle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about this provider's underlying
	// model.
	Capabilities() Capabilities
}
