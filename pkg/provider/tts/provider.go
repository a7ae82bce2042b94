// Package tts defines the Provider interface for text-to-speech backends.
//
// The segmented interview strategy synthesises each interviewer reply as one
// clip and streams it to the candidate, so the interface is a single
// Synthesize call returning a channel of PCM chunks as they arrive from the
// provider.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Request describes one synthesis job.
type Request struct {
	// Text is the reply to speak.
	Text string

	// Voice is the provider-specific voice ID.
	Voice string

	// Speed adjusts speaking rate (0.25–4.0, 0 = provider default).
	Speed float64
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize speaks the request text and returns a channel emitting raw
	// PCM16 audio chunks as they are synthesised, plus the output sample
	// rate. The channel is closed when synthesis completes or ctx is
	// cancelled; the caller must drain it.
	//
	// Returns a non-nil error only if synthesis cannot be started.
	Synthesize(ctx context.Context, req Request) (<-chan []byte, int, error)
}
