// Package stt defines the Provider interface for speech-to-text backends.
//
// The segmented interview strategy records whole utterances bounded by VAD
// and transcribes each one as a batch, so the interface is a single blocking
// Transcribe call rather than a streaming session. Implementations must be
// safe for concurrent use; separate utterances may be transcribed in
// parallel.
package stt

import (
	"context"
	"time"

	"github.com/prepvox/prepvox/pkg/audio"
)

// Transcript is the result of transcribing one utterance.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). Zero if the
	// provider does not report confidence.
	Confidence float64

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// Request describes one utterance to transcribe.
type Request struct {
	// PCM is the utterance audio, little-endian int16 mono.
	PCM []byte

	// SampleRate of the PCM data in Hz.
	SampleRate int

	// Language is the ISO 639-1 language hint (e.g. "en"). Empty lets the
	// provider auto-detect.
	Language string

	// Prompt biases recognition toward expected vocabulary, e.g. the role
	// title and company name of the interview.
	Prompt string
}

// Clip converts the request audio into an AudioFrame for inspection.
func (r Request) Clip() audio.AudioFrame {
	return audio.AudioFrame{Data: r.PCM, SampleRate: r.SampleRate, Channels: 1}
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe converts one recorded utterance to text. Blocks until the
	// provider responds or ctx is cancelled. The caller owns the PCM buffer;
	// implementations must not retain it after returning.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}
