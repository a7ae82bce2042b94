// Package mock provides a test double for the stt package interfaces.
//
// Use Provider to feed controlled Transcript values and inspect which
// utterances were delivered.
//
// Example:
//
//	p := &mock.Provider{Transcripts: []stt.Transcript{{Text: "hello"}}}
//	tx, _ := p.Transcribe(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/prepvox/prepvox/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is a copy of the request; PCM is copied so later mutation by the
	// caller does not affect the record.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Transcripts are returned by successive Transcribe calls in order. When
	// exhausted, the last entry is repeated; when empty, a zero Transcript is
	// returned.
	Transcripts []stt.Transcript

	// TranscribeErr, if non-nil, is returned by every Transcribe call.
	TranscribeErr error

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the next scripted transcript.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := req
	rec.PCM = append([]byte(nil), req.PCM...)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Req: rec})

	if p.TranscribeErr != nil {
		return stt.Transcript{}, p.TranscribeErr
	}

	n := len(p.TranscribeCalls) - 1
	switch {
	case len(p.Transcripts) == 0:
		return stt.Transcript{}, nil
	case n >= len(p.Transcripts):
		return p.Transcripts[len(p.Transcripts)-1], nil
	default:
		return p.Transcripts[n], nil
	}
}

// Calls returns a snapshot of recorded calls. Thread-safe.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TranscribeCall(nil), p.TranscribeCalls...)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
