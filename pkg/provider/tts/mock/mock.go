// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify the
// text and voice passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{Chunks: [][]byte{pcm1, pcm2}}
//	ch, rate, _ := p.Synthesize(ctx, tts.Request{Text: "hello"})
package mock

import (
	"context"
	"sync"

	"github.com/prepvox/prepvox/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the request passed to Synthesize.
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks are emitted on the channel returned by Synthesize, in order,
	// after which the channel is closed.
	Chunks [][]byte

	// SampleRate is returned by Synthesize. Defaults to 24000 when zero.
	SampleRate int

	// SynthesizeErr, if non-nil, is returned by every Synthesize call.
	SynthesizeErr error

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and streams the scripted chunks.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (<-chan []byte, int, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})
	err := p.SynthesizeErr
	chunks := append([][]byte(nil), p.Chunks...)
	rate := p.SampleRate
	p.mu.Unlock()

	if err != nil {
		return nil, 0, err
	}
	if rate == 0 {
		rate = 24000
	}

	out := make(chan []byte, len(chunks))
	go func() {
		defer close(out)
		for _, chunk := range chunks {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, rate, nil
}

// Calls returns a snapshot of recorded calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SynthesizeCall(nil), p.SynthesizeCalls...)
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
