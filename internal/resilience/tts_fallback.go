package resilience

import (
	"context"

	"github.com/prepvox/prepvox/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// synthesisStream pairs the chunk channel with its sample rate so the pair can
// travel through [ExecuteWithResult] as one value.
type synthesisStream struct {
	chunks <-chan []byte
	rate   int
}

// Synthesize starts synthesis on the first healthy provider. Only stream setup
// is covered by failover; once a chunk channel is returned, mid-stream errors
// are the caller's responsibility.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (<-chan []byte, int, error) {
	out, err := ExecuteWithResult(f.group, func(p tts.Provider) (synthesisStream, error) {
		ch, rate, err := p.Synthesize(ctx, req)
		return synthesisStream{chunks: ch, rate: rate}, err
	})
	if err != nil {
		return nil, 0, err
	}
	return out.chunks, out.rate, nil
}
