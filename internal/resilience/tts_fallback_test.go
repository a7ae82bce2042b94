package resilience

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prepvox/prepvox/pkg/provider/tts"
	ttsmock "github.com/prepvox/prepvox/pkg/provider/tts/mock"
)

func TestTTSFallback_Synthesize_PrimarySuccess(t *testing.T) {
	primary := &ttsmock.Provider{
		Chunks:     [][]byte{{1, 2}, {3, 4}},
		SampleRate: 24000,
	}
	secondary := &ttsmock.Provider{}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	ch, rate, err := fb.Synthesize(context.Background(), tts.Request{Text: "hello", Voice: "alloy"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rate != 24000 {
		t.Fatalf("rate = %d, want 24000", rate)
	}

	var audio []byte
	for chunk := range ch {
		audio = append(audio, chunk...)
	}
	if !bytes.Equal(audio, []byte{1, 2, 3, 4}) {
		t.Fatalf("audio = %v", audio)
	}
	if got := len(primary.Calls()); got != 1 {
		t.Fatalf("primary called %d times, want 1", got)
	}
	if got := len(secondary.Calls()); got != 0 {
		t.Fatalf("secondary called %d times, want 0", got)
	}
}

func TestTTSFallback_Synthesize_Failover(t *testing.T) {
	primary := &ttsmock.Provider{
		SynthesizeErr: errors.New("primary down"),
	}
	secondary := &ttsmock.Provider{
		Chunks: [][]byte{{9}},
	}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	ch, _, err := fb.Synthesize(context.Background(), tts.Request{Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var n int
	for range ch {
		n++
	}
	if n != 1 {
		t.Fatalf("chunks = %d, want 1", n)
	}
	if got := len(secondary.Calls()); got != 1 {
		t.Fatalf("secondary called %d times, want 1", got)
	}
}

func TestTTSFallback_Synthesize_AllFail(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{SynthesizeErr: errors.New("secondary down")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, _, err := fb.Synthesize(context.Background(), tts.Request{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
