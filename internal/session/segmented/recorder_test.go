package segmented

import (
	"testing"
	"time"

	"github.com/prepvox/prepvox/pkg/audio"
)

// frame16k builds a mono 16kHz frame of n samples.
func frame16k(n int) audio.AudioFrame {
	return audio.AudioFrame{
		Data:       make([]byte, n*2),
		SampleRate: audio.FormatSTT.SampleRate,
		Channels:   1,
	}
}

func TestRecorder_IgnoresFramesBeforeBegin(t *testing.T) {
	t.Parallel()
	r := NewRecorder()

	r.Append(frame16k(160))
	r.Append(frame16k(160))

	if _, ok := r.Finish(); ok {
		t.Error("Finish emitted audio that was never opened with Begin")
	}
}

func TestRecorder_AssemblesOneUtterance(t *testing.T) {
	t.Parallel()
	r := NewRecorder()

	r.Begin()
	r.Append(frame16k(160))
	r.Append(frame16k(160))
	clip, ok := r.Finish()
	if !ok {
		t.Fatal("Finish returned ok=false for a recorded utterance")
	}
	if len(clip.Data) != 640 {
		t.Errorf("clip = %d bytes, want 640", len(clip.Data))
	}
	if clip.SampleRate != audio.FormatSTT.SampleRate || clip.Channels != 1 {
		t.Errorf("clip format = %d Hz / %d ch", clip.SampleRate, clip.Channels)
	}
}

func TestRecorder_EmptyUtteranceDiscarded(t *testing.T) {
	t.Parallel()
	r := NewRecorder()

	r.Begin()
	if _, ok := r.Finish(); ok {
		t.Error("zero-byte utterance emitted instead of discarded")
	}
}

func TestRecorder_ImmediatelyRestartable(t *testing.T) {
	t.Parallel()
	r := NewRecorder()

	r.Begin()
	r.Append(frame16k(160))
	if _, ok := r.Finish(); !ok {
		t.Fatal("first utterance not emitted")
	}

	// Next utterance starts clean; nothing from the first one leaks in.
	r.Begin()
	r.Append(frame16k(80))
	clip, ok := r.Finish()
	if !ok {
		t.Fatal("second utterance not emitted")
	}
	if len(clip.Data) != 160 {
		t.Errorf("second clip = %d bytes, want 160", len(clip.Data))
	}
}

func TestRecorder_DiscardDropsPartial(t *testing.T) {
	t.Parallel()
	r := NewRecorder()

	r.Begin()
	r.Append(frame16k(160))
	r.Discard()

	if r.Recording() {
		t.Error("still recording after Discard")
	}
	if _, ok := r.Finish(); ok {
		t.Error("discarded partial was emitted")
	}
}

func TestRecorder_HardCapFlagsFull(t *testing.T) {
	t.Parallel()
	r := &Recorder{maxDuration: 100 * time.Millisecond}

	r.Begin()
	// 80ms not full, 120ms total crosses the cap.
	if full := r.Append(frame16k(1280)); full {
		t.Fatal("cap reported before reaching it")
	}
	if full := r.Append(frame16k(640)); !full {
		t.Fatal("cap not reported at the limit")
	}

	clip, ok := r.Finish()
	if !ok {
		t.Fatal("capped utterance not emitted")
	}
	if len(clip.Data) != 3840 {
		t.Errorf("capped clip = %d bytes, want 3840", len(clip.Data))
	}
}
