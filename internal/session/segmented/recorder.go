// Package segmented implements the record-then-transcribe session strategy.
//
// Where the realtime strategy streams audio both ways over one provider
// session, the segmented strategy runs the classic pipeline locally: an
// adaptive-energy VAD bounds each candidate utterance, the [Recorder]
// assembles it, batch STT transcribes it, the content guard screens it, a
// conversation model drafts the reply and TTS speaks it. It emits the same
// event set as the realtime strategy, so the orchestrator cannot tell the
// two apart.
package segmented

import (
	"time"

	"github.com/prepvox/prepvox/pkg/audio"
)

// maxUtterance caps a single recording. The cap bounds transcription cost
// and memory when the silence detector never fires (constant background
// noise, stuck VAD threshold).
const maxUtterance = 30 * time.Second

// Recorder assembles one bounded utterance from the frames that arrive
// between a speech-start and speech-end boundary. It buffers nothing outside
// those boundaries and is immediately reusable after Finish or Discard.
//
// Recorder is not safe for concurrent use; drive it from the pipeline
// goroutine that also runs VAD.
type Recorder struct {
	maxDuration time.Duration

	recording  bool
	buf        []byte
	sampleRate int
	duration   time.Duration
}

// NewRecorder returns a Recorder with the default utterance cap.
func NewRecorder() *Recorder {
	return &Recorder{maxDuration: maxUtterance}
}

// Begin opens a new utterance. Frames passed to Append before Begin are
// ignored. Calling Begin while already recording restarts the buffer.
func (r *Recorder) Begin() {
	r.recording = true
	r.buf = r.buf[:0]
	r.sampleRate = 0
	r.duration = 0
}

// Recording reports whether an utterance is currently open.
func (r *Recorder) Recording() bool { return r.recording }

// Append adds one mono frame to the open utterance. Frames are ignored when
// no utterance is open. Returns true when the utterance has hit the hard
// cap and must be finalised by the caller regardless of VAD state.
func (r *Recorder) Append(frame audio.AudioFrame) (full bool) {
	if !r.recording || len(frame.Data) == 0 {
		return false
	}
	if r.sampleRate == 0 {
		r.sampleRate = frame.SampleRate
	}
	r.buf = append(r.buf, frame.Data...)
	r.duration += frame.Duration()
	return r.duration >= r.maxDuration
}

// Finish closes the utterance and returns the assembled audio. ok is false
// when nothing was buffered (no Begin, or only empty frames); empty
// utterances are discarded, never emitted. The recorder is ready for the
// next Begin either way.
func (r *Recorder) Finish() (frame audio.AudioFrame, ok bool) {
	if !r.recording || len(r.buf) == 0 {
		r.Discard()
		return audio.AudioFrame{}, false
	}
	data := make([]byte, len(r.buf))
	copy(data, r.buf)
	frame = audio.AudioFrame{
		Data:       data,
		SampleRate: r.sampleRate,
		Channels:   1,
	}
	r.Discard()
	return frame, true
}

// Discard drops any partial utterance without emitting it. Used when the
// session stops mid-utterance or pauses.
func (r *Recorder) Discard() {
	r.recording = false
	r.buf = r.buf[:0]
	r.sampleRate = 0
	r.duration = 0
}
