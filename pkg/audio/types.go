package audio

import "time"

// AudioFrame represents a single frame of audio data flowing through the pipeline.
// Frames are the atomic unit of audio transport — captured from the input device,
// scored by VAD, encoded/decoded by codecs, and streamed to the voice session.
type AudioFrame struct {
	// PCM audio data, little-endian int16 samples.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for capture, 24000 for the realtime API).
	SampleRate int

	// Channels: 1 for mono (the interview pipeline is mono end to end),
	// 2 for stereo capture devices before downmix.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Common pipeline formats.
var (
	// FormatCapture is the native capture format: 48 kHz mono.
	FormatCapture = Format{SampleRate: 48000, Channels: 1}
	// FormatRealtime is what the realtime voice API consumes: 24 kHz mono PCM16.
	FormatRealtime = Format{SampleRate: 24000, Channels: 1}
	// FormatSTT is what transcription models consume: 16 kHz mono PCM16.
	FormatSTT = Format{SampleRate: 16000, Channels: 1}
)

// Duration returns the playback duration of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}
