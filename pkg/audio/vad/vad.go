// Package vad defines the Engine interface for voice activity detection and
// ships the adaptive energy detector used by the segmented interview strategy.
//
// A VAD engine surfaces a frame-level speech detector as a stateful per-stream
// session. Each session maintains its own state (noise calibration, smoothing
// history, silence timing) so that concurrent audio streams can be processed
// independently.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// detection result, making it suitable for the low-latency loop that gates
// utterance recording.
package vad

import (
	"time"

	"github.com/prepvox/prepvox/pkg/audio"
)

// EventType enumerates detection states.
type EventType int

const (
	// SpeechStart indicates speech has just begun.
	SpeechStart EventType = iota

	// SpeechContinue indicates ongoing speech.
	SpeechContinue

	// SpeechEnd indicates a speech segment ended after the configured
	// silence duration elapsed with no resumption.
	SpeechEnd

	// Silence indicates no speech detected.
	Silence
)

func (t EventType) String() string {
	switch t {
	case SpeechStart:
		return "speech_start"
	case SpeechContinue:
		return "speech_continue"
	case SpeechEnd:
		return "speech_end"
	default:
		return "silence"
	}
}

// Event is the detection result for a single audio frame.
type Event struct {
	Type EventType

	// Level is the smoothed energy level of the frame (0–255 scale).
	Level float64

	// Threshold is the adaptive threshold the level was compared against.
	Threshold float64

	// SpeechDuration is the length of the current speech segment so far.
	// Populated for SpeechStart, SpeechContinue and SpeechEnd events.
	SpeechDuration time.Duration
}

// Config holds the parameters for a VAD session. Zero values select the
// defaults, which were tuned for untrained speakers on consumer microphones.
type Config struct {
	// SampleRate of the PCM frames passed to ProcessFrame. Must be set.
	SampleRate int

	// InitialThreshold is the energy threshold in effect until noise
	// calibration completes. Default 8.
	InitialThreshold float64

	// MinThreshold and MaxThreshold clamp the calibrated threshold so a dead
	// quiet room cannot make breathing trigger speech and a noisy room cannot
	// make speech undetectable. Defaults 5 and 20.
	MinThreshold float64
	MaxThreshold float64

	// NoiseMultiplier scales the measured background noise mean into the
	// adaptive threshold. Default 2.5.
	NoiseMultiplier float64

	// CalibrationFrames is how many leading non-speech frames feed the noise
	// estimate before the threshold adapts. Default 30.
	CalibrationFrames int

	// SmoothingWindow is the moving-average window over raw frame levels.
	// Default 5.
	SmoothingWindow int

	// SilenceDuration is how long the level must stay below threshold before
	// a speech segment is considered ended. Default 2 s.
	SilenceDuration time.Duration

	// MinSpeechDuration is the shortest segment worth finalizing. A segment
	// that ends before accumulating this much speech is discarded as a blip
	// (door slam, cough) rather than emitted as SpeechEnd. Default 500 ms.
	MinSpeechDuration time.Duration

	// BandFloor is the minimum voice-band energy for the relaxed detection
	// rule: frames whose band energy clears this floor count as speech at 70%
	// of the threshold. Default 30.
	BandFloor float64
}

func (c *Config) applyDefaults() {
	if c.InitialThreshold == 0 {
		c.InitialThreshold = 8
	}
	if c.MinThreshold == 0 {
		c.MinThreshold = 5
	}
	if c.MaxThreshold == 0 {
		c.MaxThreshold = 20
	}
	if c.NoiseMultiplier == 0 {
		c.NoiseMultiplier = 2.5
	}
	if c.CalibrationFrames == 0 {
		c.CalibrationFrames = 30
	}
	if c.SmoothingWindow == 0 {
		c.SmoothingWindow = 5
	}
	if c.SilenceDuration == 0 {
		c.SilenceDuration = 2 * time.Second
	}
	if c.MinSpeechDuration == 0 {
		c.MinSpeechDuration = 500 * time.Millisecond
	}
	if c.BandFloor == 0 {
		c.BandFloor = 30
	}
}

// Session is an active VAD session for a single audio stream. Sessions are
// not safe for concurrent use; drive one from a single pipeline goroutine.
type Session interface {
	// ProcessFrame analyses one mono PCM frame and returns the detection
	// result. Time is derived from frame durations, never from the wall
	// clock, so detection is deterministic for a given frame sequence.
	ProcessFrame(frame audio.AudioFrame) (Event, error)

	// Reset clears accumulated state, including noise calibration, without
	// closing the session. Use when the audio stream restarts.
	Reset()

	// Close releases the session. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions. Implementations must be safe for
// concurrent use; the sessions they return need not be.
type Engine interface {
	NewSession(cfg Config) (Session, error)
}
