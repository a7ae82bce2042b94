package vad

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prepvox/prepvox/pkg/audio"
)

// ErrSessionClosed is returned by ProcessFrame after Close.
var ErrSessionClosed = errors.New("vad: session closed")

// Voice band limits for the relaxed detection rule. Energy concentrated in
// this band separates speech from broadband noise like fans and keyboards.
const (
	voiceBandLowHz  = 300.0
	voiceBandHighHz = 3400.0
)

// EnergyEngine is an adaptive energy detector. It scores frames on smoothed
// signal energy against a threshold calibrated from leading background noise,
// with a relaxed rule for frames whose energy sits in the voice band.
type EnergyEngine struct{}

var _ Engine = (*EnergyEngine)(nil)

// NewEnergyEngine creates the engine. It holds no state; all state lives in
// the sessions it creates.
func NewEnergyEngine() *EnergyEngine { return &EnergyEngine{} }

// NewSession creates a detection session. Returns an error if the config is
// invalid.
func (e *EnergyEngine) NewSession(cfg Config) (Session, error) {
	cfg.applyDefaults()
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("vad: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.MinThreshold > cfg.MaxThreshold {
		return nil, fmt.Errorf("vad: min threshold %.1f above max %.1f", cfg.MinThreshold, cfg.MaxThreshold)
	}
	s := &energySession{cfg: cfg}
	s.Reset()
	return s, nil
}

type energySession struct {
	cfg    Config
	closed bool

	// Adaptive threshold state.
	threshold   float64
	noiseSum    float64
	noiseCount  int
	calibrated  bool
	levelWindow []float64

	// Band-pass filter state, carried across frames.
	hpPrevIn, hpPrevOut float64
	lpPrevOut           float64

	// Segment state. Time is accumulated from frame durations.
	elapsed        time.Duration
	speaking       bool
	speechStarted  time.Duration
	silenceElapsed time.Duration
}

var _ Session = (*energySession)(nil)

func (s *energySession) ProcessFrame(frame audio.AudioFrame) (Event, error) {
	if s.closed {
		return Event{}, ErrSessionClosed
	}
	if frame.Channels != 1 {
		return Event{}, fmt.Errorf("vad: expected mono audio, got %d channels", frame.Channels)
	}
	if frame.SampleRate != s.cfg.SampleRate {
		return Event{}, fmt.Errorf("vad: frame rate %d does not match session rate %d", frame.SampleRate, s.cfg.SampleRate)
	}
	if len(frame.Data) < 2 || len(frame.Data)%2 != 0 {
		return Event{}, fmt.Errorf("vad: malformed PCM frame of %d bytes", len(frame.Data))
	}

	dur := frame.Duration()
	s.elapsed += dur

	samples := audio.BytesToInt16s(frame.Data)
	raw := meanLevel(samples)
	band := s.bandLevel(samples)
	smoothed := s.smooth(raw)
	s.calibrate(raw)

	event := Event{Level: smoothed, Threshold: s.threshold}

	// A frame counts as speech when the smoothed level clears the threshold
	// outright, or when voice-band energy clears the floor and the level
	// reaches 70% of the threshold. The relaxed rule keeps soft but clearly
	// voiced speech from being cut off mid-answer.
	isSpeech := smoothed > s.threshold ||
		(band > s.cfg.BandFloor && smoothed > 0.7*s.threshold)

	switch {
	case isSpeech && !s.speaking:
		s.speaking = true
		s.speechStarted = s.elapsed - dur
		s.silenceElapsed = 0
		event.Type = SpeechStart
		event.SpeechDuration = dur
	case isSpeech:
		// Resuming speech cancels any pending segment end.
		s.silenceElapsed = 0
		event.Type = SpeechContinue
		event.SpeechDuration = s.elapsed - s.speechStarted
	case s.speaking:
		s.silenceElapsed += dur
		if s.silenceElapsed >= s.cfg.SilenceDuration {
			speechDur := s.elapsed - s.speechStarted - s.silenceElapsed
			s.speaking = false
			s.silenceElapsed = 0
			if speechDur < s.cfg.MinSpeechDuration {
				// Too short to be an utterance: discard the segment
				// instead of finalizing a blip.
				event.Type = Silence
				break
			}
			event.Type = SpeechEnd
			event.SpeechDuration = speechDur
		} else {
			// Segment still live while the silence countdown runs.
			event.Type = SpeechContinue
			event.SpeechDuration = s.elapsed - s.speechStarted
		}
	default:
		event.Type = Silence
	}
	return event, nil
}

func (s *energySession) Reset() {
	s.threshold = s.cfg.InitialThreshold
	s.noiseSum = 0
	s.noiseCount = 0
	s.calibrated = false
	s.levelWindow = s.levelWindow[:0]
	s.hpPrevIn, s.hpPrevOut, s.lpPrevOut = 0, 0, 0
	s.elapsed = 0
	s.speaking = false
	s.speechStarted = 0
	s.silenceElapsed = 0
}

func (s *energySession) Close() error {
	s.closed = true
	return nil
}

// smooth appends a raw level to the moving-average window and returns the mean.
func (s *energySession) smooth(raw float64) float64 {
	s.levelWindow = append(s.levelWindow, raw)
	if len(s.levelWindow) > s.cfg.SmoothingWindow {
		s.levelWindow = s.levelWindow[1:]
	}
	var sum float64
	for _, l := range s.levelWindow {
		sum += l
	}
	return sum / float64(len(s.levelWindow))
}

// calibrate feeds sub-threshold frames into the noise estimate. Once enough
// background frames have been seen, the threshold becomes a multiple of the
// noise mean, clamped to the configured range.
func (s *energySession) calibrate(raw float64) {
	if s.calibrated || raw >= s.threshold {
		return
	}
	s.noiseSum += raw
	s.noiseCount++
	if s.noiseCount < s.cfg.CalibrationFrames {
		return
	}
	mean := s.noiseSum / float64(s.noiseCount)
	s.threshold = math.Min(math.Max(mean*s.cfg.NoiseMultiplier, s.cfg.MinThreshold), s.cfg.MaxThreshold)
	s.calibrated = true
}

// bandLevel band-passes the frame to the voice band with one-pole filters and
// returns the mean magnitude of the result on the 0–255 scale.
func (s *energySession) bandLevel(samples []int16) float64 {
	dt := 1.0 / float64(s.cfg.SampleRate)
	rcHigh := 1.0 / (2 * math.Pi * voiceBandLowHz)
	rcLow := 1.0 / (2 * math.Pi * voiceBandHighHz)
	aHigh := rcHigh / (rcHigh + dt)
	aLow := dt / (rcLow + dt)

	var sum float64
	for _, sample := range samples {
		x := float64(sample)
		hp := aHigh * (s.hpPrevOut + x - s.hpPrevIn)
		s.hpPrevIn = x
		s.hpPrevOut = hp
		s.lpPrevOut += aLow * (hp - s.lpPrevOut)
		sum += math.Abs(s.lpPrevOut)
	}
	return sum / float64(len(samples)) / 128.0
}

// meanLevel is the mean magnitude of the samples scaled to 0–255.
func meanLevel(samples []int16) float64 {
	var sum float64
	for _, sample := range samples {
		sum += math.Abs(float64(sample))
	}
	return sum / float64(len(samples)) / 128.0
}
