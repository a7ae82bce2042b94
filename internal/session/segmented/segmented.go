package segmented

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prepvox/prepvox/internal/guard"
	"github.com/prepvox/prepvox/internal/session/strategy"
	"github.com/prepvox/prepvox/pkg/audio"
	"github.com/prepvox/prepvox/pkg/audio/vad"
	"github.com/prepvox/prepvox/pkg/provider/stt"
	"github.com/prepvox/prepvox/pkg/provider/tts"
)

// Compile-time assertion that Strategy satisfies the strategy interface.
var _ strategy.VoiceSessionStrategy = (*Strategy)(nil)

// defaultEventBuf is the buffer depth of the event channel.
const defaultEventBuf = 64

// Responder drafts the interviewer's reply to one candidate utterance.
type Responder interface {
	Respond(ctx context.Context, userText string) (string, error)
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(ctx context.Context, userText string) (string, error)

// Respond calls f(ctx, userText).
func (f ResponderFunc) Respond(ctx context.Context, userText string) (string, error) {
	return f(ctx, userText)
}

// Config holds the per-interview parameters of a segmented session.
type Config struct {
	// Voice is the TTS voice ID for interviewer replies.
	Voice string

	// Speed adjusts TTS speaking rate. Zero uses the provider default.
	Speed float64

	// Language is the ISO 639-1 hint passed to transcription.
	Language string

	// STTPrompt biases transcription toward interview vocabulary, typically
	// the role title and company name.
	STTPrompt string

	// VAD tunes the local voice activity detector. Zero values select the
	// detector defaults; SampleRate is always forced to the pipeline rate.
	VAD vad.Config
}

// Option is a functional option for configuring a [Strategy].
type Option func(*Strategy)

// WithGuard sets the content guard screening candidate utterances before
// they reach the conversation model.
func WithGuard(g *guard.Guard) Option {
	return func(s *Strategy) {
		s.guard = g
	}
}

// WithSink sets the playback sink receiving interviewer audio.
func WithSink(sink strategy.Sink) Option {
	return func(s *Strategy) {
		s.sink = sink
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Strategy) {
		s.log = log
	}
}

// Strategy runs one interview session through the local VAD → record → STT
// → respond → TTS pipeline. Utterances are processed one at a time: the
// pipeline does not listen for the next turn until the reply finished
// synthesising, which matches how a turn-based interview behaves.
type Strategy struct {
	vadEngine vad.Engine
	sttP      stt.Provider
	ttsP      tts.Provider
	responder Responder
	guard     *guard.Guard
	sink      strategy.Sink
	cfg       Config
	log       *slog.Logger

	paused atomic.Bool

	mu          sync.Mutex
	unsubscribe func()
	connected   bool
	closed      bool
	err         error

	runCtx    context.Context
	runCancel context.CancelFunc

	events chan strategy.Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates a segmented strategy over the given collaborators. Options
// are applied in order.
func New(vadEngine vad.Engine, sttP stt.Provider, ttsP tts.Provider, responder Responder, cfg Config, opts ...Option) *Strategy {
	s := &Strategy{
		vadEngine: vadEngine,
		sttP:      sttP,
		ttsP:      ttsP,
		responder: responder,
		cfg:       cfg,
		log:       slog.Default(),
		events:    make(chan strategy.Event, defaultEventBuf),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect subscribes to the borrowed capture handle and starts the pipeline
// goroutine. The handle stays owned by the caller.
func (s *Strategy) Connect(ctx context.Context, handle *audio.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("segmented: strategy is closed")
	}
	if s.connected {
		return fmt.Errorf("segmented: already connected")
	}

	vadCfg := s.cfg.VAD
	vadCfg.SampleRate = audio.FormatSTT.SampleRate
	vadSess, err := s.vadEngine.NewSession(vadCfg)
	if err != nil {
		return fmt.Errorf("segmented: vad session: %w", err)
	}

	frames, cancel, err := handle.Subscribe()
	if err != nil {
		_ = vadSess.Close()
		return fmt.Errorf("segmented: subscribe capture: %w", err)
	}

	s.unsubscribe = cancel
	s.connected = true
	s.runCtx, s.runCancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.pipeline(vadSess, frames)

	s.log.Info("segmented session connected", "voice", s.cfg.Voice)
	return nil
}

// pipeline is the single-goroutine frame loop: VAD bounds utterances, the
// recorder assembles them, and each finished utterance runs through the
// transcribe → screen → respond → speak chain before the next frame batch
// is considered.
func (s *Strategy) pipeline(vadSess vad.Session, frames <-chan audio.AudioFrame) {
	defer s.wg.Done()
	defer close(s.events)
	defer vadSess.Close()

	rec := NewRecorder()

	for {
		select {
		case <-s.done:
			// Stopping mid-utterance discards the partial, never a
			// truncated emit.
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if s.paused.Load() {
				if rec.Recording() {
					rec.Discard()
					vadSess.Reset()
				}
				continue
			}

			s.analyzeFrame(vadSess, rec, frame)
		}
	}
}

// analyzeFrame runs one frame through VAD and the utterance state machine.
// Engines are pluggable, so a panic in ProcessFrame costs that one frame,
// not the pipeline goroutine.
func (s *Strategy) analyzeFrame(vadSess vad.Session, rec *Recorder, frame audio.AudioFrame) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("segmented vad frame skipped", "panic", r)
		}
	}()

	f := audio.ToMono(frame, audio.FormatSTT)
	ev, err := vadSess.ProcessFrame(f)
	if err != nil {
		s.log.Warn("segmented vad frame skipped", "err", err)
		return
	}

	switch ev.Type {
	case vad.SpeechStart:
		rec.Begin()
		rec.Append(f)
		s.emit(strategy.Event{Kind: strategy.KindUserSpeechStarted})
	case vad.SpeechContinue:
		if full := rec.Append(f); full {
			// Hard cap forces the turn to end regardless of VAD.
			vadSess.Reset()
			s.finishUtterance(rec)
		}
	case vad.SpeechEnd:
		s.finishUtterance(rec)
	}
}

func (s *Strategy) finishUtterance(rec *Recorder) {
	clip, ok := rec.Finish()
	if !ok {
		return
	}
	s.handleUtterance(clip)
}

// handleUtterance runs one candidate turn end to end. Provider failures are
// surfaced as non-fatal transport events; the session keeps listening.
func (s *Strategy) handleUtterance(clip audio.AudioFrame) {
	tr, err := s.sttP.Transcribe(s.runCtx, stt.Request{
		PCM:        clip.Data,
		SampleRate: clip.SampleRate,
		Language:   s.cfg.Language,
		Prompt:     s.cfg.STTPrompt,
	})
	if err != nil {
		s.log.Warn("segmented transcribe", "err", err)
		s.emit(strategy.Event{Kind: strategy.KindTransportError, Err: err})
		return
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return
	}
	s.emit(strategy.Event{Kind: strategy.KindUserUtterance, Text: text})

	if s.guard != nil {
		if verdict := s.guard.Evaluate(text); verdict.Matched {
			if verdict.Terminate {
				// Speak the close, then hand the shutdown decision up.
				s.speak(verdict.Response)
				s.emit(strategy.Event{Kind: strategy.KindPolicyFlag, Text: verdict.Response})
				return
			}
			// Redirect answers with the canned line and never reaches the
			// conversation model.
			s.emit(strategy.Event{Kind: strategy.KindResponseStarted})
			s.speak(verdict.Response)
			s.emit(strategy.Event{Kind: strategy.KindInterviewerUtterance, Text: verdict.Response})
			s.emit(strategy.Event{Kind: strategy.KindResponseDone})
			return
		}
	}

	reply, err := s.responder.Respond(s.runCtx, text)
	if err != nil {
		s.log.Warn("segmented respond", "err", err)
		s.emit(strategy.Event{Kind: strategy.KindTransportError, Err: err})
		return
	}
	if reply == "" {
		return
	}

	s.emit(strategy.Event{Kind: strategy.KindResponseStarted})
	s.speak(reply)
	s.emit(strategy.Event{Kind: strategy.KindInterviewerUtterance, Text: reply})
	s.emit(strategy.Event{Kind: strategy.KindResponseDone})
}

// speak synthesises text and streams the audio to the playback sink.
func (s *Strategy) speak(text string) {
	ch, rate, err := s.ttsP.Synthesize(s.runCtx, tts.Request{
		Text:  text,
		Voice: s.cfg.Voice,
		Speed: s.cfg.Speed,
	})
	if err != nil {
		s.log.Warn("segmented synthesize", "err", err)
		s.emit(strategy.Event{Kind: strategy.KindTransportError, Err: err})
		return
	}
	for {
		select {
		case <-s.done:
			return
		case chunk, ok := <-ch:
			if !ok {
				return
			}
			if s.sink == nil {
				continue
			}
			frame := audio.AudioFrame{Data: chunk, SampleRate: rate, Channels: 1}
			if err := s.sink.Write(frame); err != nil {
				s.log.Warn("segmented playback write", "err", err)
			}
		}
	}
}

func (s *Strategy) emit(ev strategy.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Pause stops processing captured audio; a partial utterance in flight is
// discarded. The providers stay untouched.
func (s *Strategy) Pause() {
	s.paused.Store(true)
}

// Resume restarts frame processing after a Pause.
func (s *Strategy) Resume() {
	s.paused.Store(false)
}

// Events returns the channel of session events. Closed when the capture
// stream ends or the strategy disconnects.
func (s *Strategy) Events() <-chan strategy.Event {
	return s.events
}

// Err returns the error that ended the pipeline prematurely, or nil.
func (s *Strategy) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Disconnect stops the pipeline and cancels any in-flight provider call.
// The capture handle is left alone. Safe to call repeatedly and without a
// prior Connect.
func (s *Strategy) Disconnect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	if s.runCancel != nil {
		s.runCancel()
	}
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.wg.Wait()
	return nil
}
