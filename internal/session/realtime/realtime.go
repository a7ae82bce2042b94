// Package realtime implements the speech-to-speech session strategy.
//
// A [Controller] bridges a borrowed microphone handle and an [s2s.Provider]
// session: captured frames stream up to the provider, synthesised interviewer
// audio streams down to a playback [strategy.Sink], and the provider's transcript and
// notification channels are reduced to the typed event set consumed by the
// session orchestrator.
//
// The controller never owns the capture handle it is given — pausing stops
// frame forwarding without tearing the transport down, and Disconnect leaves
// the handle untouched for the owner to release.
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prepvox/prepvox/internal/session/strategy"
	"github.com/prepvox/prepvox/pkg/audio"
	"github.com/prepvox/prepvox/pkg/provider/s2s"
)

// Compile-time assertion that Controller satisfies the strategy interface.
var _ strategy.VoiceSessionStrategy = (*Controller)(nil)

const (
	// defaultOpeningDelay is how long the controller lets the transport settle
	// after connect before triggering the interviewer's opening turn.
	defaultOpeningDelay = time.Second

	// defaultEventBuf is the buffer depth of the event channel returned by
	// [Controller.Events].
	defaultEventBuf = 64

	// Server-side turn detection tuning for interview conversations. The
	// threshold is deliberately above the provider default so background
	// keyboard noise does not end the candidate's turn.
	turnThreshold       = 0.6
	turnPrefixPadding   = 300
	turnSilenceDuration = 1200
)

// DefaultTurnDetection returns the server-VAD settings used for interview
// sessions. Shared with the credential-minting endpoint so browser-driven
// sessions behave the same as server-driven ones.
func DefaultTurnDetection() *s2s.TurnDetection {
	return &s2s.TurnDetection{
		Threshold:         turnThreshold,
		PrefixPaddingMs:   turnPrefixPadding,
		SilenceDurationMs: turnSilenceDuration,
		CreateResponse:    true,
	}
}

// Config holds the per-interview parameters of a realtime session.
type Config struct {
	// Voice selects the interviewer voice by provider voice ID.
	Voice string

	// Instructions is the persona system prompt applied at session open.
	Instructions string

	// InputTranscription names the model transcribing candidate speech.
	// Empty disables user-side transcripts.
	InputTranscription string

	// HasPriorTurns suppresses the opening-turn trigger. Set when resuming
	// an interview that already has conversation history, so the interviewer
	// does not greet the candidate twice.
	HasPriorTurns bool
}

// Option is a functional option for configuring a [Controller].
type Option func(*Controller)

// WithSink sets the playback sink receiving interviewer audio.
func WithSink(sink strategy.Sink) Option {
	return func(c *Controller) {
		c.sink = sink
	}
}

// WithOpeningDelay overrides the settling delay before the opening-turn
// trigger. Useful in tests to keep suite execution fast.
func WithOpeningDelay(d time.Duration) Option {
	return func(c *Controller) {
		c.openingDelay = d
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

// Controller drives one realtime speech-to-speech interview session.
//
// Lifecycle: NewController → Connect → (Pause/Resume)* → Disconnect. Connect
// may be called once; Disconnect is idempotent and safe without a prior
// successful Connect.
type Controller struct {
	provider     s2s.Provider
	cfg          Config
	sink         strategy.Sink
	openingDelay time.Duration
	log          *slog.Logger

	paused    atomic.Bool
	turnsSeen atomic.Bool

	mu          sync.Mutex
	sess        s2s.SessionHandle
	unsubscribe func()
	connected   bool
	closed      bool
	err         error

	events chan strategy.Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewController creates a controller for provider with cfg applied at
// connect time. Options are applied in order.
func NewController(provider s2s.Provider, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		provider:     provider,
		cfg:          cfg,
		openingDelay: defaultOpeningDelay,
		log:          slog.Default(),
		events:       make(chan strategy.Event, defaultEventBuf),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the provider session, subscribes to the borrowed capture
// handle, and starts the forwarding goroutines. The handle stays owned by
// the caller.
func (c *Controller) Connect(ctx context.Context, handle *audio.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("realtime: controller is closed")
	}
	if c.connected {
		return fmt.Errorf("realtime: already connected")
	}

	sess, err := c.provider.Connect(ctx, s2s.SessionConfig{
		Voice:              c.cfg.Voice,
		Instructions:       c.cfg.Instructions,
		InputTranscription: c.cfg.InputTranscription,
		TurnDetection:      DefaultTurnDetection(),
	})
	if err != nil {
		return fmt.Errorf("realtime: connect: %w", err)
	}

	frames, cancel, err := handle.Subscribe()
	if err != nil {
		_ = sess.Close()
		return fmt.Errorf("realtime: subscribe capture: %w", err)
	}

	c.sess = sess
	c.unsubscribe = cancel
	c.connected = true

	c.wg.Add(2)
	go c.forwardFrames(sess, frames)
	go c.consume(sess)

	if !c.cfg.HasPriorTurns {
		c.wg.Add(1)
		go c.openingTurn(sess)
	}

	c.log.Info("realtime session connected", "voice", c.cfg.Voice)
	return nil
}

// forwardFrames streams captured audio up to the provider, converting to the
// realtime wire format. Frames arriving while paused are dropped.
func (c *Controller) forwardFrames(sess s2s.SessionHandle, frames <-chan audio.AudioFrame) {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if c.paused.Load() {
				continue
			}
			f := audio.ToMono(frame, audio.FormatRealtime)
			if len(f.Data) == 0 {
				continue
			}
			if err := sess.SendAudio(f.Data); err != nil {
				c.log.Warn("realtime send audio", "err", err)
				c.emit(strategy.Event{Kind: strategy.KindTransportError, Err: err})
				return
			}
		}
	}
}

// consume reduces the session's transcript, notification and audio streams
// to the strategy event set. It owns the events channel and closes it when
// all source channels have closed or the controller shuts down.
func (c *Controller) consume(sess s2s.SessionHandle) {
	defer c.wg.Done()
	defer close(c.events)

	transcripts := sess.Transcripts()
	notes := sess.Notifications()
	audioCh := sess.Audio()

	var (
		responding    bool
		lastFinalRole s2s.Role
		lastFinalText string
	)

	for transcripts != nil || notes != nil || audioCh != nil {
		select {
		case <-c.done:
			return

		case ev, ok := <-transcripts:
			if !ok {
				transcripts = nil
				continue
			}
			// Deltas only mean a response is in flight; the notification
			// stream already carries that. Only finals reach the transcript.
			if !ev.Final || ev.Text == "" {
				continue
			}
			// Providers occasionally retransmit the final of a turn.
			if ev.Role == lastFinalRole && ev.Text == lastFinalText {
				continue
			}
			lastFinalRole, lastFinalText = ev.Role, ev.Text
			c.turnsSeen.Store(true)
			kind := strategy.KindInterviewerUtterance
			if ev.Role == s2s.RoleUser {
				kind = strategy.KindUserUtterance
			}
			c.emit(strategy.Event{Kind: kind, Text: ev.Text})

		case note, ok := <-notes:
			if !ok {
				notes = nil
				continue
			}
			switch note.Kind {
			case s2s.NoteSpeechStarted:
				// Barge-in: stop the interviewer mid-answer.
				if responding {
					if err := sess.Interrupt(); err != nil {
						c.log.Warn("realtime interrupt", "err", err)
					}
					responding = false
				}
				c.emit(strategy.Event{Kind: strategy.KindUserSpeechStarted})
			case s2s.NoteResponseStarted:
				responding = true
				c.turnsSeen.Store(true)
				c.emit(strategy.Event{Kind: strategy.KindResponseStarted})
			case s2s.NoteResponseDone:
				responding = false
				c.emit(strategy.Event{Kind: strategy.KindResponseDone})
			case s2s.NoteError:
				c.emit(strategy.Event{Kind: strategy.KindTransportError, Err: note.Err})
			}

		case chunk, ok := <-audioCh:
			if !ok {
				audioCh = nil
				continue
			}
			if c.sink == nil || c.paused.Load() {
				continue
			}
			frame := audio.AudioFrame{
				Data:       chunk,
				SampleRate: audio.FormatRealtime.SampleRate,
				Channels:   audio.FormatRealtime.Channels,
			}
			if err := c.sink.Write(frame); err != nil {
				c.log.Warn("realtime playback write", "err", err)
			}
		}
	}

	c.setErr(sess.Err())
}

// openingTurn asks the model for the greeting after the transport settles.
// Skipped if the conversation produced a turn on its own in the meantime.
func (c *Controller) openingTurn(sess s2s.SessionHandle) {
	defer c.wg.Done()

	timer := time.NewTimer(c.openingDelay)
	defer timer.Stop()

	select {
	case <-c.done:
		return
	case <-timer.C:
	}
	if c.turnsSeen.Load() {
		return
	}
	if err := sess.TriggerResponse(); err != nil {
		c.log.Warn("realtime opening turn", "err", err)
		c.emit(strategy.Event{Kind: strategy.KindTransportError, Err: err})
	}
}

func (c *Controller) emit(ev strategy.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) setErr(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

// Pause stops forwarding captured audio and playback without touching the
// provider session.
func (c *Controller) Pause() {
	c.paused.Store(true)
}

// Resume restarts audio forwarding after a Pause.
func (c *Controller) Resume() {
	c.paused.Store(false)
}

// Events returns the channel of reduced session events. Closed when the
// provider streams end or the controller disconnects.
func (c *Controller) Events() <-chan strategy.Event {
	return c.events
}

// Err returns the error that ended the provider session prematurely, or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Disconnect closes the provider session and stops all goroutines. The
// capture handle is left alone. Safe to call repeatedly and without a prior
// Connect.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	sess := c.sess
	unsubscribe := c.unsubscribe
	c.sess = nil
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	var err error
	if sess != nil {
		err = sess.Close()
	}
	c.wg.Wait()
	if err != nil {
		return fmt.Errorf("realtime: close session: %w", err)
	}
	return nil
}
