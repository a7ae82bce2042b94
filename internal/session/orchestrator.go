package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prepvox/prepvox/internal/guard"
	"github.com/prepvox/prepvox/internal/observe"
	"github.com/prepvox/prepvox/internal/session/strategy"
	"github.com/prepvox/prepvox/internal/store"
	"github.com/prepvox/prepvox/pkg/audio"
)

// teardownTimeout bounds the flush and completion calls made on session end.
const teardownTimeout = 5 * time.Second

// Orchestrator is the top-level session state machine. It owns the session
// lifecycle, routes strategy events through its reducer, appends finalized
// transcripts to the transcript log, and triggers termination on timeout,
// manual end, or a content-policy flag.
//
// The orchestrator is the single writer of session state. Teardown runs
// exactly once no matter how many end triggers race; a simultaneous timer
// expiry and manual end produce one disconnect and one completion
// notification.
//
// All exported methods are safe for concurrent use.
type Orchestrator struct {
	cfg        Config
	strat      strategy.VoiceSessionStrategy
	media      *audio.Manager
	guard      *guard.Guard
	completion store.CompletionNotifier
	transcript *TranscriptLog
	timer      *Timer
	metrics    *observe.Metrics
	log        *slog.Logger
	now        func() time.Time
	onState    func(State)
	onWarning  func(error)

	mu          sync.Mutex
	state       State
	beforePause State
	endReason   EndReason
	endErr      error
	connected   bool
	startedAt   time.Time

	endOnce sync.Once
	wg      sync.WaitGroup
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithGuard installs the content-safety guard evaluated on every finalized
// candidate utterance.
func WithGuard(g *guard.Guard) OrchestratorOption {
	return func(o *Orchestrator) { o.guard = g }
}

// WithTranscriptStore sets the durable backing store for the transcript log.
func WithTranscriptStore(ts store.TranscriptStore) OrchestratorOption {
	return func(o *Orchestrator) {
		o.transcript = NewTranscriptLog(o.cfg.InterviewID, ts)
	}
}

// WithCompletion sets the interview-completion collaborator, notified
// exactly once on session end (except for error ends).
func WithCompletion(c store.CompletionNotifier) OrchestratorOption {
	return func(o *Orchestrator) { o.completion = c }
}

// WithMetrics enables session metrics.
func WithMetrics(m *observe.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithStateCallback registers a listener invoked after every state change.
// Called outside the orchestrator lock; may be invoked from multiple
// goroutines.
func WithStateCallback(fn func(State)) OrchestratorOption {
	return func(o *Orchestrator) { o.onState = fn }
}

// WithWarningCallback registers a listener for non-fatal problems, such as
// mid-session transport errors. The session continues after a warning.
func WithWarningCallback(fn func(error)) OrchestratorOption {
	return func(o *Orchestrator) { o.onWarning = fn }
}

// WithSessionClock injects the time source used by the timer and transcript
// timestamps.
func WithSessionClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// WithSessionLogger sets the logger. Defaults to slog.Default.
func WithSessionLogger(log *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = log }
}

// NewOrchestrator creates a session orchestrator for one interview attempt.
// strat and media are required; everything else is optional.
func NewOrchestrator(cfg Config, strat strategy.VoiceSessionStrategy, media *audio.Manager, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		cfg:   cfg,
		strat: strat,
		media: media,
		log:   slog.Default(),
		now:   time.Now,
		state: StateNotStarted,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.transcript == nil {
		o.transcript = NewTranscriptLog(cfg.InterviewID, nil)
	}
	o.transcript.now = o.now
	o.timer = NewTimer(cfg.Budget,
		WithClock(o.now),
		WithExpiry(func() { o.end(EndTimerExpired, nil) }),
	)
	return o
}

// Start acquires the capture device, connects the voice strategy, and moves
// the session to idle. A device failure returns the *audio.DeviceAccessError
// unwrapped; a transport failure returns a *ConnectionError. Either failure
// ends the session without marking the interview complete.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	switch o.state {
	case StateNotStarted:
	case StateEnded:
		o.mu.Unlock()
		return ErrEnded
	default:
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.state = StateConnecting
	o.mu.Unlock()
	o.notifyState(StateConnecting)

	handle, err := o.media.Acquire(ctx)
	if err != nil {
		o.end(EndError, err)
		return fmt.Errorf("session: acquire media: %w", err)
	}

	if err := o.strat.Connect(ctx, handle); err != nil {
		cause := &ConnectionError{Err: err}
		o.end(EndError, cause)
		return cause
	}

	o.mu.Lock()
	o.connected = true
	o.startedAt = o.now()
	o.state = StateIdle
	o.mu.Unlock()
	o.notifyState(StateIdle)

	o.timer.Start()
	if o.metrics != nil {
		o.metrics.ActiveSessions.Add(ctx, 1)
	}
	o.log.Info("session started",
		"interview_id", o.cfg.InterviewID,
		"budget", o.cfg.Budget,
	)

	o.wg.Add(1)
	go o.consume()
	return nil
}

// Pause freezes the timer and stops forwarding candidate audio. Transport
// and media stay alive so Resume is immediate. A no-op unless the session
// is in an active state.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	if !o.state.IsActive() {
		o.mu.Unlock()
		return
	}
	o.beforePause = o.state
	o.state = StatePaused
	o.mu.Unlock()

	o.timer.Pause()
	o.strat.Pause()
	o.notifyState(StatePaused)
}

// Resume returns the session to the state it held before pausing. A no-op
// unless paused.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	if o.state != StatePaused {
		o.mu.Unlock()
		return
	}
	resumed := o.beforePause
	o.state = resumed
	o.mu.Unlock()

	o.timer.Resume()
	o.strat.Resume()
	o.notifyState(resumed)
}

// End terminates the session manually. Safe to call at any time and safe to
// call concurrently with timer expiry; teardown runs once.
func (o *Orchestrator) End() {
	o.end(EndManual, nil)
}

// State returns the current session state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Remaining returns the time left on the interview budget.
func (o *Orchestrator) Remaining() time.Duration {
	return o.timer.Remaining()
}

// Transcript returns the session transcript log.
func (o *Orchestrator) Transcript() *TranscriptLog {
	return o.transcript
}

// Result returns the end reason and terminal error once the session has
// ended. Before that it returns (EndManual, nil, false).
func (o *Orchestrator) Result() (EndReason, error, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateEnded {
		return EndManual, nil, false
	}
	return o.endReason, o.endErr, true
}

// Wait blocks until the strategy event stream has been fully consumed.
// Useful in tests and during server shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// consume is the reducer loop: it drains the strategy event stream and
// applies each event to the session state.
func (o *Orchestrator) consume() {
	defer o.wg.Done()

	for ev := range o.strat.Events() {
		switch ev.Kind {
		case strategy.KindUserSpeechStarted:
			o.transition(func(s State) (State, bool) {
				if s == StateIdle || s == StateSpeaking {
					return StateListening, true
				}
				return s, false
			})

		case strategy.KindUserUtterance:
			o.handleUserUtterance(ev.Text)

		case strategy.KindResponseStarted:
			o.transition(func(s State) (State, bool) {
				if s.IsActive() {
					return StateSpeaking, true
				}
				return s, false
			})

		case strategy.KindInterviewerUtterance:
			if o.transcript.Append(store.RoleInterviewer, ev.Text) && o.metrics != nil {
				o.metrics.RecordTranscriptEntry(context.Background(), string(store.RoleInterviewer))
			}

		case strategy.KindResponseDone:
			o.transition(func(s State) (State, bool) {
				if s == StateSpeaking {
					return StateIdle, true
				}
				return s, false
			})

		case strategy.KindPolicyFlag:
			o.transcript.Append(store.RoleInterviewer, ev.Text)
			o.end(EndPolicy, nil)

		case strategy.KindTransportError:
			o.warn(&TransportError{Err: ev.Err})
		}
	}

	if err := o.strat.Err(); err != nil {
		o.warn(&TransportError{Err: err})
	}
}

// handleUserUtterance appends a finalized candidate transcript and runs the
// content guard over it. A terminating verdict ends the session on the
// policy path; a redirect verdict records the canned reply so the transcript
// reflects what the candidate was told.
func (o *Orchestrator) handleUserUtterance(text string) {
	accepted := o.transcript.Append(store.RoleUser, text)
	if accepted && o.metrics != nil {
		o.metrics.RecordTranscriptEntry(context.Background(), string(store.RoleUser))
	}

	o.transition(func(s State) (State, bool) {
		if s == StateListening || s == StateIdle {
			return StateProcessing, true
		}
		return s, false
	})

	if !accepted || o.guard == nil {
		return
	}
	verdict := o.guard.Evaluate(text)
	if !verdict.Matched {
		return
	}
	if o.metrics != nil {
		o.metrics.RecordGuardHit(context.Background(), verdict.Rule, string(verdict.Action))
	}
	o.transcript.Append(store.RoleInterviewer, verdict.Response)
	if verdict.Terminate {
		o.end(EndPolicy, nil)
	}
}

// transition applies fn to the current state under the lock. fn returns the
// next state and whether a change should happen; paused and ended sessions
// never transition here.
func (o *Orchestrator) transition(fn func(State) (State, bool)) {
	o.mu.Lock()
	if o.state == StatePaused || o.state == StateEnded {
		o.mu.Unlock()
		return
	}
	next, ok := fn(o.state)
	if !ok || next == o.state {
		o.mu.Unlock()
		return
	}
	o.state = next
	o.mu.Unlock()
	o.notifyState(next)
}

// end runs the teardown sequence exactly once: stop the timer, disconnect
// the strategy, release media, flush transcripts, and notify completion.
// Error ends skip the completion notification — a failed session is not a
// finished interview.
func (o *Orchestrator) end(reason EndReason, cause error) {
	o.endOnce.Do(func() {
		o.timer.Stop()

		o.mu.Lock()
		o.state = StateEnded
		o.endReason = reason
		o.endErr = cause
		wasConnected := o.connected
		startedAt := o.startedAt
		o.mu.Unlock()
		o.notifyState(StateEnded)

		if err := o.strat.Disconnect(); err != nil {
			o.log.Warn("strategy disconnect", "error", err)
		}
		o.media.Release()

		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()

		if err := o.transcript.Flush(ctx); err != nil {
			o.log.Warn("transcript flush", "error", err)
		}

		if wasConnected && reason != EndError && o.completion != nil {
			if err := o.completion.Complete(ctx, o.cfg.InterviewID, reason.String()); err != nil {
				o.log.Warn("completion notify failed",
					"interview_id", o.cfg.InterviewID,
					"error", err,
				)
			}
		}

		if o.metrics != nil && wasConnected {
			o.metrics.ActiveSessions.Add(ctx, -1)
			o.metrics.RecordSessionEnd(ctx, o.now().Sub(startedAt), reason.String())
		}

		o.log.Info("session ended",
			"interview_id", o.cfg.InterviewID,
			"reason", reason.String(),
			"error", cause,
		)
	})
}

// notifyState invokes the state callback outside the lock.
func (o *Orchestrator) notifyState(s State) {
	if o.onState != nil {
		o.onState(s)
	}
}

// warn invokes the warning callback and logs the problem.
func (o *Orchestrator) warn(err error) {
	o.log.Warn("session warning", "interview_id", o.cfg.InterviewID, "error", err)
	if o.onWarning != nil {
		o.onWarning(err)
	}
}
