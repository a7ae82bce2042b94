package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prepvox/prepvox/internal/config"
	"github.com/prepvox/prepvox/internal/guard"
	"github.com/prepvox/prepvox/internal/interview"
	"github.com/prepvox/prepvox/internal/observe"
	"github.com/prepvox/prepvox/internal/session"
	"github.com/prepvox/prepvox/internal/session/realtime"
	"github.com/prepvox/prepvox/internal/session/segmented"
	"github.com/prepvox/prepvox/internal/session/strategy"
	"github.com/prepvox/prepvox/internal/store"
	"github.com/prepvox/prepvox/pkg/audio"
	"github.com/prepvox/prepvox/pkg/audio/vad"
	"github.com/prepvox/prepvox/pkg/audio/webrtc"
	"github.com/prepvox/prepvox/pkg/provider/llm"
)

// inputTranscriptionModel transcribes candidate speech in realtime sessions.
const inputTranscriptionModel = "whisper-1"

// SessionInfo holds metadata about an active interview session.
type SessionInfo struct {
	// InterviewID identifies the interview row server-side.
	InterviewID string

	// State is the orchestrator state name.
	State string

	// Strategy is the voice pipeline mode the session runs.
	Strategy config.Strategy

	// StartedAt is when the session was started.
	StartedAt time.Time

	// Remaining is the unspent interview budget.
	Remaining time.Duration
}

// StartRequest carries the per-interview parameters of a server-driven
// session. Zero fields inherit config defaults.
type StartRequest struct {
	Criteria        interview.Criteria
	DurationSeconds int
	Strategy        config.Strategy
	Voice           string
	Speed           float64

	// Resumed marks a reconnection to an interview that already has
	// conversation history, suppressing the interviewer's opening greeting.
	Resumed bool
}

// activeSession bundles one running orchestrator with its media plumbing.
type activeSession struct {
	orch      *session.Orchestrator
	media     *audio.Manager
	conn      *webrtc.Connection
	startedAt time.Time
	strat     config.Strategy
}

// SessionManager owns the lifecycle of server-driven interview sessions, one
// per interview ID. All exported methods are safe for concurrent use.
type SessionManager struct {
	mu     sync.Mutex
	active map[string]*activeSession

	// Dependencies injected at construction.
	cfg        *config.Config
	providers  *Providers
	guard      *guard.Guard
	metrics    *observe.Metrics
	transcript store.TranscriptStore
	completion store.CompletionNotifier
	signaling  *webrtc.SignalingServer
	evaluator  *interview.Evaluator
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Config     *config.Config
	Providers  *Providers
	Guard      *guard.Guard
	Metrics    *observe.Metrics
	Transcript store.TranscriptStore
	Completion store.CompletionNotifier
	Signaling  *webrtc.SignalingServer
	Evaluator  *interview.Evaluator
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	return &SessionManager{
		active:     make(map[string]*activeSession),
		cfg:        cfg.Config,
		providers:  cfg.Providers,
		guard:      cfg.Guard,
		metrics:    cfg.Metrics,
		transcript: cfg.Transcript,
		completion: cfg.Completion,
		signaling:  cfg.Signaling,
		evaluator:  cfg.Evaluator,
	}
}

// Start begins a server-driven session for interviewID. The candidate must
// have completed WebRTC signaling first; their negotiated connection becomes
// the session's capture device and playback sink.
//
// Returns an error if a session for this interview is already running.
func (sm *SessionManager) Start(ctx context.Context, interviewID string, req StartRequest) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, ok := sm.active[interviewID]; ok {
		return fmt.Errorf("session for interview %q is already active", interviewID)
	}

	conn := sm.signaling.Lookup(interviewID)
	if conn == nil || conn.State() != webrtc.StateConnected {
		return fmt.Errorf("interview %q has no negotiated peer connection", interviewID)
	}

	media := audio.NewManager(newPeerDevice(conn))
	writer := conn.OutputWriter()
	sink := strategy.SinkFunc(func(frame audio.AudioFrame) error {
		writer.Send(frame)
		return nil
	})

	mode := req.Strategy
	if mode == "" {
		mode = sm.cfg.Session.Strategy
	}
	if mode == "" {
		mode = config.StrategyRealtime
	}

	voice := req.Voice
	if voice == "" {
		voice = sm.cfg.Session.Voice
	}

	var orchRef atomic.Pointer[session.Orchestrator]
	strat, err := sm.buildStrategy(mode, voice, req, sink, &orchRef)
	if err != nil {
		return err
	}

	budget := sm.resolveBudget(req.DurationSeconds)

	opts := []session.OrchestratorOption{
		session.WithGuard(sm.guard),
		session.WithMetrics(sm.metrics),
	}
	if sm.transcript != nil {
		opts = append(opts, session.WithTranscriptStore(sm.transcript))
	}
	if sm.completion != nil {
		opts = append(opts, session.WithCompletion(sm.completion))
	}

	orch := session.NewOrchestrator(session.Config{
		InterviewID:   interviewID,
		Budget:        budget,
		JobTitle:      req.Criteria.JobTitle,
		Company:       req.Criteria.Company,
		InterviewType: req.Criteria.InterviewType,
		Difficulty:    req.Criteria.Difficulty,
		Voice:         voice,
	}, strat, media, opts...)
	orchRef.Store(orch)

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start session for %q: %w", interviewID, err)
	}

	as := &activeSession{
		orch:      orch,
		media:     media,
		conn:      conn,
		startedAt: time.Now().UTC(),
		strat:     mode,
	}
	sm.active[interviewID] = as
	go sm.reap(interviewID, as)

	slog.Info("interview session started",
		"interview_id", interviewID,
		"strategy", mode,
		"budget", budget,
	)
	return nil
}

// buildStrategy assembles the voice pipeline for the requested mode. orchRef
// is filled in once the orchestrator exists; until then time-awareness falls
// back to the full budget.
func (sm *SessionManager) buildStrategy(mode config.Strategy, voice string, req StartRequest, sink strategy.Sink, orchRef *atomic.Pointer[session.Orchestrator]) (strategy.VoiceSessionStrategy, error) {
	switch mode {
	case config.StrategyRealtime:
		if sm.providers.S2S == nil {
			return nil, fmt.Errorf("realtime strategy requires an s2s provider")
		}
		var ctrlOpts []realtime.Option
		ctrlOpts = append(ctrlOpts, realtime.WithSink(sink))
		if ms := sm.cfg.Session.OpeningDelayMs; ms > 0 {
			ctrlOpts = append(ctrlOpts, realtime.WithOpeningDelay(time.Duration(ms)*time.Millisecond))
		}
		return realtime.NewController(sm.providers.S2S, realtime.Config{
			Voice:              voice,
			Instructions:       interview.SystemPrompt(req.Criteria),
			InputTranscription: inputTranscriptionModel,
			HasPriorTurns:      req.Resumed,
		}, ctrlOpts...), nil

	case config.StrategySegmented:
		if sm.providers.STT == nil || sm.providers.TTS == nil || sm.providers.LLM == nil {
			return nil, fmt.Errorf("segmented strategy requires stt, tts and llm providers")
		}
		vadEngine := sm.providers.VAD
		if vadEngine == nil {
			vadEngine = vad.NewEnergyEngine()
		}

		conv := interview.NewConversation(
			[]llm.Provider{sm.providers.LLM},
			req.Criteria,
			interview.WithRemaining(sm.remainingFunc(req, orchRef)),
		)
		return segmented.New(
			vadEngine,
			sm.providers.STT,
			sm.providers.TTS,
			segmented.ResponderFunc(conv.Respond),
			segmented.Config{
				Voice:     voice,
				Speed:     req.Speed,
				STTPrompt: sttPrompt(req.Criteria),
				VAD:       vadConfig(sm.cfg.VAD),
			},
			segmented.WithGuard(sm.guard),
			segmented.WithSink(sink),
		), nil

	default:
		return nil, fmt.Errorf("unknown session strategy %q", mode)
	}
}

// remainingFunc returns a late-bound remaining-budget reader for the
// conversation's time-awareness prompt. The orchestrator does not exist yet
// when the conversation is built, so the function resolves it per call; the
// orchestrator's timer is the authority because it freezes across Pause.
func (sm *SessionManager) remainingFunc(req StartRequest, orchRef *atomic.Pointer[session.Orchestrator]) func() time.Duration {
	budget := sm.resolveBudget(req.DurationSeconds)
	return func() time.Duration {
		if orch := orchRef.Load(); orch != nil {
			return orch.Remaining()
		}
		return budget
	}
}

// resolveBudget converts a requested duration into the session budget,
// applying the configured default and cap.
func (sm *SessionManager) resolveBudget(requestedSeconds int) time.Duration {
	secs := requestedSeconds
	if secs <= 0 {
		secs = sm.cfg.Session.DefaultDurationSeconds
	}
	if secs <= 0 {
		secs = 300
	}
	if limit := sm.cfg.Session.MaxDurationSeconds; limit > 0 && secs > limit {
		secs = limit
	}
	return time.Duration(secs) * time.Second
}

// reap waits for the session to end, fires the evaluation trigger for
// completed interviews, and releases the manager slot.
func (sm *SessionManager) reap(interviewID string, as *activeSession) {
	as.orch.Wait()

	reason, cause, ended := as.orch.Result()
	if ended && reason != session.EndError && sm.evaluator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := sm.evaluator.Trigger(ctx, interviewID); err != nil {
			slog.Warn("evaluation trigger failed", "interview_id", interviewID, "err", err)
		}
	}
	if cause != nil {
		slog.Warn("session ended with error", "interview_id", interviewID, "reason", reason.String(), "err", cause)
	}

	_ = as.conn.Disconnect()

	sm.mu.Lock()
	delete(sm.active, interviewID)
	sm.mu.Unlock()

	slog.Info("interview session reaped", "interview_id", interviewID, "reason", reason.String())
}

// Pause freezes the session for interviewID. Unknown IDs return an error.
func (sm *SessionManager) Pause(interviewID string) error {
	as, err := sm.lookup(interviewID)
	if err != nil {
		return err
	}
	as.orch.Pause()
	return nil
}

// Resume continues a paused session.
func (sm *SessionManager) Resume(interviewID string) error {
	as, err := sm.lookup(interviewID)
	if err != nil {
		return err
	}
	as.orch.Resume()
	return nil
}

// End terminates the session for interviewID. The orchestrator notifies
// completion itself; End returns once termination has been requested.
func (sm *SessionManager) End(interviewID string) error {
	as, err := sm.lookup(interviewID)
	if err != nil {
		return err
	}
	as.orch.End()
	return nil
}

// EndAll terminates every active session and waits for them to finish.
// Used during server shutdown.
func (sm *SessionManager) EndAll() {
	sm.mu.Lock()
	sessions := make([]*activeSession, 0, len(sm.active))
	for _, as := range sm.active {
		sessions = append(sessions, as)
	}
	sm.mu.Unlock()

	for _, as := range sessions {
		as.orch.End()
	}
	for _, as := range sessions {
		as.orch.Wait()
	}
}

// Info returns metadata about the session for interviewID.
func (sm *SessionManager) Info(interviewID string) (SessionInfo, error) {
	as, err := sm.lookup(interviewID)
	if err != nil {
		return SessionInfo{}, err
	}
	return SessionInfo{
		InterviewID: interviewID,
		State:       as.orch.State().String(),
		Strategy:    as.strat,
		StartedAt:   as.startedAt,
		Remaining:   as.orch.Remaining(),
	}, nil
}

func (sm *SessionManager) lookup(interviewID string) (*activeSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	as, ok := sm.active[interviewID]
	if !ok {
		return nil, fmt.Errorf("no active session for interview %q", interviewID)
	}
	return as, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// sttPrompt biases transcription toward the interview's vocabulary.
func sttPrompt(c interview.Criteria) string {
	switch {
	case c.JobTitle != "" && c.Company != "":
		return fmt.Sprintf("%s interview at %s", c.JobTitle, c.Company)
	case c.JobTitle != "":
		return c.JobTitle + " interview"
	default:
		return ""
	}
}

// vadConfig maps the YAML VAD block onto the detector config.
func vadConfig(cfg config.VADConfig) vad.Config {
	return vad.Config{
		SampleRate:        audio.FormatSTT.SampleRate,
		InitialThreshold:  cfg.InitialThreshold,
		MinThreshold:      cfg.MinThreshold,
		MaxThreshold:      cfg.MaxThreshold,
		NoiseMultiplier:   cfg.NoiseMultiplier,
		CalibrationFrames: cfg.CalibrationFrames,
		SmoothingWindow:   cfg.SmoothingWindow,
		SilenceDuration:   cfg.SilenceDuration(),
		MinSpeechDuration: cfg.MinSpeechDuration(),
		BandFloor:         cfg.BandFloor,
	}
}

// ─── Peer device ─────────────────────────────────────────────────────────────

// peerDevice adapts a negotiated WebRTC connection to the capture device
// abstraction so the orchestrator's media manager can own it like a local
// microphone.
type peerDevice struct {
	conn *webrtc.Connection
}

func newPeerDevice(conn *webrtc.Connection) *peerDevice {
	return &peerDevice{conn: conn}
}

func (d *peerDevice) Open(_ context.Context) (audio.Stream, error) {
	if d.conn.State() != webrtc.StateConnected {
		return nil, &audio.DeviceAccessError{
			Reason: audio.AccessNotFound,
			Err:    fmt.Errorf("peer connection is %s", d.conn.State()),
		}
	}
	return &peerStream{conn: d.conn}, nil
}

// peerStream exposes the connection's input as a capture stream. The frames
// channel closes when the peer disconnects; Close is a no-op because the
// connection lifetime belongs to the signaling layer.
type peerStream struct {
	conn *webrtc.Connection
}

func (s *peerStream) Frames() <-chan audio.AudioFrame { return s.conn.InputStream() }

func (s *peerStream) Close() error { return nil }
