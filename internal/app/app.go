// Package app wires the PrepVox subsystems into a running HTTP server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithTranscriptStore, WithGuard, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/prepvox/prepvox/internal/config"
	"github.com/prepvox/prepvox/internal/guard"
	"github.com/prepvox/prepvox/internal/health"
	"github.com/prepvox/prepvox/internal/interview"
	"github.com/prepvox/prepvox/internal/observe"
	"github.com/prepvox/prepvox/internal/store"
	"github.com/prepvox/prepvox/pkg/audio"
	"github.com/prepvox/prepvox/pkg/audio/vad"
	"github.com/prepvox/prepvox/pkg/audio/webrtc"
	"github.com/prepvox/prepvox/pkg/provider/llm"
	"github.com/prepvox/prepvox/pkg/provider/s2s"
	"github.com/prepvox/prepvox/pkg/provider/stt"
	"github.com/prepvox/prepvox/pkg/provider/tts"
)

// drainTimeout bounds the HTTP server drain during Run teardown.
const drainTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry;
// the LLM slot is typically already wrapped in a resilience fallback chain.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
	S2S s2s.Provider
	VAD vad.Engine
}

// persistence is the combined store surface the app needs from a concrete
// transcript backend. Both store.HTTPStore and store.PGStore satisfy it.
type persistence interface {
	store.TranscriptStore
	store.CompletionNotifier
	Close()
}

// App owns all subsystem lifetimes and serves the interview HTTP API.
type App struct {
	cfg       *config.Config
	providers *Providers

	guard      *guard.Guard
	metrics    *observe.Metrics
	health     *health.Handler
	transcript store.TranscriptStore
	completion store.CompletionNotifier
	evaluator  *interview.Evaluator
	platform   *webrtc.Platform
	signaling  *webrtc.SignalingServer
	sessions   *SessionManager
	srv        *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTranscriptStore injects a transcript store instead of creating one
// from config.
func WithTranscriptStore(ts store.TranscriptStore) Option {
	return func(a *App) { a.transcript = ts }
}

// WithCompletionNotifier injects a completion notifier instead of creating
// one from config.
func WithCompletionNotifier(c store.CompletionNotifier) Option {
	return func(a *App) { a.completion = c }
}

// WithGuard injects a content guard instead of building one from config.
func WithGuard(g *guard.Guard) Option {
	return func(a *App) { a.guard = g }
}

// WithMetrics injects a metrics bundle instead of using the default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithEvaluator injects the post-interview evaluation trigger.
func WithEvaluator(e *interview.Evaluator) Option {
	return func(a *App) { a.evaluator = e }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	if a.guard == nil {
		g, err := guard.FromConfig(cfg.Guard)
		if err != nil {
			return nil, fmt.Errorf("app: build guard: %w", err)
		}
		a.guard = g
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	if a.evaluator == nil && cfg.Store.TranscriptURL != "" {
		a.evaluator = interview.NewEvaluator(cfg.Store.TranscriptURL, cfg.Store.AuthToken)
	}

	a.platform = webrtc.New(webrtc.WithSampleRate(audio.FormatCapture.SampleRate))
	a.signaling = webrtc.NewSignalingServer(a.platform)
	a.closers = append(a.closers, func() error {
		a.signaling.Shutdown()
		return nil
	})

	a.sessions = NewSessionManager(SessionManagerConfig{
		Config:     cfg,
		Providers:  providers,
		Guard:      a.guard,
		Metrics:    a.metrics,
		Transcript: a.transcript,
		Completion: a.completion,
		Signaling:  a.signaling,
		Evaluator:  a.evaluator,
	})
	a.closers = append(a.closers, func() error {
		a.sessions.EndAll()
		return nil
	})

	a.health = health.New(a.healthCheckers()...)

	a.srv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initStore sets up transcript persistence from config unless a store was
// injected. Postgres wins over the HTTP backend when both are configured.
func (a *App) initStore(ctx context.Context) error {
	if a.transcript != nil {
		return nil
	}

	var p persistence
	switch {
	case a.cfg.Store.PostgresDSN != "":
		pg, err := store.NewPGStore(ctx, a.cfg.Store.PostgresDSN)
		if err != nil {
			return err
		}
		p = pg
		slog.Info("transcript store", "backend", "postgres")
	case a.cfg.Store.TranscriptURL != "":
		p = store.NewHTTPStore(a.cfg.Store.TranscriptURL, a.cfg.Store.AuthToken)
		slog.Info("transcript store", "backend", "http", "url", a.cfg.Store.TranscriptURL)
	default:
		slog.Warn("no transcript store configured — transcripts are kept in memory only")
		return nil
	}

	a.transcript = p
	if a.completion == nil {
		a.completion = p
	}
	a.closers = append(a.closers, func() error {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.Flush(flushCtx); err != nil {
			slog.Warn("transcript flush on shutdown", "err", err)
		}
		p.Close()
		return nil
	})
	return nil
}

// healthCheckers builds the readiness checks from the configured subsystems.
func (a *App) healthCheckers() []health.Checker {
	var checkers []health.Checker
	if a.transcript != nil {
		checkers = append(checkers, health.Checker{
			Name:  "transcript-store",
			Check: a.transcript.Flush,
		})
	}
	return checkers
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
// The readiness endpoint reports ok only while Run is active.
func (a *App) Run(ctx context.Context) error {
	a.health.SetReady(true)
	defer a.health.SetReady(false)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.srv.Addr)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := a.srv.Shutdown(drainCtx); err != nil {
			slog.Warn("http server drain", "err", err)
		}
		return ctx.Err()
	})

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Routes ──────────────────────────────────────────────────────────────────

// routes builds the HTTP mux: interview endpoints, WebRTC signaling, health
// probes and the Prometheus scrape endpoint. Everything except /metrics and
// the probes goes through the request metrics middleware.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /interviews/{id}/session", a.handleMintSession)
	mux.HandleFunc("POST /interviews/{id}/start", a.handleStart)
	mux.HandleFunc("POST /interviews/{id}/pause", a.handlePause)
	mux.HandleFunc("POST /interviews/{id}/resume", a.handleResume)
	mux.HandleFunc("POST /interviews/{id}/end", a.handleEnd)
	mux.HandleFunc("POST /interviews/{id}/transcript", a.handleTranscript)
	mux.HandleFunc("GET /interviews/{id}/state", a.handleState)

	// Signaling shares the /interviews prefix; the signaling server carries
	// its own sub-mux keyed on the same patterns.
	sig := a.signaling.Handler()
	mux.Handle("POST /interviews/{interviewID}/signal/offer", sig)
	mux.Handle("POST /interviews/{interviewID}/signal/ice", sig)
	mux.Handle("DELETE /interviews/{interviewID}/signal", sig)

	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(a.metrics)(mux)
}
