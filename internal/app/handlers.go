package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prepvox/prepvox/internal/config"
	"github.com/prepvox/prepvox/internal/interview"
	"github.com/prepvox/prepvox/internal/session/realtime"
	"github.com/prepvox/prepvox/internal/store"
	"github.com/prepvox/prepvox/pkg/provider/s2s"
	oais2s "github.com/prepvox/prepvox/pkg/provider/s2s/openai"
)

// credentialMinter is the optional provider surface for issuing short-lived
// browser credentials. Satisfied by the OpenAI realtime provider.
type credentialMinter interface {
	MintClientSecret(ctx context.Context, cfg s2s.SessionConfig) (oais2s.ClientSecret, error)
}

// sessionRequest is the JSON body shared by the session-mint and start
// endpoints. Zero fields inherit preset and config defaults.
type sessionRequest struct {
	Preset          string   `json:"preset,omitempty"`
	JobTitle        string   `json:"job_title,omitempty"`
	Company         string   `json:"company,omitempty"`
	InterviewType   string   `json:"interview_type,omitempty"`
	Difficulty      string   `json:"difficulty,omitempty"`
	Practice        bool     `json:"practice,omitempty"`
	FocusAreas      []string `json:"focus_areas,omitempty"`
	InterviewerName string   `json:"interviewer_name,omitempty"`
	DurationSeconds int      `json:"duration_seconds,omitempty"`
	Strategy        string   `json:"strategy,omitempty"`
	Voice           string   `json:"voice,omitempty"`
	Resumed         bool     `json:"resumed,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ─── Credential minting ──────────────────────────────────────────────────────

// mintResponse is the JSON body returned by the session-mint endpoint.
type mintResponse struct {
	ClientSecret    string    `json:"client_secret"`
	ExpiresAt       time.Time `json:"expires_at"`
	SessionID       string    `json:"session_id,omitempty"`
	Voice           string    `json:"voice"`
	DurationSeconds int       `json:"duration_seconds"`
}

// handleMintSession issues a short-lived realtime credential for a
// browser-driven session. The persona instructions and turn-detection
// settings are baked into the minted provider session, so the client only
// ever sees the ephemeral secret.
func (a *App) handleMintSession(w http.ResponseWriter, r *http.Request) {
	interviewID := r.PathValue("id")

	var req sessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	minter, ok := a.providers.S2S.(credentialMinter)
	if !ok {
		writeError(w, http.StatusNotImplemented,
			errors.New("configured s2s provider cannot mint client credentials"))
		return
	}

	criteria, voice, duration := a.resolveSession(req)

	secret, err := minter.MintClientSecret(r.Context(), s2s.SessionConfig{
		Voice:              voice,
		Instructions:       interview.SystemPrompt(criteria),
		InputTranscription: inputTranscriptionModel,
		TurnDetection:      realtime.DefaultTurnDetection(),
	})
	if err != nil {
		slog.Error("mint client secret", "interview_id", interviewID, "err", err)
		writeError(w, http.StatusBadGateway, errors.New("could not create realtime session"))
		return
	}

	writeJSON(w, http.StatusCreated, mintResponse{
		ClientSecret:    secret.Value,
		ExpiresAt:       secret.ExpiresAt,
		SessionID:       secret.SessionID,
		Voice:           voice,
		DurationSeconds: int(duration / time.Second),
	})
}

// ─── Server-driven session lifecycle ─────────────────────────────────────────

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	interviewID := r.PathValue("id")

	var req sessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	criteria, voice, duration := a.resolveSession(req)
	err := a.sessions.Start(r.Context(), interviewID, StartRequest{
		Criteria:        criteria,
		DurationSeconds: int(duration / time.Second),
		Strategy:        config.Strategy(req.Strategy),
		Voice:           voice,
		Resumed:         req.Resumed,
	})
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	info, err := a.sessions.Info(interviewID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (a *App) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Pause(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Resume(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEnd finishes an interview. A running server-driven session is
// terminated (its orchestrator reports completion itself); otherwise the
// interview is marked complete directly, covering browser-driven sessions.
func (a *App) handleEnd(w http.ResponseWriter, r *http.Request) {
	interviewID := r.PathValue("id")

	if err := a.sessions.End(interviewID); err == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if a.completion != nil {
		if err := a.completion.Complete(r.Context(), interviewID, "manual"); err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
	}
	if a.evaluator != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := a.evaluator.Trigger(ctx, interviewID); err != nil {
				slog.Warn("evaluation trigger failed", "interview_id", interviewID, "err", err)
			}
		}()
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *App) handleState(w http.ResponseWriter, r *http.Request) {
	info, err := a.sessions.Info(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ─── Transcript append ───────────────────────────────────────────────────────

// transcriptRequest is the JSON body for browser-driven transcript appends.
type transcriptRequest struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

func (a *App) handleTranscript(w http.ResponseWriter, r *http.Request) {
	interviewID := r.PathValue("id")

	if a.transcript == nil {
		writeError(w, http.StatusNotImplemented, errors.New("no transcript store configured"))
		return
	}

	var req transcriptRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	role := store.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	if role != store.RoleUser && role != store.RoleInterviewer {
		writeError(w, http.StatusBadRequest, errors.New(`role must be "user" or "interviewer"`))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, errors.New("text must not be empty"))
		return
	}

	entry := store.TranscriptEntry{
		Role:      role,
		Text:      req.Text,
		Timestamp: time.Now().UTC(),
	}
	if err := a.transcript.Append(r.Context(), interviewID, entry); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if a.metrics != nil {
		a.metrics.RecordTranscriptEntry(r.Context(), string(role))
	}
	w.WriteHeader(http.StatusAccepted)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// resolveSession merges the request with its named preset and the config
// defaults into concrete session parameters.
func (a *App) resolveSession(req sessionRequest) (interview.Criteria, string, time.Duration) {
	var preset *config.PresetConfig
	if req.Preset != "" {
		for i := range a.cfg.Presets {
			if a.cfg.Presets[i].Name == req.Preset {
				preset = &a.cfg.Presets[i]
				break
			}
		}
	}

	criteria := interview.Criteria{
		JobTitle:        req.JobTitle,
		Company:         req.Company,
		InterviewType:   req.InterviewType,
		Difficulty:      req.Difficulty,
		Practice:        req.Practice,
		FocusAreas:      req.FocusAreas,
		InterviewerName: req.InterviewerName,
	}
	voice := req.Voice
	duration := req.DurationSeconds

	if preset != nil {
		if criteria.JobTitle == "" {
			criteria.JobTitle = preset.Position
		}
		if criteria.Personality == "" {
			criteria.Personality = preset.Persona
		}
		if voice == "" {
			voice = preset.Voice.VoiceID
		}
		if duration == 0 {
			duration = preset.DurationSeconds
		}
	}
	if voice == "" {
		voice = a.cfg.Session.Voice
	}

	return criteria, voice, a.sessions.resolveBudget(duration)
}

// decodeBody decodes a JSON request body into v. An empty body is accepted
// and leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
