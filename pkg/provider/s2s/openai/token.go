package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prepvox/prepvox/pkg/provider/s2s"
)

const defaultMintURL = "https://api.openai.com/v1/realtime/sessions"

// WithMintURL overrides the REST endpoint used to mint ephemeral client
// secrets. Primarily used in tests to point at a local mock server.
func WithMintURL(url string) Option {
	return func(p *Provider) { p.mintURL = url }
}

// WithHTTPClient overrides the HTTP client used for REST calls such as
// MintClientSecret.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// ClientSecret is a short-lived credential scoped to a single realtime
// session. The browser connects to the provider directly with Value instead
// of the server's standing API key.
type ClientSecret struct {
	// Value is the bearer token for the realtime connection.
	Value string

	// ExpiresAt is when the secret stops being accepted.
	ExpiresAt time.Time

	// SessionID is the provider-side session identifier.
	SessionID string
}

// mintRequest mirrors the POST /v1/realtime/sessions body. The field set
// matches sessionParams so a minted session starts with the same voice,
// persona and turn-detection settings a server-side Connect would use.
type mintRequest struct {
	Model              string              `json:"model"`
	Voice              string              `json:"voice,omitempty"`
	Instructions       string              `json:"instructions,omitempty"`
	InputAudioFormat   string              `json:"input_audio_format"`
	OutputAudioFormat  string              `json:"output_audio_format"`
	InputTranscription *transcriptionCfg   `json:"input_audio_transcription,omitempty"`
	TurnDetection      *turnDetectionParam `json:"turn_detection,omitempty"`
}

type mintResponse struct {
	ID           string `json:"id"`
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// MintClientSecret creates a provider session via the REST API and returns
// its ephemeral client secret. The secret lets a browser establish the
// realtime connection itself, so the standing API key never leaves the
// server.
//
// cfg carries the same session settings as Connect: voice, persona
// instructions, input transcription and server-VAD turn detection.
func (p *Provider) MintClientSecret(ctx context.Context, cfg s2s.SessionConfig) (ClientSecret, error) {
	body := mintRequest{
		Model:             p.model,
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}
	if cfg.InputTranscription != "" {
		body.InputTranscription = &transcriptionCfg{Model: cfg.InputTranscription}
	}
	if td := cfg.TurnDetection; td != nil {
		body.TurnDetection = &turnDetectionParam{
			Type:              "server_vad",
			Threshold:         td.Threshold,
			PrefixPaddingMs:   td.PrefixPaddingMs,
			SilenceDurationMs: td.SilenceDurationMs,
			CreateResponse:    td.CreateResponse,
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return ClientSecret{}, fmt.Errorf("openai: marshal mint request: %w", err)
	}

	url := p.mintURL
	if url == "" {
		url = defaultMintURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return ClientSecret{}, fmt.Errorf("openai: mint request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OpenAI-Beta", "realtime=v1")

	client := p.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return ClientSecret{}, fmt.Errorf("openai: mint session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ClientSecret{}, fmt.Errorf("openai: mint session: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var parsed mintResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ClientSecret{}, fmt.Errorf("openai: decode mint response: %w", err)
	}
	if parsed.ClientSecret.Value == "" {
		return ClientSecret{}, fmt.Errorf("openai: mint response missing client secret")
	}

	return ClientSecret{
		Value:     parsed.ClientSecret.Value,
		ExpiresAt: time.Unix(parsed.ClientSecret.ExpiresAt, 0),
		SessionID: parsed.ID,
	}, nil
}
