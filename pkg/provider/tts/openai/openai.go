// Package openai implements the tts.Provider interface using OpenAI's speech
// synthesis endpoint.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/prepvox/prepvox/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultModel = "tts-1"
	defaultVoice = "alloy"

	// The PCM response format is fixed at 24 kHz mono int16.
	pcmSampleRate = 24000

	// readChunkSize is the PCM read granularity: 100 ms per chunk.
	readChunkSize = pcmSampleRate * 2 / 10
)

// config holds optional configuration for the provider.
type config struct {
	model   string
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel overrides the synthesis model. Defaults to tts-1.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// New constructs a new OpenAI speech Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Synthesize speaks the text and streams PCM16 chunks at 24 kHz mono.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (<-chan []byte, int, error) {
	if req.Text == "" {
		return nil, 0, fmt.Errorf("openai: empty text")
	}

	voice := req.Voice
	if voice == "" {
		voice = defaultVoice
	}

	params := oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		Input:          req.Text,
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if req.Speed > 0 {
		params.Speed = oai.Float(req.Speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, 0, fmt.Errorf("openai: synthesize: %w", err)
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		for {
			buf := make([]byte, readChunkSize)
			n, err := io.ReadFull(resp.Body, buf)
			if n > 0 {
				select {
				case out <- buf[:n]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return out, pcmSampleRate, nil
}
