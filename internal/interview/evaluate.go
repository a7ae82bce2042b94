package interview

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// defaultEvaluateTimeout bounds the trigger request. Evaluation itself runs
// asynchronously server-side; this only covers the kick-off.
const defaultEvaluateTimeout = 10 * time.Second

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithEvaluatorClient overrides the HTTP client.
func WithEvaluatorClient(client *http.Client) EvaluatorOption {
	return func(e *Evaluator) {
		e.client = client
	}
}

// WithEvaluatorLogger sets the logger. Defaults to slog.Default.
func WithEvaluatorLogger(log *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		e.log = log
	}
}

// Evaluator kicks off post-interview evaluation on the backend. The trigger
// is opaque: the response body carries the evaluation job details but the
// session layer has no use for them, so it is drained and discarded.
type Evaluator struct {
	baseURL string
	token   string
	client  *http.Client
	log     *slog.Logger
}

// NewEvaluator creates an evaluator against baseURL, authenticating with
// the bearer token.
func NewEvaluator(baseURL, token string, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: defaultEvaluateTimeout},
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Trigger requests evaluation of the given interview. Returns an error when
// the backend does not accept the request; the body is never inspected.
func (e *Evaluator) Trigger(ctx context.Context, interviewID string) error {
	url := fmt.Sprintf("%s/interviews/%s/evaluate", e.baseURL, interviewID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("interview: build evaluate request: %w", err)
	}
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("interview: trigger evaluation: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("interview: trigger evaluation: unexpected status %d", resp.StatusCode)
	}
	e.log.Info("evaluation triggered", "interview_id", interviewID)
	return nil
}
