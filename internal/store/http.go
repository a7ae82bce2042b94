package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Compile-time interface checks.
var (
	_ TranscriptStore    = (*HTTPStore)(nil)
	_ CompletionNotifier = (*HTTPStore)(nil)
)

// ErrQueueFull is returned by Append when the write queue is saturated. The
// entry is dropped; durability is best-effort by design.
var ErrQueueFull = errors.New("store: transcript queue full")

const (
	defaultQueueSize   = 256
	defaultHTTPTimeout = 10 * time.Second
)

// HTTPStore posts transcript entries and completion updates to the web
// application's interview endpoints:
//
//	POST {base}/interviews/{id}/transcript
//	POST {base}/interviews/{id}/end
//
// Appends are queued and delivered by a background worker; failures are
// logged and not retried. All methods are safe for concurrent use.
type HTTPStore struct {
	base   string
	token  string
	client *http.Client
	log    *slog.Logger

	queue chan queuedEntry
	done  chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup

	// pending counts entries accepted but not yet attempted. Flush waits
	// for it to reach zero.
	mu       sync.Mutex
	pending  int
	idleCond *sync.Cond
}

type queuedEntry struct {
	interviewID string
	entry       TranscriptEntry
}

// HTTPOption configures an HTTPStore.
type HTTPOption func(*HTTPStore)

// WithHTTPClient overrides the HTTP client. Defaults to a client with a
// 10 second timeout.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPStore) { s.client = c }
}

// WithQueueSize sets the append queue depth. Defaults to 256 entries.
func WithQueueSize(n int) HTTPOption {
	return func(s *HTTPStore) {
		if n > 0 {
			s.queue = make(chan queuedEntry, n)
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) HTTPOption {
	return func(s *HTTPStore) { s.log = log }
}

// NewHTTPStore creates an HTTPStore posting to baseURL. token, when
// non-empty, is sent as a bearer token on every request. The returned store
// runs a background delivery worker; call Close when done.
func NewHTTPStore(baseURL, token string, opts ...HTTPOption) *HTTPStore {
	s := &HTTPStore{
		base:   baseURL,
		token:  token,
		client: &http.Client{Timeout: defaultHTTPTimeout},
		log:    slog.Default(),
		queue:  make(chan queuedEntry, defaultQueueSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.idleCond = sync.NewCond(&s.mu)
	s.wg.Add(1)
	go s.deliver()
	return s
}

// Append queues one transcript entry for delivery and returns immediately.
// If the queue is full the entry is dropped and ErrQueueFull returned; the
// audio loop must never block on persistence.
func (s *HTTPStore) Append(_ context.Context, interviewID string, entry TranscriptEntry) error {
	select {
	case <-s.done:
		return errors.New("store: closed")
	default:
	}

	select {
	case s.queue <- queuedEntry{interviewID: interviewID, entry: entry}:
		s.mu.Lock()
		s.pending++
		s.mu.Unlock()
		return nil
	default:
		s.log.Warn("transcript queue full, dropping entry",
			"interview_id", interviewID,
			"role", string(entry.Role),
		)
		return ErrQueueFull
	}
}

// Flush blocks until every queued entry has been attempted, or ctx expires.
func (s *HTTPStore) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	go func() {
		defer close(flushed)
		s.mu.Lock()
		for s.pending > 0 {
			s.idleCond.Wait()
		}
		s.mu.Unlock()
	}()

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("store: flush: %w", ctx.Err())
	}
}

// Complete marks the interview finished. Unlike Append this is a direct,
// synchronous call: completion happens once, at session end, off the audio
// hot path.
func (s *HTTPStore) Complete(ctx context.Context, interviewID string, reason string) error {
	body := map[string]string{"status": "completed", "reason": reason}
	if err := s.post(ctx, fmt.Sprintf("%s/interviews/%s/end", s.base, interviewID), body); err != nil {
		return fmt.Errorf("store: complete interview %s: %w", interviewID, err)
	}
	return nil
}

// Close stops the delivery worker after draining queued entries. Idempotent.
func (s *HTTPStore) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

// deliver is the background worker posting queued entries in order.
func (s *HTTPStore) deliver() {
	defer s.wg.Done()
	for {
		select {
		case q := <-s.queue:
			s.send(q)
		case <-s.done:
			// Drain what is already queued, then exit.
			for {
				select {
				case q := <-s.queue:
					s.send(q)
				default:
					return
				}
			}
		}
	}
}

// send posts one entry. Failures are logged, never retried.
func (s *HTTPStore) send(q queuedEntry) {
	defer func() {
		s.mu.Lock()
		s.pending--
		if s.pending == 0 {
			s.idleCond.Broadcast()
		}
		s.mu.Unlock()
	}()

	body := map[string]string{
		"role":      string(q.entry.Role),
		"message":   q.entry.Text,
		"timestamp": q.entry.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	url := fmt.Sprintf("%s/interviews/%s/transcript", s.base, q.interviewID)
	if err := s.post(context.Background(), url, body); err != nil {
		s.log.Warn("transcript append failed",
			"interview_id", q.interviewID,
			"error", err,
		)
	}
}

// post sends one JSON POST and checks for a 2xx response.
func (s *HTTPStore) post(ctx context.Context, url string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
