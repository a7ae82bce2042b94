package interview

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prepvox/prepvox/pkg/provider/llm"
)

const (
	// historyLimit is how many trailing turns feed each completion. A short
	// window keeps reply latency low; the persona prompt carries the durable
	// context.
	historyLimit = 4

	// replyMaxTokens caps interviewer replies. Voice replies are 1-3
	// sentences, anything longer is the model rambling.
	replyMaxTokens = 80

	// fallbackReply is spoken when every configured model fails. The
	// conversation must never go silent mid-interview.
	fallbackReply = "That's interesting. Can you tell me more about that?"
)

// fallbackGreeting opens the interview when every model fails on the first
// turn.
func fallbackGreeting(c Criteria) string {
	name := c.InterviewerName
	if name == "" {
		name = "your interviewer"
	}
	return "Hi, thanks for coming in. I'm " + name + ". Why don't you start by telling me a bit about yourself?"
}

// ConversationOption configures a Conversation.
type ConversationOption func(*Conversation)

// WithRemaining supplies the session-time source used for the wrap-up
// urgency bands. Nil disables time awareness.
func WithRemaining(fn func() time.Duration) ConversationOption {
	return func(c *Conversation) {
		c.remaining = fn
	}
}

// WithConversationLogger sets the logger. Defaults to slog.Default.
func WithConversationLogger(log *slog.Logger) ConversationOption {
	return func(c *Conversation) {
		c.log = log
	}
}

// Conversation generates interviewer replies for the segmented strategy.
// Providers are tried in order per turn; the first non-empty reply wins, so
// the list doubles as a model-fallback chain. All methods are safe for
// concurrent use.
type Conversation struct {
	providers []llm.Provider
	system    string
	criteria  Criteria
	remaining func() time.Duration
	log       *slog.Logger

	mu      sync.Mutex
	history []llm.Message
}

// NewConversation builds a conversation over the given provider chain. The
// persona prompt is derived from criteria once, up front.
func NewConversation(providers []llm.Provider, criteria Criteria, opts ...ConversationOption) *Conversation {
	c := &Conversation{
		providers: providers,
		system:    SystemPrompt(criteria),
		criteria:  criteria,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Seed preloads conversation history, used when resuming an interview that
// already has transcript turns. Roles must be "user" or "assistant".
func (c *Conversation) Seed(history []llm.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history[:0], history...)
}

// Turns returns the number of turns exchanged so far.
func (c *Conversation) Turns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}

// Opening produces the interviewer's greeting for a fresh interview.
func (c *Conversation) Opening(ctx context.Context) (string, error) {
	prompt := "This is the very first interaction of the interview. Generate a SHORT, natural, professional greeting: " +
		"warm greeting, brief self-introduction, and either light small talk or asking the candidate to introduce themselves. " +
		"2-4 sentences maximum. Return ONLY the greeting text."

	reply := c.complete(ctx, []llm.Message{{Role: "user", Content: prompt}})
	if reply == "" {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		reply = fallbackGreeting(c.criteria)
	}

	c.mu.Lock()
	c.history = append(c.history, llm.Message{Role: "assistant", Content: reply})
	c.mu.Unlock()
	return reply, nil
}

// Respond generates the interviewer's reply to one candidate answer. The
// answer and the reply are both recorded in history. A reply is always
// returned unless ctx is cancelled: total model failure falls back to a
// canned line rather than silence.
func (c *Conversation) Respond(ctx context.Context, userText string) (string, error) {
	c.mu.Lock()
	c.history = append(c.history, llm.Message{Role: "user", Content: userText})
	recent := recentTurns(c.history, historyLimit)
	c.mu.Unlock()

	reply := c.complete(ctx, recent)
	if reply == "" {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		c.log.Warn("all interview models failed, using canned reply")
		reply = fallbackReply
	}

	c.mu.Lock()
	c.history = append(c.history, llm.Message{Role: "assistant", Content: reply})
	c.mu.Unlock()
	return reply, nil
}

// complete walks the provider chain and returns the first non-empty reply,
// or "" when every provider failed.
func (c *Conversation) complete(ctx context.Context, messages []llm.Message) string {
	req := llm.CompletionRequest{
		Messages:     messages,
		MaxTokens:    replyMaxTokens,
		SystemPrompt: c.systemPrompt(),
	}
	for i, p := range c.providers {
		if ctx.Err() != nil {
			return ""
		}
		resp, err := p.Complete(ctx, req)
		if err != nil {
			c.log.Warn("interview model failed", "provider", i, "err", err)
			continue
		}
		if resp == nil {
			continue
		}
		if reply := strings.TrimSpace(resp.Content); reply != "" {
			return reply
		}
		c.log.Warn("interview model returned empty reply", "provider", i)
	}
	return ""
}

// systemPrompt is the persona plus the current urgency note.
func (c *Conversation) systemPrompt() string {
	if c.remaining == nil {
		return c.system
	}
	note := timeAwareness(c.remaining())
	if note == "" {
		return c.system
	}
	return c.system + "\n\n" + note
}

// recentTurns returns the trailing n messages.
func recentTurns(history []llm.Message, n int) []llm.Message {
	if len(history) <= n {
		return append([]llm.Message(nil), history...)
	}
	return append([]llm.Message(nil), history[len(history)-n:]...)
}
