// Package conversation implements the assistant protocol that turns one user
// utterance into one character reply.
//
// A reply runs through a fixed sequence against the session's thread: bind the
// thread (created on first use), append the user message, start a run, poll
// the run until it reaches a terminal status, and read the newest assistant
// message. A failed run is restarted on the same thread without re-appending
// the message, up to a fixed attempt budget. Polling has no upper bound of its
// own; callers that need one cancel the context.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/charactercall/internal/observe"
	"github.com/MrWong99/charactercall/pkg/provider/assistant"
)

// ErrAssistantRunFailed is returned by [Client.Reply] when every run attempt
// ended in a failed status.
var ErrAssistantRunFailed = errors.New("conversation: assistant run failed")

const (
	// DefaultPollInterval is the delay between two run status checks.
	DefaultPollInterval = time.Second

	// DefaultMaxAttempts is the total number of runs started per reply.
	DefaultMaxAttempts = 3
)

// Sleeper suspends the poll loop between two status checks. It returns early
// with the context's error when ctx is cancelled.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real-time [Sleeper].
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Reply is the outcome of one [Client.Reply] call.
type Reply struct {
	// Text is the newest assistant message with its segments joined by a
	// single space. Empty when the thread holds no assistant message.
	Text string

	// ThreadID is the thread the reply was produced on.
	ThreadID string

	// RunID identifies the run that completed.
	RunID string

	// Attempts is the number of runs started, including the completed one.
	Attempts int
}

// Option configures a [Client].
type Option func(*Client)

// WithPollInterval sets the delay between run status checks.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithMaxAttempts sets the total number of runs started per reply.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithSleeper replaces the poll delay. Tests use it to step through status
// sequences without waiting.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		if s != nil {
			c.sleep = s
		}
	}
}

// WithMetrics records reply latency and run outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client drives the assistant protocol over an [assistant.Provider].
type Client struct {
	provider     assistant.Provider
	pollInterval time.Duration
	maxAttempts  int
	sleep        Sleeper
	metrics      *observe.Metrics
}

// NewClient returns a Client over p.
func NewClient(p assistant.Provider, opts ...Option) (*Client, error) {
	if p == nil {
		return nil, errors.New("conversation: assistant provider must not be nil")
	}
	c := &Client{
		provider:     p,
		pollInterval: DefaultPollInterval,
		maxAttempts:  DefaultMaxAttempts,
		sleep:        Sleep,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Reply posts prompt to the session's thread and returns the character's
// answer. The first successful call creates the thread and binds it to the
// session; later calls reuse it.
func (c *Client) Reply(ctx context.Context, s *Session, prompt string) (Reply, error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "conversation.reply")
	reply, err := c.reply(ctx, s, prompt)
	observe.EndSpan(span, err)
	if c.metrics != nil {
		c.metrics.AssistantDuration.Record(ctx, time.Since(start).Seconds())
	}
	return reply, err
}

func (c *Client) reply(ctx context.Context, s *Session, prompt string) (Reply, error) {
	threadID, err := c.bindThread(ctx, s)
	if err != nil {
		return Reply{}, err
	}
	if err := c.provider.AppendMessage(ctx, threadID, assistant.RoleUser, prompt); err != nil {
		return Reply{ThreadID: threadID}, fmt.Errorf("conversation: append message: %w", err)
	}

	var last assistant.Run
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		run, err := c.provider.StartRun(ctx, threadID, s.AssistantID())
		if err != nil {
			return Reply{ThreadID: threadID}, fmt.Errorf("conversation: start run: %w", err)
		}
		run, err = c.await(ctx, threadID, run)
		if err != nil {
			return Reply{ThreadID: threadID}, err
		}
		c.recordRun(ctx, run.Status)
		last = run

		if run.Status == assistant.RunCompleted {
			text, err := c.latestReply(ctx, threadID)
			if err != nil {
				return Reply{ThreadID: threadID}, err
			}
			return Reply{Text: text, ThreadID: threadID, RunID: run.ID, Attempts: attempt}, nil
		}
		observe.Logger(ctx).Warn("assistant run failed",
			"thread_id", threadID,
			"run_id", run.ID,
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"last_error", run.LastError)
	}
	return Reply{ThreadID: threadID}, fmt.Errorf("%w after %d attempts (run %s: %s)",
		ErrAssistantRunFailed, c.maxAttempts, last.ID, last.LastError)
}

// bindThread returns the session's thread, creating and binding one when the
// session has none yet.
func (c *Client) bindThread(ctx context.Context, s *Session) (string, error) {
	if id := s.ThreadID(); id != "" {
		return id, nil
	}
	id, err := c.provider.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("conversation: create thread: %w", err)
	}
	if err := s.BindThread(id); err != nil {
		return "", err
	}
	slog.Debug("assistant thread bound", "thread_id", id, "assistant_id", s.AssistantID())
	return id, nil
}

// await polls run until it reaches a terminal status.
func (c *Client) await(ctx context.Context, threadID string, run assistant.Run) (assistant.Run, error) {
	for !run.Status.Terminal() {
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return run, fmt.Errorf("conversation: poll run %s: %w", run.ID, err)
		}
		next, err := c.provider.GetRun(ctx, threadID, run.ID)
		if err != nil {
			return run, fmt.Errorf("conversation: poll run %s: %w", run.ID, err)
		}
		run = next
	}
	return run, nil
}

// latestReply returns the text of the newest assistant message on the thread.
func (c *Client) latestReply(ctx context.Context, threadID string) (string, error) {
	msgs, err := c.provider.ListMessages(ctx, threadID)
	if err != nil {
		return "", fmt.Errorf("conversation: list messages: %w", err)
	}
	latest, ok := LatestAssistantMessage(msgs)
	if !ok {
		observe.Logger(ctx).Debug("completed run left no assistant message", "thread_id", threadID)
		return "", nil
	}
	return strings.Join(latest.Text, " "), nil
}

func (c *Client) recordRun(ctx context.Context, status assistant.RunStatus) {
	if c.metrics != nil {
		c.metrics.RecordRunAttempt(ctx, status.String())
	}
}

// LatestAssistantMessage returns the assistant-authored message with the
// newest CreatedAt. Equal timestamps are ordered by Seq, highest first.
func LatestAssistantMessage(msgs []assistant.Message) (assistant.Message, bool) {
	var own []assistant.Message
	for _, m := range msgs {
		if m.Role == assistant.RoleAssistant {
			own = append(own, m)
		}
	}
	if len(own) == 0 {
		return assistant.Message{}, false
	}
	return slices.MaxFunc(own, func(a, b assistant.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return a.Seq - b.Seq
	}), true
}
