// Package assistant defines the Provider interface for stateful assistant
// backends: a server-side persona (the assistant), conversation threads that
// accumulate messages, and asynchronous runs that produce the next reply.
//
// The protocol is deliberately low level. Thread binding, polling, and the
// retry budget for failed runs live in internal/conversation; providers only
// translate single calls and never retry.
//
// Implementations must be safe for concurrent use.
package assistant

import (
	"context"
	"time"
)

// Role identifies the author of a thread message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// RunStatus is the normalised state of an assistant run.
type RunStatus int

const (
	// RunQueued means the run has been accepted but not started.
	RunQueued RunStatus = iota

	// RunInProgress means the model is working. Providers also map
	// intermediate states such as "requires_action" and "cancelling" here.
	RunInProgress

	// RunCompleted means the reply has been appended to the thread.
	RunCompleted

	// RunFailed covers every terminal non-success state (failed, cancelled,
	// expired, incomplete).
	RunFailed
)

// String returns the human-readable name of the status.
func (s RunStatus) String() string {
	switch s {
	case RunQueued:
		return "QUEUED"
	case RunInProgress:
		return "IN_PROGRESS"
	case RunCompleted:
		return "COMPLETED"
	case RunFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further status change will occur.
func (s RunStatus) Terminal() bool { return s == RunCompleted || s == RunFailed }

// Run is one execution of an assistant over a thread.
type Run struct {
	ID     string
	Status RunStatus

	// LastError carries the provider's failure description for failed runs.
	LastError string
}

// Message is one entry of a thread.
type Message struct {
	ID   string
	Role Role

	// Text holds the message's text segments in order. Non-text content
	// (images, files) is omitted.
	Text []string

	// CreatedAt is the provider timestamp. The zero value sorts first.
	CreatedAt time.Time

	// Seq is the message's position in chronological list order. It breaks
	// ties between messages sharing a CreatedAt second.
	Seq int
}

// Spec describes a persona to create with [Provider.CreateAssistant].
type Spec struct {
	Name         string
	Instructions string
	Model        string
}

// Provider is the abstraction over any assistant backend.
type Provider interface {
	// CreateAssistant registers a persona and returns its id.
	CreateAssistant(ctx context.Context, spec Spec) (string, error)

	// CreateThread opens a new, empty conversation thread.
	CreateThread(ctx context.Context) (string, error)

	// AppendMessage adds a message to threadID.
	AppendMessage(ctx context.Context, threadID string, role Role, text string) error

	// StartRun asks assistantID to process threadID.
	StartRun(ctx context.Context, threadID, assistantID string) (Run, error)

	// GetRun returns the current state of runID.
	GetRun(ctx context.Context, threadID, runID string) (Run, error)

	// ListMessages returns every message of threadID in chronological order,
	// with Seq set to the list position.
	ListMessages(ctx context.Context, threadID string) ([]Message, error)
}
