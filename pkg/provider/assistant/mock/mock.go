// Package mock provides a scripted, in-memory test double for the
// assistant.Provider interface.
//
// The mock keeps one message list per thread. Each started run follows a
// status script; the first time a run reports RunCompleted, the mock appends
// the next configured reply to the thread as an assistant message, just as
// the real backend does.
//
// Example:
//
//	p := &mock.Provider{
//	    RunScripts: [][]assistant.RunStatus{
//	        {assistant.RunFailed},
//	        {assistant.RunInProgress, assistant.RunCompleted},
//	    },
//	    Reply: "Hi there, who am I speaking with?",
//	}
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/charactercall/pkg/provider/assistant"
)

// AppendCall records a single invocation of AppendMessage.
type AppendCall struct {
	ThreadID string
	Role     assistant.Role
	Text     string
}

// StartRunCall records a single invocation of StartRun.
type StartRunCall struct {
	ThreadID    string
	AssistantID string
}

// GetRunCall records a single invocation of GetRun.
type GetRunCall struct {
	ThreadID string
	RunID    string
}

type runState struct {
	script    []assistant.RunStatus
	pos       int
	completed bool
	threadID  string
}

// Provider is a mock implementation of assistant.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// AssistantID is returned by CreateAssistant. Default: "asst_mock".
	AssistantID string

	// ThreadIDs supplies the id for each CreateThread call in order. When
	// exhausted, ids are generated as "thread_<n>".
	ThreadIDs []string

	// RunScripts holds one status sequence per started run, in StartRun
	// order. GetRun walks the sequence and repeats its last entry. Runs
	// without a script complete on the first GetRun.
	RunScripts [][]assistant.RunStatus

	// Replies supplies the assistant text appended when the n-th run
	// completes. When exhausted, Reply is used.
	Replies []string

	// Reply is the default completion text. An empty reply appends nothing.
	Reply string

	// MessagesResult, if non-nil, is returned by ListMessages instead of the
	// recorded thread.
	MessagesResult []assistant.Message

	// Per-method errors.
	CreateAssistantErr error
	CreateThreadErr    error
	AppendErr          error
	StartRunErr        error
	GetRunErr          error
	ListErr            error

	// --- Call records ---

	CreateAssistantCalls []assistant.Spec
	CreateThreadCalls    int
	AppendCalls          []AppendCall
	StartRunCalls        []StartRunCall
	GetRunCalls          []GetRunCall
	ListCalls            int

	runs       map[string]*runState
	threads    map[string][]assistant.Message
	completed  int
	msgCounter int
}

func (p *Provider) init() {
	if p.runs == nil {
		p.runs = make(map[string]*runState)
	}
	if p.threads == nil {
		p.threads = make(map[string][]assistant.Message)
	}
}

// CreateAssistant implements assistant.Provider.
func (p *Provider) CreateAssistant(_ context.Context, spec assistant.Spec) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CreateAssistantCalls = append(p.CreateAssistantCalls, spec)
	if p.CreateAssistantErr != nil {
		return "", p.CreateAssistantErr
	}
	if p.AssistantID != "" {
		return p.AssistantID, nil
	}
	return "asst_mock", nil
}

// CreateThread implements assistant.Provider.
func (p *Provider) CreateThread(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.init()
	n := p.CreateThreadCalls
	p.CreateThreadCalls++
	if p.CreateThreadErr != nil {
		return "", p.CreateThreadErr
	}
	id := fmt.Sprintf("thread_%d", n+1)
	if n < len(p.ThreadIDs) {
		id = p.ThreadIDs[n]
	}
	p.threads[id] = nil
	return id, nil
}

// AppendMessage implements assistant.Provider.
func (p *Provider) AppendMessage(_ context.Context, threadID string, role assistant.Role, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.init()
	p.AppendCalls = append(p.AppendCalls, AppendCall{ThreadID: threadID, Role: role, Text: text})
	if p.AppendErr != nil {
		return p.AppendErr
	}
	p.appendLocked(threadID, role, text)
	return nil
}

// StartRun implements assistant.Provider.
func (p *Provider) StartRun(_ context.Context, threadID, assistantID string) (assistant.Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.init()
	n := len(p.StartRunCalls)
	p.StartRunCalls = append(p.StartRunCalls, StartRunCall{ThreadID: threadID, AssistantID: assistantID})
	if p.StartRunErr != nil {
		return assistant.Run{}, p.StartRunErr
	}
	rs := &runState{threadID: threadID}
	if n < len(p.RunScripts) {
		rs.script = p.RunScripts[n]
	}
	id := fmt.Sprintf("run_%d", n+1)
	p.runs[id] = rs
	return assistant.Run{ID: id, Status: assistant.RunQueued}, nil
}

// GetRun implements assistant.Provider.
func (p *Provider) GetRun(_ context.Context, threadID, runID string) (assistant.Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.init()
	p.GetRunCalls = append(p.GetRunCalls, GetRunCall{ThreadID: threadID, RunID: runID})
	if p.GetRunErr != nil {
		return assistant.Run{}, p.GetRunErr
	}
	rs, ok := p.runs[runID]
	if !ok {
		return assistant.Run{}, fmt.Errorf("mock: unknown run %q", runID)
	}

	status := assistant.RunCompleted
	if len(rs.script) > 0 {
		status = rs.script[min(rs.pos, len(rs.script)-1)]
		rs.pos++
	}

	run := assistant.Run{ID: runID, Status: status}
	switch status {
	case assistant.RunCompleted:
		if !rs.completed {
			rs.completed = true
			reply := p.Reply
			if p.completed < len(p.Replies) {
				reply = p.Replies[p.completed]
			}
			p.completed++
			if reply != "" {
				p.appendLocked(rs.threadID, assistant.RoleAssistant, reply)
			}
		}
	case assistant.RunFailed:
		run.LastError = "scripted failure"
	}
	return run, nil
}

// ListMessages implements assistant.Provider.
func (p *Provider) ListMessages(_ context.Context, threadID string) ([]assistant.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.init()
	p.ListCalls++
	if p.ListErr != nil {
		return nil, p.ListErr
	}
	if p.MessagesResult != nil {
		return slices.Clone(p.MessagesResult), nil
	}
	return slices.Clone(p.threads[threadID]), nil
}

// Thread returns a copy of the messages recorded for threadID.
func (p *Provider) Thread(threadID string) []assistant.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.threads[threadID])
}

// Reset clears all recorded calls and thread state. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CreateAssistantCalls = nil
	p.CreateThreadCalls = 0
	p.AppendCalls = nil
	p.StartRunCalls = nil
	p.GetRunCalls = nil
	p.ListCalls = 0
	p.runs = nil
	p.threads = nil
	p.completed = 0
	p.msgCounter = 0
}

func (p *Provider) appendLocked(threadID string, role assistant.Role, text string) {
	p.msgCounter++
	msgs := p.threads[threadID]
	p.threads[threadID] = append(msgs, assistant.Message{
		ID:        fmt.Sprintf("msg_%d", p.msgCounter),
		Role:      role,
		Text:      []string{text},
		CreatedAt: time.Unix(int64(p.msgCounter), 0),
		Seq:       len(msgs),
	})
}

// Ensure Provider implements assistant.Provider at compile time.
var _ assistant.Provider = (*Provider)(nil)
