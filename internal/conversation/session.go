package conversation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/charactercall/pkg/types"
)

// ErrThreadRebind is returned by [Session.BindThread] when the session is
// already bound to a different thread.
var ErrThreadRebind = errors.New("conversation: session already bound to another thread")

// Session holds the assistant state of one character call: the assistant the
// character runs on, the voice it speaks with, and the thread that carries the
// conversation context. The thread is bound lazily by the first successful
// [Client.Reply] and never changes afterwards.
//
// A Session is safe for concurrent use.
type Session struct {
	assistantID string
	voice       types.Voice

	mu       sync.Mutex
	threadID string
}

// NewSession returns a session for assistantID speaking with voice. The
// thread is left unbound.
func NewSession(assistantID string, voice types.Voice) (*Session, error) {
	if assistantID == "" {
		return nil, errors.New("conversation: assistant id must not be empty")
	}
	if err := voice.Validate(); err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}
	return &Session{assistantID: assistantID, voice: voice}, nil
}

// AssistantID returns the assistant the session talks to.
func (s *Session) AssistantID() string { return s.assistantID }

// Voice returns the character's synthesis voice.
func (s *Session) Voice() types.Voice { return s.voice }

// ThreadID returns the bound thread id, or "" before the first reply.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// BindThread binds the session to id. Binding the id the session already
// holds is a no-op; binding a different one fails with [ErrThreadRebind].
func (s *Session) BindThread(id string) error {
	if id == "" {
		return errors.New("conversation: thread id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.threadID {
	case "":
		s.threadID = id
		return nil
	case id:
		return nil
	default:
		return fmt.Errorf("%w: bound to %q, got %q", ErrThreadRebind, s.threadID, id)
	}
}
