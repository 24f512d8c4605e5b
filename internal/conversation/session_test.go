package conversation

import (
	"errors"
	"testing"

	"github.com/MrWong99/charactercall/pkg/types"
)

func TestNewSession_Validates(t *testing.T) {
	if _, err := NewSession("", types.VoiceOnyx); err == nil {
		t.Error("empty assistant id accepted")
	}
	if _, err := NewSession("asst", types.Voice("robot")); !errors.Is(err, types.ErrUnknownVoice) {
		t.Errorf("unknown voice: got %v, want ErrUnknownVoice", err)
	}
	s, err := NewSession("asst", types.VoiceNova)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if s.AssistantID() != "asst" || s.Voice() != types.VoiceNova || s.ThreadID() != "" {
		t.Errorf("session = %+v", s)
	}
}

func TestSession_BindThread(t *testing.T) {
	s, _ := NewSession("asst", types.VoiceOnyx)

	if err := s.BindThread(""); err == nil {
		t.Error("empty thread id accepted")
	}
	if err := s.BindThread("thread_a"); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	if err := s.BindThread("thread_a"); err != nil {
		t.Errorf("rebinding the same id: %v", err)
	}
	if err := s.BindThread("thread_b"); !errors.Is(err, ErrThreadRebind) {
		t.Errorf("rebinding a different id: got %v, want ErrThreadRebind", err)
	}
	if got := s.ThreadID(); got != "thread_a" {
		t.Errorf("ThreadID = %q, want thread_a", got)
	}
}
