package conversation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/charactercall/internal/conversation"
	"github.com/MrWong99/charactercall/pkg/provider/assistant"
	"github.com/MrWong99/charactercall/pkg/provider/assistant/mock"
	"github.com/MrWong99/charactercall/pkg/types"
)

// fakeSleeper records requested delays and returns immediately.
type fakeSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (f *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.delays = append(f.delays, d)
	f.mu.Unlock()
	return ctx.Err()
}

func (f *fakeSleeper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delays)
}

func newSession(t *testing.T) *conversation.Session {
	t.Helper()
	s, err := conversation.NewSession("asst_1", types.VoiceOnyx)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func newClient(t *testing.T, p assistant.Provider, sl *fakeSleeper) *conversation.Client {
	t.Helper()
	c, err := conversation.NewClient(p, conversation.WithSleeper(sl.Sleep))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

// ─── thread binding ──────────────────────────────────────────────────────────

func TestReply_BindsThreadOnce(t *testing.T) {
	p := &mock.Provider{Replies: []string{"one", "two", "three"}}
	c := newClient(t, p, &fakeSleeper{})
	s := newSession(t)
	ctx := context.Background()

	var ids []string
	for _, prompt := range []string{"a", "b", "c"} {
		r, err := c.Reply(ctx, s, prompt)
		if err != nil {
			t.Fatalf("Reply(%q): %v", prompt, err)
		}
		ids = append(ids, r.ThreadID)
	}

	if p.CreateThreadCalls != 1 {
		t.Errorf("CreateThread called %d times, want 1", p.CreateThreadCalls)
	}
	for i, id := range ids {
		if id != ids[0] {
			t.Errorf("turn %d thread = %q, want %q", i, id, ids[0])
		}
	}
	if got := s.ThreadID(); got != ids[0] {
		t.Errorf("session thread = %q, want %q", got, ids[0])
	}
	for _, call := range p.StartRunCalls {
		if call.AssistantID != "asst_1" {
			t.Errorf("run started with assistant %q, want asst_1", call.AssistantID)
		}
	}
}

func TestReply_ReusesPreboundThread(t *testing.T) {
	p := &mock.Provider{Reply: "hi"}
	c := newClient(t, p, &fakeSleeper{})
	s := newSession(t)
	if err := s.BindThread("thread_existing"); err != nil {
		t.Fatalf("BindThread: %v", err)
	}

	r, err := c.Reply(context.Background(), s, "hello")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if r.ThreadID != "thread_existing" || p.CreateThreadCalls != 0 {
		t.Errorf("thread = %q, CreateThread calls = %d", r.ThreadID, p.CreateThreadCalls)
	}
}

func TestReply_CreateThreadErrorLeavesSessionUnbound(t *testing.T) {
	p := &mock.Provider{CreateThreadErr: errors.New("down")}
	c := newClient(t, p, &fakeSleeper{})
	s := newSession(t)

	if _, err := c.Reply(context.Background(), s, "hello"); err == nil {
		t.Fatal("expected error")
	}
	if s.ThreadID() != "" {
		t.Errorf("session bound to %q after failed create", s.ThreadID())
	}
}

// ─── polling & retry ─────────────────────────────────────────────────────────

func TestReply_PollsUntilCompleted(t *testing.T) {
	p := &mock.Provider{
		RunScripts: [][]assistant.RunStatus{{
			assistant.RunQueued, assistant.RunInProgress, assistant.RunCompleted,
		}},
		Reply: "Hi there, who am I speaking with?",
	}
	sl := &fakeSleeper{}
	c := newClient(t, p, sl)

	r, err := c.Reply(context.Background(), newSession(t), "Hello")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if r.Text != "Hi there, who am I speaking with?" {
		t.Errorf("Text = %q", r.Text)
	}
	if got := len(p.GetRunCalls); got != 3 {
		t.Errorf("GetRun called %d times, want 3", got)
	}
	if sl.count() != 3 {
		t.Errorf("slept %d times, want 3", sl.count())
	}
	for _, d := range sl.delays {
		if d != conversation.DefaultPollInterval {
			t.Errorf("poll delay = %v, want %v", d, conversation.DefaultPollInterval)
		}
	}
}

func TestReply_ThreeFailedRunsExhaustBudget(t *testing.T) {
	failed := []assistant.RunStatus{assistant.RunFailed}
	p := &mock.Provider{
		RunScripts: [][]assistant.RunStatus{failed, failed, failed},
		Reply:      "never",
	}
	c := newClient(t, p, &fakeSleeper{})

	_, err := c.Reply(context.Background(), newSession(t), "Hello")
	if !errors.Is(err, conversation.ErrAssistantRunFailed) {
		t.Fatalf("want ErrAssistantRunFailed, got %v", err)
	}
	if got := len(p.StartRunCalls); got != 3 {
		t.Errorf("StartRun called %d times, want 3", got)
	}
	if got := len(p.AppendCalls); got != 1 {
		t.Errorf("AppendMessage called %d times, want 1 (no re-append on retry)", got)
	}
	if p.ListCalls != 0 {
		t.Errorf("ListMessages called %d times, want 0", p.ListCalls)
	}
}

func TestReply_TwoFailuresThenCompleted(t *testing.T) {
	failed := []assistant.RunStatus{assistant.RunInProgress, assistant.RunFailed}
	p := &mock.Provider{
		RunScripts: [][]assistant.RunStatus{failed, failed, {assistant.RunCompleted}},
		Reply:      "third time lucky",
	}
	c := newClient(t, p, &fakeSleeper{})

	r, err := c.Reply(context.Background(), newSession(t), "Hello")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if r.Text != "third time lucky" {
		t.Errorf("Text = %q", r.Text)
	}
	if r.RunID != "run_3" || r.Attempts != 3 {
		t.Errorf("RunID = %q, Attempts = %d, want run_3 / 3", r.RunID, r.Attempts)
	}
	if got := len(p.AppendCalls); got != 1 {
		t.Errorf("AppendMessage called %d times, want 1", got)
	}
}

func TestReply_MaxAttemptsOption(t *testing.T) {
	p := &mock.Provider{RunScripts: [][]assistant.RunStatus{{assistant.RunFailed}}}
	sl := &fakeSleeper{}
	c, err := conversation.NewClient(p,
		conversation.WithSleeper(sl.Sleep),
		conversation.WithMaxAttempts(1),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := c.Reply(context.Background(), newSession(t), "x"); !errors.Is(err, conversation.ErrAssistantRunFailed) {
		t.Fatalf("want ErrAssistantRunFailed, got %v", err)
	}
	if got := len(p.StartRunCalls); got != 1 {
		t.Errorf("StartRun called %d times, want 1", got)
	}
}

func TestReply_CancelledWhilePolling(t *testing.T) {
	p := &mock.Provider{RunScripts: [][]assistant.RunStatus{{assistant.RunInProgress}}}
	c := newClient(t, p, &fakeSleeper{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Reply(ctx, newSession(t), "Hello")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestReply_GetRunErrorIsNotRetried(t *testing.T) {
	p := &mock.Provider{GetRunErr: errors.New("503")}
	c := newClient(t, p, &fakeSleeper{})

	_, err := c.Reply(context.Background(), newSession(t), "Hello")
	if err == nil || errors.Is(err, conversation.ErrAssistantRunFailed) {
		t.Fatalf("want transport error, got %v", err)
	}
	if got := len(p.StartRunCalls); got != 1 {
		t.Errorf("StartRun called %d times, want 1", got)
	}
}

// ─── reply extraction ────────────────────────────────────────────────────────

func TestReply_NoAssistantMessageIsEmptyText(t *testing.T) {
	p := &mock.Provider{}
	c := newClient(t, p, &fakeSleeper{})

	r, err := c.Reply(context.Background(), newSession(t), "Hello")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if r.Text != "" {
		t.Errorf("Text = %q, want empty", r.Text)
	}
}

func TestReply_JoinsSegmentsWithSpace(t *testing.T) {
	p := &mock.Provider{MessagesResult: []assistant.Message{
		{ID: "m1", Role: assistant.RoleUser, Text: []string{"Hello"}, CreatedAt: time.Unix(10, 0)},
		{ID: "m2", Role: assistant.RoleAssistant, Text: []string{"Ahoy,", "matey!"}, CreatedAt: time.Unix(11, 0), Seq: 1},
	}}
	c := newClient(t, p, &fakeSleeper{})

	r, err := c.Reply(context.Background(), newSession(t), "Hello")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if r.Text != "Ahoy, matey!" {
		t.Errorf("Text = %q, want %q", r.Text, "Ahoy, matey!")
	}
}

func TestLatestAssistantMessage(t *testing.T) {
	ts := func(sec int64) time.Time { return time.Unix(sec, 0) }

	tests := []struct {
		name   string
		msgs   []assistant.Message
		wantID string
		wantOK bool
	}{
		{
			name:   "empty",
			wantOK: false,
		},
		{
			name: "only user messages",
			msgs: []assistant.Message{
				{ID: "u1", Role: assistant.RoleUser, CreatedAt: ts(5)},
			},
			wantOK: false,
		},
		{
			name: "newest by timestamp",
			msgs: []assistant.Message{
				{ID: "a2", Role: assistant.RoleAssistant, CreatedAt: ts(20), Seq: 0},
				{ID: "a1", Role: assistant.RoleAssistant, CreatedAt: ts(10), Seq: 1},
				{ID: "u1", Role: assistant.RoleUser, CreatedAt: ts(30), Seq: 2},
			},
			wantID: "a2",
			wantOK: true,
		},
		{
			name: "same second broken by sequence",
			msgs: []assistant.Message{
				{ID: "a1", Role: assistant.RoleAssistant, CreatedAt: ts(10), Seq: 0},
				{ID: "a2", Role: assistant.RoleAssistant, CreatedAt: ts(10), Seq: 2},
				{ID: "a3", Role: assistant.RoleAssistant, CreatedAt: ts(10), Seq: 1},
			},
			wantID: "a2",
			wantOK: true,
		},
		{
			name: "missing timestamps fall back to sequence",
			msgs: []assistant.Message{
				{ID: "a1", Role: assistant.RoleAssistant, Seq: 0},
				{ID: "a2", Role: assistant.RoleAssistant, Seq: 1},
			},
			wantID: "a2",
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := conversation.LatestAssistantMessage(tt.msgs)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", got.ID, tt.wantID)
			}
		})
	}
}

func TestNewClient_NilProvider(t *testing.T) {
	if _, err := conversation.NewClient(nil); err == nil {
		t.Fatal("expected error for nil provider")
	}
}
