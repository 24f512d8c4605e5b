package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/charactercall/pkg/audio"
	"github.com/MrWong99/charactercall/pkg/provider/assistant"
	"github.com/MrWong99/charactercall/pkg/provider/stt"
	"github.com/MrWong99/charactercall/pkg/provider/tts"
	"github.com/MrWong99/charactercall/pkg/types"
)

// execute runs fn through cb and returns its result.
func execute[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var out T
	err := cb.Execute(func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

// ─── STT ──────────────────────────────────────────────────────────────────────

// GuardedSTT implements [stt.Provider] by routing every call through a
// circuit breaker. An open breaker surfaces as a [*stt.TranscriptionError]
// so callers keep a single failure type per stage.
type GuardedSTT struct {
	inner stt.Provider
	cb    *CircuitBreaker
}

var _ stt.Provider = (*GuardedSTT)(nil)

// NewGuardedSTT wraps p with cb.
func NewGuardedSTT(p stt.Provider, cb *CircuitBreaker) *GuardedSTT {
	return &GuardedSTT{inner: p, cb: cb}
}

// Transcribe implements [stt.Provider].
func (g *GuardedSTT) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	text, err := execute(g.cb, func() (string, error) { return g.inner.Transcribe(ctx, clip) })
	if errors.Is(err, ErrCircuitOpen) {
		return "", stt.NewTranscriptionError(g.cb.Name(), err)
	}
	return text, err
}

// ─── TTS ──────────────────────────────────────────────────────────────────────

// GuardedTTS implements [tts.Provider] by routing synthesis through a circuit
// breaker. Invalid voices are rejected before the breaker so they never count
// as provider failures.
type GuardedTTS struct {
	inner tts.Provider
	cb    *CircuitBreaker
}

var _ tts.Provider = (*GuardedTTS)(nil)

// NewGuardedTTS wraps p with cb.
func NewGuardedTTS(p tts.Provider, cb *CircuitBreaker) *GuardedTTS {
	return &GuardedTTS{inner: p, cb: cb}
}

// Synthesize implements [tts.Provider].
func (g *GuardedTTS) Synthesize(ctx context.Context, text string, voice types.Voice) (*tts.Audio, error) {
	if err := voice.Validate(); err != nil {
		return nil, err
	}
	a, err := execute(g.cb, func() (*tts.Audio, error) { return g.inner.Synthesize(ctx, text, voice) })
	if errors.Is(err, ErrCircuitOpen) {
		return nil, tts.NewSynthesisError(g.cb.Name(), err)
	}
	return a, err
}

// ListVoices implements [tts.Provider]. It bypasses the breaker.
func (g *GuardedTTS) ListVoices(ctx context.Context) ([]types.Voice, error) {
	return g.inner.ListVoices(ctx)
}

// ─── Assistant ────────────────────────────────────────────────────────────────

// GuardedAssistant implements [assistant.Provider] with one breaker shared by
// all calls. A failed run is a protocol outcome, not a provider failure, so
// only transport errors count against the breaker.
type GuardedAssistant struct {
	inner assistant.Provider
	cb    *CircuitBreaker
}

var _ assistant.Provider = (*GuardedAssistant)(nil)

// NewGuardedAssistant wraps p with cb.
func NewGuardedAssistant(p assistant.Provider, cb *CircuitBreaker) *GuardedAssistant {
	return &GuardedAssistant{inner: p, cb: cb}
}

// CreateAssistant implements [assistant.Provider].
func (g *GuardedAssistant) CreateAssistant(ctx context.Context, spec assistant.Spec) (string, error) {
	return execute(g.cb, func() (string, error) { return g.inner.CreateAssistant(ctx, spec) })
}

// CreateThread implements [assistant.Provider].
func (g *GuardedAssistant) CreateThread(ctx context.Context) (string, error) {
	return execute(g.cb, func() (string, error) { return g.inner.CreateThread(ctx) })
}

// AppendMessage implements [assistant.Provider].
func (g *GuardedAssistant) AppendMessage(ctx context.Context, threadID string, role assistant.Role, text string) error {
	return g.cb.Execute(func() error { return g.inner.AppendMessage(ctx, threadID, role, text) })
}

// StartRun implements [assistant.Provider].
func (g *GuardedAssistant) StartRun(ctx context.Context, threadID, assistantID string) (assistant.Run, error) {
	return execute(g.cb, func() (assistant.Run, error) { return g.inner.StartRun(ctx, threadID, assistantID) })
}

// GetRun implements [assistant.Provider].
func (g *GuardedAssistant) GetRun(ctx context.Context, threadID, runID string) (assistant.Run, error) {
	return execute(g.cb, func() (assistant.Run, error) { return g.inner.GetRun(ctx, threadID, runID) })
}

// ListMessages implements [assistant.Provider].
func (g *GuardedAssistant) ListMessages(ctx context.Context, threadID string) ([]assistant.Message, error) {
	return execute(g.cb, func() ([]assistant.Message, error) { return g.inner.ListMessages(ctx, threadID) })
}
