package app

import (
	"context"
	"log/slog"

	"github.com/MrWong99/charactercall/internal/config"
	"github.com/MrWong99/charactercall/internal/observe"
	"github.com/MrWong99/charactercall/internal/resilience"
)

// Guard wraps the transcription, synthesis, and assistant providers in
// circuit breakers tuned by rc. It returns the wrapped providers and the
// breakers, for readiness checks. Optional providers are passed through.
func Guard(p *Providers, rc config.ResilienceConfig, m *observe.Metrics) (*Providers, []*resilience.CircuitBreaker) {
	newBreaker := func(name string) *resilience.CircuitBreaker {
		return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         name,
			MaxFailures:  rc.MaxFailures,
			ResetTimeout: rc.ResetTimeout,
			HalfOpenMax:  rc.HalfOpenMax,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("circuit breaker state change", "breaker", name, "from", from, "to", to)
				if m != nil {
					m.RecordBreakerTransition(context.Background(), name, to.String())
				}
			},
		})
	}

	sttCB := newBreaker("stt")
	ttsCB := newBreaker("tts")
	asstCB := newBreaker("assistant")

	guarded := *p
	guarded.STT = resilience.NewGuardedSTT(p.STT, sttCB)
	guarded.TTS = resilience.NewGuardedTTS(p.TTS, ttsCB)
	guarded.Assistant = resilience.NewGuardedAssistant(p.Assistant, asstCB)
	return &guarded, []*resilience.CircuitBreaker{sttCB, ttsCB, asstCB}
}
