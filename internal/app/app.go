// Package app wires the charactercall subsystems into a running server.
//
// New builds the session manager and the HTTP surface from a config and a
// set of providers, Run serves until its context ends, and Shutdown ends
// the live calls and releases everything in order.
//
// For testing, inject doubles via functional options (WithClock,
// WithSleeper, WithMetrics, ...) and serve [App.Handler] with httptest.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/charactercall/internal/config"
	"github.com/MrWong99/charactercall/internal/conversation"
	"github.com/MrWong99/charactercall/internal/health"
	"github.com/MrWong99/charactercall/internal/observe"
	"github.com/MrWong99/charactercall/internal/turn"
	"github.com/MrWong99/charactercall/pkg/audio/wsbridge"
	"github.com/MrWong99/charactercall/pkg/provider/assistant"
	"github.com/MrWong99/charactercall/pkg/provider/image"
	"github.com/MrWong99/charactercall/pkg/provider/llm"
	"github.com/MrWong99/charactercall/pkg/provider/stt"
	"github.com/MrWong99/charactercall/pkg/provider/tts"
)

// readHeaderTimeout bounds request header reads.
const readHeaderTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Populated by the
// command via the config registry.
type Providers struct {
	STT       stt.Provider
	TTS       tts.Provider
	Assistant assistant.Provider

	// LLM and Image are optional casting helpers.
	LLM   llm.Provider
	Image image.Provider
}

func (p *Providers) validate() error {
	if p == nil {
		return errors.New("app: providers are required")
	}
	var errs []error
	if p.STT == nil {
		errs = append(errs, errors.New("stt provider is required"))
	}
	if p.TTS == nil {
		errs = append(errs, errors.New("tts provider is required"))
	}
	if p.Assistant == nil {
		errs = append(errs, errors.New("assistant provider is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// App owns the server's subsystems.
type App struct {
	cfg      *config.Config
	sessions *SessionManager
	health   *health.Handler
	handler  http.Handler
	server   *http.Server

	metrics        *observe.Metrics
	metricsHandler http.Handler
	clock          turn.Clock
	sleeper        conversation.Sleeper
	bridgeOpts     []wsbridge.Option
	checkers       []health.Checker

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for [New].
type Option func(*App)

// WithMetrics records session and provider metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithClock drives every call's record timer with clock.
func WithClock(clock turn.Clock) Option {
	return func(a *App) { a.clock = clock }
}

// WithSleeper replaces the assistant poll delay.
func WithSleeper(s conversation.Sleeper) Option {
	return func(a *App) { a.sleeper = s }
}

// WithBridgeOptions passes extra options to every browser bridge.
func WithBridgeOptions(opts ...wsbridge.Option) Option {
	return func(a *App) { a.bridgeOpts = append(a.bridgeOpts, opts...) }
}

// WithCheckers adds readiness checks to /readyz.
func WithCheckers(checkers ...health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, checkers...) }
}

// WithCloser registers fn to run during Shutdown, after the server stops.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New wraps providers in circuit breakers, builds the session manager, and
// assembles the HTTP routes.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if err := providers.validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if len(cfg.Server.AllowedOrigins) > 0 {
		a.bridgeOpts = append([]wsbridge.Option{wsbridge.WithOriginPatterns(cfg.Server.AllowedOrigins...)}, a.bridgeOpts...)
	}

	guarded, breakers := Guard(providers, cfg.Resilience, a.metrics)

	sessions, err := NewSessionManager(SessionManagerConfig{
		Providers:    guarded,
		Conversation: cfg.Conversation,
		Metrics:      a.metrics,
		Clock:        a.clock,
		Sleeper:      a.sleeper,
	})
	if err != nil {
		return nil, err
	}
	a.sessions = sessions
	a.health = health.New(append([]health.Checker{health.Breakers(breakers...)}, a.checkers...)...)
	a.handler = a.routes()
	return a, nil
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/session", a.handleSession)
	mux.HandleFunc("GET /sessions", a.handleListSessions)
	mux.HandleFunc("DELETE /sessions/{id}", a.handleEndSession)
	a.health.Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	if a.metrics == nil {
		return mux
	}
	return observe.Middleware(a.metrics)(mux)
}

// Handler returns the server's HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// UpdateConversation applies reloaded conversation settings to new calls.
func (a *App) UpdateConversation(c config.ConversationConfig) {
	a.sessions.UpdateConversation(c)
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

// handleSession upgrades to a WebSocket and runs a call with the character
// named by the "character" query parameter.
func (a *App) handleSession(w http.ResponseWriter, r *http.Request) {
	character := strings.TrimSpace(r.URL.Query().Get("character"))
	if character == "" {
		http.Error(w, "character query parameter is required", http.StatusBadRequest)
		return
	}
	bridge, err := wsbridge.Accept(w, r, a.bridgeOpts...)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	if err := a.sessions.Serve(r.Context(), character, bridge); err != nil {
		observe.Logger(r.Context()).Info("session finished with error", "character", character, "err", err)
	}
}

func (a *App) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(a.sessions.Sessions())
}

func (a *App) handleEndSession(w http.ResponseWriter, r *http.Request) {
	err := a.sessions.End(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, ErrSessionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and blocks until ctx is
// cancelled or the listener fails. On cancellation it returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		if tls := a.cfg.Server.TLS; tls != nil {
			errCh <- a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- a.server.ListenAndServe()
	}()
	slog.Info("http server listening", "addr", a.cfg.Server.ListenAddr, "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends all calls, stops the HTTP server, and runs the registered
// closers. If ctx expires first, the remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", len(a.sessions.Sessions()), "closers", len(a.closers))

		if err := a.sessions.Shutdown(ctx); err != nil {
			slog.Warn("sessions did not end in time", "err", err)
		}
		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
