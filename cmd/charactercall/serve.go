package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/charactercall/internal/app"
	"github.com/MrWong99/charactercall/internal/config"
	"github.com/MrWong99/charactercall/internal/health"
	"github.com/MrWong99/charactercall/internal/observe"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the call server",
		Long: `Run the HTTP server. Browsers connect to /ws/session?character=<name>.

The config file is watched: log level and conversation settings apply
without a restart, other changes are logged and need one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, path)
		},
	}
}

func serve(parent context.Context, cfg *config.Config, path string) error {
	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(newLogger(&level))

	slog.Info("charactercall starting",
		"config", path,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Credentials ───────────────────────────────────────────────────────────
	store, err := config.OpenCredentialStore(cfg.Credentials)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	resolved := *cfg
	if err := config.ResolveCredentials(ctx, &resolved, store); err != nil {
		store.Close()
		return err
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(&resolved, reg)
	if err != nil {
		store.Close()
		return err
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "charactercall"})
	if err != nil {
		store.Close()
		return fmt.Errorf("init telemetry: %w", err)
	}
	metrics := observe.DefaultMetrics()

	var checkers []health.Checker
	for _, name := range storedCredentials(cfg) {
		checkers = append(checkers, health.Credential(store, name))
	}

	printStartupSummary(cfg)

	application, err := app.New(&resolved, providers,
		app.WithMetrics(metrics),
		app.WithMetricsHandler(telemetry.MetricsHandler()),
		app.WithCheckers(checkers...),
		app.WithCloser(store.Close),
		app.WithCloser(func() error {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return telemetry.Shutdown(sctx)
		}),
	)
	if err != nil {
		store.Close()
		return fmt.Errorf("initialise application: %w", err)
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(path, func(_, next *config.Config, diff config.ConfigDiff) {
		if diff.LogLevelChanged {
			level.Set(diff.NewLogLevel.SlogLevel())
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if diff.ConversationChanged {
			application.UpdateConversation(next.Conversation)
			slog.Info("conversation settings reloaded, applying to new calls")
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// storedCredentials lists the credential entries the configured providers
// read from the store, without duplicates.
func storedCredentials(cfg *config.Config) []string {
	entries := []config.ProviderEntry{
		cfg.Providers.STT, cfg.Providers.TTS, cfg.Providers.Assistant,
		cfg.Providers.LLM, cfg.Providers.Image,
	}
	var names []string
	seen := make(map[string]bool)
	for _, e := range entries {
		if !e.Configured() || e.APIKey != "" || !needsKey(e.Name) {
			continue
		}
		name := e.Credential
		if name == "" {
			name = config.DefaultCredential
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// needsKey reports whether provider name authenticates with an API key.
func needsKey(name string) bool {
	switch name {
	case "whisper", "ollama", "llamacpp", "llamafile":
		return false
	}
	return true
}
