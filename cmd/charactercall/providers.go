package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/charactercall/internal/app"
	"github.com/MrWong99/charactercall/internal/config"
	"github.com/MrWong99/charactercall/pkg/provider/assistant"
	assistantoai "github.com/MrWong99/charactercall/pkg/provider/assistant/openai"
	"github.com/MrWong99/charactercall/pkg/provider/image"
	imageoai "github.com/MrWong99/charactercall/pkg/provider/image/openai"
	"github.com/MrWong99/charactercall/pkg/provider/llm"
	"github.com/MrWong99/charactercall/pkg/provider/llm/anyllm"
	llmoai "github.com/MrWong99/charactercall/pkg/provider/llm/openai"
	"github.com/MrWong99/charactercall/pkg/provider/stt"
	sttoai "github.com/MrWong99/charactercall/pkg/provider/stt/openai"
	"github.com/MrWong99/charactercall/pkg/provider/stt/whisper"
	"github.com/MrWong99/charactercall/pkg/provider/tts"
	ttsoai "github.com/MrWong99/charactercall/pkg/provider/tts/openai"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttoai.Option
		if entry.Model != "" {
			opts = append(opts, sttoai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, sttoai.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, sttoai.WithLanguage(lang))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, sttoai.WithTimeout(d))
		}
		return sttoai.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsoai.Option
		if entry.Model != "" {
			opts = append(opts, ttsoai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, ttsoai.WithBaseURL(entry.BaseURL))
		}
		if speed := optFloat(entry.Options, "speed"); speed > 0 {
			opts = append(opts, ttsoai.WithSpeed(speed))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, ttsoai.WithTimeout(d))
		}
		return ttsoai.New(entry.APIKey, opts...)
	})

	// ── Assistant ─────────────────────────────────────────────────────────────

	reg.RegisterAssistant("openai", func(entry config.ProviderEntry) (assistant.Provider, error) {
		var opts []assistantoai.Option
		if entry.BaseURL != "" {
			opts = append(opts, assistantoai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, assistantoai.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, assistantoai.WithTimeout(d))
		}
		return assistantoai.New(entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai talks to the chat completions API directly; every other backend
	// goes through any-llm.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []llmoai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmoai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, llmoai.WithOrganization(org))
		}
		return llmoai.New(entry.APIKey, entry.Model, opts...)
	})
	for _, backend := range anyllm.Backends() {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ── Image ─────────────────────────────────────────────────────────────────

	reg.RegisterImage("openai", func(entry config.ProviderEntry) (image.Provider, error) {
		var opts []imageoai.Option
		if entry.Model != "" {
			opts = append(opts, imageoai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, imageoai.WithBaseURL(entry.BaseURL))
		}
		if size := optString(entry.Options, "size"); size != "" {
			opts = append(opts, imageoai.WithSize(size))
		}
		if q := optString(entry.Options, "quality"); q != "" {
			opts = append(opts, imageoai.WithQuality(q))
		}
		if s := optString(entry.Options, "style"); s != "" {
			opts = append(opts, imageoai.WithStyle(s))
		}
		return imageoai.New(entry.APIKey, opts...)
	})
}

// buildProviders instantiates the providers named in cfg. Transcription,
// synthesis, and the assistant are required; a failing optional provider is
// logged and left out.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	var err error

	if ps.STT, err = reg.CreateSTT(cfg.Providers.STT); err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	if ps.TTS, err = reg.CreateTTS(cfg.Providers.TTS); err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)

	if ps.Assistant, err = reg.CreateAssistant(cfg.Providers.Assistant); err != nil {
		return nil, fmt.Errorf("create assistant provider %q: %w", cfg.Providers.Assistant.Name, err)
	}
	slog.Info("provider created", "kind", "assistant", "name", cfg.Providers.Assistant.Name)

	if entry := cfg.Providers.LLM; entry.Configured() {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			logOptional("llm", entry.Name, err)
		} else {
			ps.LLM = p
			slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model)
		}
	}

	if entry := cfg.Providers.Image; entry.Configured() {
		p, err := reg.CreateImage(entry)
		if err != nil {
			logOptional("image", entry.Name, err)
		} else {
			ps.Image = p
			slog.Info("provider created", "kind", "image", "name", entry.Name)
		}
	}

	return ps, nil
}

func logOptional(kind, name string, err error) {
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not available, skipping", "kind", kind, "name", name)
		return
	}
	slog.Warn("optional provider failed, continuing without it", "kind", kind, "name", name, "err", err)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║     charactercall: startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Assistant", cfg.Providers.Assistant.Name, cfg.Conversation.AssistantModel)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("Image", cfg.Providers.Image.Name, cfg.Providers.Image.Model)
	fmt.Printf("║  Credentials     : %-19s ║\n", cfg.Credentials.Backend)
	fmt.Printf("║  Record timeout  : %-19s ║\n", cfg.Conversation.RecordTimeout)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a number from a provider Options map. YAML integers are
// accepted too.
func optFloat(opts map[string]any, key string) float64 {
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// optDuration parses a duration string such as "45s" from a provider
// Options map. Invalid values are logged and ignored.
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid provider option", "key", key, "value", s, "err", err)
		return 0
	}
	return d
}
