package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/charactercall/internal/credential"
)

// OpenCredentialStore opens the store selected by c.
func OpenCredentialStore(c CredentialsConfig) (credential.Store, error) {
	switch c.Backend {
	case CredentialsBadger:
		return credential.NewBadger(credential.BadgerOptions{Dir: c.Dir})
	case CredentialsMemory, "":
		return credential.NewMemory(nil), nil
	default:
		return nil, fmt.Errorf("config: unknown credentials backend %q", c.Backend)
	}
}

// ResolveCredentials fills the empty api_key of every configured provider
// from store. Providers whose credential is missing keep an empty key and
// fail at construction with a provider-specific error.
func ResolveCredentials(ctx context.Context, cfg *Config, store credential.Store) error {
	entries := []struct {
		kind  string
		entry *ProviderEntry
	}{
		{"stt", &cfg.Providers.STT},
		{"tts", &cfg.Providers.TTS},
		{"assistant", &cfg.Providers.Assistant},
		{"llm", &cfg.Providers.LLM},
		{"image", &cfg.Providers.Image},
	}
	for _, e := range entries {
		if !e.entry.Configured() || e.entry.APIKey != "" {
			continue
		}
		name := e.entry.Credential
		if name == "" {
			name = DefaultCredential
		}
		key, err := store.Get(ctx, name)
		switch {
		case errors.Is(err, credential.ErrNotFound):
			slog.Debug("no stored credential for provider", "kind", e.kind, "credential", name)
		case err != nil:
			return fmt.Errorf("config: resolve %s credential %q: %w", e.kind, name, err)
		default:
			e.entry.APIKey = key
		}
	}
	return nil
}
