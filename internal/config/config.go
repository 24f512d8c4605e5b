// Package config provides the configuration schema, loader, and provider
// registry for the charactercall server.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/charactercall/pkg/types"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to its slog level. Unknown and empty levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// CredentialBackend selects where provider credentials are persisted.
type CredentialBackend string

const (
	// CredentialsMemory keeps credentials for the lifetime of the process.
	CredentialsMemory CredentialBackend = "memory"

	// CredentialsBadger persists credentials in a BadgerDB directory.
	CredentialsBadger CredentialBackend = "badger"
)

// IsValid reports whether b is a recognised backend.
func (b CredentialBackend) IsValid() bool {
	return b == CredentialsMemory || b == CredentialsBadger
}

// DefaultCredential is the credential store entry that supplies a provider's
// API key when neither api_key nor credential is set.
const DefaultCredential = "openai"

// Defaults applied by [LoadFromReader] to unset fields.
const (
	DefaultListenAddr     = ":8080"
	DefaultPollInterval   = time.Second
	DefaultMaxRunAttempts = 3
	DefaultRecordTimeout  = 30 * time.Second
	DefaultCredentialTTL  = 30 * 24 * time.Hour
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Conversation ConversationConfig `yaml:"conversation"`
	Credentials  CredentialsConfig  `yaml:"credentials"`
	Resilience   ResilienceConfig   `yaml:"resilience"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It can be changed without a restart.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists host patterns accepted in the Origin header of
	// WebSocket upgrades. Empty means same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation serves each stage.
// Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	STT       ProviderEntry `yaml:"stt"`
	TTS       ProviderEntry `yaml:"tts"`
	Assistant ProviderEntry `yaml:"assistant"`

	// LLM picks voices and describes appearances during casting. Optional.
	LLM ProviderEntry `yaml:"llm"`

	// Image renders character portraits. Optional.
	Image ProviderEntry `yaml:"image"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	// When empty, [ResolveCredentials] fills it from the credential store.
	APIKey string `yaml:"api_key"`

	// Credential names the credential store entry that supplies APIKey.
	// Default: [DefaultCredential].
	Credential string `yaml:"credential"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// Configured reports whether the entry names a provider.
func (e ProviderEntry) Configured() bool { return e.Name != "" }

// ConversationConfig tunes the turn loop of every new session.
type ConversationConfig struct {
	// PollInterval is the delay between assistant run status checks.
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxRunAttempts bounds how many runs are started for one reply.
	MaxRunAttempts int `yaml:"max_run_attempts"`

	// RecordTimeout caps the length of one recording.
	RecordTimeout time.Duration `yaml:"record_timeout"`

	// Voice is used when casting cannot pick one.
	Voice types.Voice `yaml:"voice"`

	// SeedPrompt overrides the introduction prompt. "{name}" is replaced
	// with the character's name.
	SeedPrompt string `yaml:"seed_prompt"`

	// AssistantModel is the model the character's assistant runs on.
	AssistantModel string `yaml:"assistant_model"`
}

// CredentialsConfig selects the credential store.
type CredentialsConfig struct {
	Backend CredentialBackend `yaml:"backend"`

	// Dir is the Badger data directory. Required for the badger backend.
	Dir string `yaml:"dir"`

	// TTL is the lifetime of a stored credential.
	TTL time.Duration `yaml:"ttl"`
}

// ResilienceConfig tunes the circuit breakers wrapped around each provider.
// Zero values select the breaker defaults.
type ResilienceConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}
