package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":       {"openai", "whisper"},
	"tts":       {"openai"},
	"assistant": {"openai"},
	"llm":       {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"image":     {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults, and validates
// the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Conversation.PollInterval == 0 {
		cfg.Conversation.PollInterval = DefaultPollInterval
	}
	if cfg.Conversation.MaxRunAttempts == 0 {
		cfg.Conversation.MaxRunAttempts = DefaultMaxRunAttempts
	}
	if cfg.Conversation.RecordTimeout == 0 {
		cfg.Conversation.RecordTimeout = DefaultRecordTimeout
	}
	if cfg.Credentials.Backend == "" {
		cfg.Credentials.Backend = CredentialsMemory
	}
	if cfg.Credentials.TTL == 0 {
		cfg.Credentials.TTL = DefaultCredentialTTL
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers: the turn loop cannot run without these three.
	required := []struct {
		kind  string
		entry ProviderEntry
	}{
		{"stt", cfg.Providers.STT},
		{"tts", cfg.Providers.TTS},
		{"assistant", cfg.Providers.Assistant},
	}
	for _, req := range required {
		if !req.entry.Configured() {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", req.kind))
		}
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("assistant", cfg.Providers.Assistant.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("image", cfg.Providers.Image.Name)
	if cfg.Providers.STT.Name == "whisper" && cfg.Providers.STT.BaseURL == "" {
		errs = append(errs, errors.New("providers.stt.base_url is required for the whisper server"))
	}
	if !cfg.Providers.LLM.Configured() {
		slog.Warn("no LLM provider configured; characters will use the default voice")
	}

	// Conversation
	c := cfg.Conversation
	if c.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("conversation.poll_interval %s must not be negative", c.PollInterval))
	}
	if c.MaxRunAttempts < 0 {
		errs = append(errs, fmt.Errorf("conversation.max_run_attempts %d must not be negative", c.MaxRunAttempts))
	}
	if c.RecordTimeout < 0 {
		errs = append(errs, fmt.Errorf("conversation.record_timeout %s must not be negative", c.RecordTimeout))
	}
	if c.Voice != "" && !c.Voice.IsValid() {
		errs = append(errs, fmt.Errorf("conversation.voice: %w", c.Voice.Validate()))
	}

	// Credentials
	if b := cfg.Credentials.Backend; b != "" && !b.IsValid() {
		errs = append(errs, fmt.Errorf("credentials.backend %q is invalid; valid values: memory, badger", b))
	}
	if cfg.Credentials.Backend == CredentialsBadger && cfg.Credentials.Dir == "" {
		errs = append(errs, errors.New("credentials.dir is required for the badger backend"))
	}
	if cfg.Credentials.TTL < 0 {
		errs = append(errs, fmt.Errorf("credentials.ttl %s must not be negative", cfg.Credentials.TTL))
	}

	// Resilience
	r := cfg.Resilience
	if r.MaxFailures < 0 || r.HalfOpenMax < 0 || r.ResetTimeout < 0 {
		errs = append(errs, errors.New("resilience values must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
