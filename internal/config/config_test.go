package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/charactercall/internal/config"
	"github.com/MrWong99/charactercall/pkg/provider/assistant"
	assistantmock "github.com/MrWong99/charactercall/pkg/provider/assistant/mock"
	"github.com/MrWong99/charactercall/pkg/provider/image"
	imagemock "github.com/MrWong99/charactercall/pkg/provider/image/mock"
	"github.com/MrWong99/charactercall/pkg/provider/llm"
	llmmock "github.com/MrWong99/charactercall/pkg/provider/llm/mock"
	"github.com/MrWong99/charactercall/pkg/provider/stt"
	sttmock "github.com/MrWong99/charactercall/pkg/provider/stt/mock"
	"github.com/MrWong99/charactercall/pkg/provider/tts"
	ttsmock "github.com/MrWong99/charactercall/pkg/provider/tts/mock"
	"github.com/MrWong99/charactercall/pkg/types"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9000"
  log_level: debug
  allowed_origins: ["localhost:*"]

providers:
  stt:
    name: whisper
    base_url: http://localhost:8178
    options:
      language: en
  tts:
    name: openai
    model: tts-1
  assistant:
    name: openai
    credential: openai
  llm:
    name: openai
    model: gpt-3.5-turbo
  image:
    name: openai
    api_key: sk-image

conversation:
  poll_interval: 500ms
  max_run_attempts: 5
  record_timeout: 20s
  voice: fable
  seed_prompt: "You are {name}."
  assistant_model: gpt-4o

credentials:
  backend: badger
  dir: /var/lib/charactercall
  ttl: 24h

resilience:
  max_failures: 3
  reset_timeout: 10s
  half_open_max: 2
`

const minimalYAML = `
providers:
  stt: {name: openai}
  tts: {name: openai}
  assistant: {name: openai}
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── LoadFromReader ───────────────────────────────────────────────────────────

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":9000" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "localhost:*" {
		t.Errorf("allowed_origins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Providers.STT.Name != "whisper" || cfg.Providers.STT.BaseURL != "http://localhost:8178" {
		t.Errorf("stt = %+v", cfg.Providers.STT)
	}
	if got := cfg.Providers.STT.Options["language"]; got != "en" {
		t.Errorf("stt options language = %v", got)
	}
	if cfg.Providers.Image.APIKey != "sk-image" {
		t.Errorf("image api_key = %q", cfg.Providers.Image.APIKey)
	}

	conv := cfg.Conversation
	if conv.PollInterval != 500*time.Millisecond || conv.MaxRunAttempts != 5 || conv.RecordTimeout != 20*time.Second {
		t.Errorf("conversation timings = %+v", conv)
	}
	if conv.Voice != types.VoiceFable || conv.SeedPrompt != "You are {name}." || conv.AssistantModel != "gpt-4o" {
		t.Errorf("conversation = %+v", conv)
	}

	if cfg.Credentials.Backend != config.CredentialsBadger || cfg.Credentials.TTL != 24*time.Hour {
		t.Errorf("credentials = %+v", cfg.Credentials)
	}
	if cfg.Resilience != (config.ResilienceConfig{MaxFailures: 3, ResetTimeout: 10 * time.Second, HalfOpenMax: 2}) {
		t.Errorf("resilience = %+v", cfg.Resilience)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, minimalYAML)

	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("LogLevel = %q", cfg.Server.LogLevel)
	}
	if cfg.Conversation.PollInterval != time.Second {
		t.Errorf("PollInterval = %s, want 1s", cfg.Conversation.PollInterval)
	}
	if cfg.Conversation.MaxRunAttempts != 3 {
		t.Errorf("MaxRunAttempts = %d, want 3", cfg.Conversation.MaxRunAttempts)
	}
	if cfg.Conversation.RecordTimeout != 30*time.Second {
		t.Errorf("RecordTimeout = %s, want 30s", cfg.Conversation.RecordTimeout)
	}
	if cfg.Credentials.Backend != config.CredentialsMemory {
		t.Errorf("Backend = %q", cfg.Credentials.Backend)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(minimalYAML + "\nnpcs: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

// ── Validate ─────────────────────────────────────────────────────────────────

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing providers", "server: {log_level: info}", "providers.stt.name is required"},
		{"bad log level", minimalYAML + "server: {log_level: loud}", "server.log_level"},
		{"whisper without url", strings.Replace(minimalYAML, "stt: {name: openai}", "stt: {name: whisper}", 1), "providers.stt.base_url"},
		{"bad voice", minimalYAML + "conversation: {voice: robot}", "conversation.voice"},
		{"negative attempts", minimalYAML + "conversation: {max_run_attempts: -1}", "max_run_attempts"},
		{"negative timeout", minimalYAML + "conversation: {record_timeout: -1s}", "record_timeout"},
		{"bad backend", minimalYAML + "credentials: {backend: redis}", "credentials.backend"},
		{"badger without dir", minimalYAML + "credentials: {backend: badger}", "credentials.dir"},
		{"tls half set", minimalYAML + "server: {tls: {cert_file: a.pem}}", "server.tls"},
		{"negative resilience", minimalYAML + "resilience: {max_failures: -2}", "resilience"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_ReportsAllMissingProviders(t *testing.T) {
	t.Parallel()
	err := config.Validate(&config.Config{})
	for _, kind := range []string{"stt", "tts", "assistant"} {
		if err == nil || !strings.Contains(err.Error(), "providers."+kind+".name") {
			t.Errorf("error %v does not mention %s", err, kind)
		}
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	t.Parallel()
	for level, want := range map[config.LogLevel]string{
		config.LogDebug: "DEBUG",
		config.LogInfo:  "INFO",
		config.LogWarn:  "WARN",
		config.LogError: "ERROR",
		"":              "INFO",
	} {
		if got := level.SlogLevel().String(); got != want {
			t.Errorf("%q.SlogLevel() = %s, want %s", level, got, want)
		}
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_CreatesRegisteredProviders(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	var gotEntry config.ProviderEntry
	reg.RegisterSTT("fake", func(e config.ProviderEntry) (stt.Provider, error) {
		gotEntry = e
		return &sttmock.Provider{}, nil
	})
	reg.RegisterTTS("fake", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })
	reg.RegisterAssistant("fake", func(config.ProviderEntry) (assistant.Provider, error) { return &assistantmock.Provider{}, nil })
	reg.RegisterLLM("fake", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	reg.RegisterImage("fake", func(config.ProviderEntry) (image.Provider, error) { return &imagemock.Provider{}, nil })

	entry := config.ProviderEntry{Name: "fake", APIKey: "k", Model: "m"}
	if _, err := reg.CreateSTT(entry); err != nil {
		t.Errorf("CreateSTT: %v", err)
	}
	if gotEntry.APIKey != "k" || gotEntry.Model != "m" {
		t.Errorf("factory received %+v", gotEntry)
	}
	if _, err := reg.CreateTTS(entry); err != nil {
		t.Errorf("CreateTTS: %v", err)
	}
	if _, err := reg.CreateAssistant(entry); err != nil {
		t.Errorf("CreateAssistant: %v", err)
	}
	if _, err := reg.CreateLLM(entry); err != nil {
		t.Errorf("CreateLLM: %v", err)
	}
	if _, err := reg.CreateImage(entry); err != nil {
		t.Errorf("CreateImage: %v", err)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	entry := config.ProviderEntry{Name: "nope"}

	checks := map[string]error{}
	_, checks["stt"] = reg.CreateSTT(entry)
	_, checks["tts"] = reg.CreateTTS(entry)
	_, checks["assistant"] = reg.CreateAssistant(entry)
	_, checks["llm"] = reg.CreateLLM(entry)
	_, checks["image"] = reg.CreateImage(entry)
	for kind, err := range checks {
		if !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("%s: err = %v, want ErrProviderNotRegistered", kind, err)
		}
	}
}

func TestRegistry_FactoryErrorPropagates(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("missing api key")
	reg.RegisterTTS("openai", func(config.ProviderEntry) (tts.Provider, error) { return nil, boom })
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "openai"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}
