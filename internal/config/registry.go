package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/charactercall/pkg/provider/assistant"
	"github.com/MrWong99/charactercall/pkg/provider/image"
	"github.com/MrWong99/charactercall/pkg/provider/llm"
	"github.com/MrWong99/charactercall/pkg/provider/stt"
	"github.com/MrWong99/charactercall/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	stt       map[string]func(ProviderEntry) (stt.Provider, error)
	tts       map[string]func(ProviderEntry) (tts.Provider, error)
	assistant map[string]func(ProviderEntry) (assistant.Provider, error)
	llm       map[string]func(ProviderEntry) (llm.Provider, error)
	image     map[string]func(ProviderEntry) (image.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:       make(map[string]func(ProviderEntry) (stt.Provider, error)),
		tts:       make(map[string]func(ProviderEntry) (tts.Provider, error)),
		assistant: make(map[string]func(ProviderEntry) (assistant.Provider, error)),
		llm:       make(map[string]func(ProviderEntry) (llm.Provider, error)),
		image:     make(map[string]func(ProviderEntry) (image.Provider, error)),
	}
}

// register stores factory under name, overwriting any previous registration.
func register[T any](r *Registry, m map[string]func(ProviderEntry) (T, error), name string, factory func(ProviderEntry) (T, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m[name] = factory
}

// create looks up entry.Name in m and runs its factory.
func create[T any](r *Registry, m map[string]func(ProviderEntry) (T, error), kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := m[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}

// RegisterSTT registers a transcription provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	register(r, r.stt, name, factory)
}

// RegisterTTS registers a speech synthesis provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	register(r, r.tts, name, factory)
}

// RegisterAssistant registers an assistant provider factory under name.
func (r *Registry) RegisterAssistant(name string, factory func(ProviderEntry) (assistant.Provider, error)) {
	register(r, r.assistant, name, factory)
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	register(r, r.llm, name, factory)
}

// RegisterImage registers an image generation provider factory under name.
func (r *Registry) RegisterImage(name string, factory func(ProviderEntry) (image.Provider, error)) {
	register(r, r.image, name, factory)
}

// CreateSTT instantiates the transcription provider registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(r, r.stt, "stt", entry)
}

// CreateTTS instantiates the speech synthesis provider registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(r, r.tts, "tts", entry)
}

// CreateAssistant instantiates the assistant provider registered under entry.Name.
func (r *Registry) CreateAssistant(entry ProviderEntry) (assistant.Provider, error) {
	return create(r, r.assistant, "assistant", entry)
}

// CreateLLM instantiates the LLM provider registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, r.llm, "llm", entry)
}

// CreateImage instantiates the image provider registered under entry.Name.
func (r *Registry) CreateImage(entry ProviderEntry) (image.Provider, error) {
	return create(r, r.image, "image", entry)
}
