// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled audio and to verify that the correct text
// and voice are passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{Result: &tts.Audio{Data: []byte("mp3"), MIMEType: "audio/mpeg"}}
//	a, _ := p.Synthesize(ctx, "Hello", types.VoiceOnyx)
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/charactercall/pkg/provider/tts"
	"github.com/MrWong99/charactercall/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the voice passed to Synthesize.
	Voice types.Voice
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Result is returned by Synthesize. When nil, a small mp3 placeholder
	// containing the text is returned.
	Result *tts.Audio

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// ListVoicesResult is returned by ListVoices. Defaults to types.Voices().
	ListVoicesResult []types.Voice

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCalls counts calls to ListVoices.
	ListVoicesCalls int
}

// Synthesize records the call and returns Result or SynthesizeErr. Like the
// real providers it rejects unknown voices before doing anything else.
func (p *Provider) Synthesize(_ context.Context, text string, voice types.Voice) (*tts.Audio, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	if err := voice.Validate(); err != nil {
		return nil, err
	}
	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}
	if p.Result != nil {
		return p.Result, nil
	}
	return &tts.Audio{Data: []byte(text), MIMEType: "audio/mpeg"}, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]types.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls++
	if p.ListVoicesErr != nil {
		return nil, p.ListVoicesErr
	}
	if p.ListVoicesResult != nil {
		return slices.Clone(p.ListVoicesResult), nil
	}
	return types.Voices(), nil
}

// Calls returns a copy of the recorded Synthesize calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.SynthesizeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCalls = 0
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
