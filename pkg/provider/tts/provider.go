// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns one complete character reply into a playable audio
// container (mp3 for the hosted backends). Synthesis is a single-shot call;
// the provider never retries and the caller decides how to recover.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/charactercall/pkg/audio"
	"github.com/MrWong99/charactercall/pkg/types"
)

// ErrSynthesisFailed matches every [*SynthesisError] via errors.Is.
var ErrSynthesisFailed = errors.New("tts: synthesis failed")

// SynthesisError reports a failed synthesis call.
type SynthesisError struct {
	// Provider names the backend that failed.
	Provider string

	// Cause is the underlying network or service error.
	Cause error
}

// NewSynthesisError wraps cause as a [*SynthesisError].
func NewSynthesisError(provider string, cause error) *SynthesisError {
	return &SynthesisError{Provider: provider, Cause: cause}
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("tts: %s: synthesis failed: %v", e.Provider, e.Cause)
}

func (e *SynthesisError) Unwrap() error { return e.Cause }

// Is reports whether target is [ErrSynthesisFailed].
func (e *SynthesisError) Is(target error) bool { return target == ErrSynthesisFailed }

// Audio is a synthesized reply.
type Audio struct {
	// Data holds the encoded audio container bytes.
	Data []byte

	// MIMEType names the container, e.g. "audio/mpeg".
	MIMEType string
}

// Clip converts a into an [audio.Clip] for playback.
func (a *Audio) Clip() audio.Clip {
	if a == nil {
		return audio.Clip{}
	}
	return audio.Clip{Data: a.Data, MIMEType: a.MIMEType}
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text in voice. The voice is validated before any
	// network call; an unsupported voice yields an error wrapping
	// [types.ErrUnknownVoice]. Backend failures are returned as
	// [*SynthesisError].
	Synthesize(ctx context.Context, text string, voice types.Voice) (*Audio, error)

	// ListVoices returns the voices this provider can render.
	ListVoices(ctx context.Context) ([]types.Voice, error)
}
