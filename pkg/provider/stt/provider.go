// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider turns one finished recording into text. Transcription is a
// single-shot batch call: the provider never retries, and an empty string
// means the user said nothing intelligible, which is distinct from failure.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/charactercall/pkg/audio"
)

// ErrTranscriptionFailed matches every [*TranscriptionError] via errors.Is.
var ErrTranscriptionFailed = errors.New("stt: transcription failed")

// TranscriptionError reports a failed transcription call. It is recoverable:
// the turn is abandoned and capture re-armed.
type TranscriptionError struct {
	// Provider names the backend that failed (e.g. "openai", "whisper").
	Provider string

	// Cause is the underlying network or service error.
	Cause error
}

// NewTranscriptionError wraps cause as a [*TranscriptionError].
func NewTranscriptionError(provider string, cause error) *TranscriptionError {
	return &TranscriptionError{Provider: provider, Cause: cause}
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("stt: %s: transcription failed: %v", e.Provider, e.Cause)
}

func (e *TranscriptionError) Unwrap() error { return e.Cause }

// Is reports whether target is [ErrTranscriptionFailed].
func (e *TranscriptionError) Is(target error) bool { return target == ErrTranscriptionFailed }

// Provider is the abstraction over any transcription backend.
type Provider interface {
	// Transcribe returns the text spoken in clip. An empty clip yields an empty
	// string without contacting the backend. Failures are returned as
	// [*TranscriptionError].
	Transcribe(ctx context.Context, clip audio.Clip) (string, error)
}

// uploadRemap rewrites container tags the transcription services reject under
// their own name. m4a clips are submitted as mp3.
var uploadRemap = map[string]string{
	"m4a": "mp3",
}

// defaultUploadFormat is used when a clip carries no MIME type.
const defaultUploadFormat = "webm"

// NormalizeFormat returns the format tag to submit upstream for tag.
func NormalizeFormat(tag string) string {
	if to, ok := uploadRemap[tag]; ok {
		return to
	}
	return tag
}

// UploadName returns the file name and content type under which clip is
// submitted, e.g. ("audio.mp3", "audio/mp3") for an m4a clip.
func UploadName(clip audio.Clip) (filename, contentType string) {
	format := NormalizeFormat(clip.Format())
	if format == "" {
		format = defaultUploadFormat
	}
	return "audio." + format, "audio/" + format
}
