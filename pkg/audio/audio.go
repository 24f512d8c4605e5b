// Package audio defines the microphone and speaker abstractions used by a
// charactercall session, together with [Capture], the single-recording state
// machine that turns a microphone stream into a finished [Clip].
//
// The two device-facing abstractions are:
//
//   - [Device] — a microphone that can be opened in one of several container
//     formats and yields a [Stream] of encoded chunks.
//   - [Player] — a speaker that starts playback of a synthesized [Clip].
//
// Concrete adapters live in sub-packages (audio/wsbridge reaches the browser
// over a WebSocket). The interfaces stay narrow so the turn controller never
// sees transport details.
package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDeviceUnavailable is returned when the microphone cannot be opened,
	// for example because the user denied permission or no device is present.
	// It is fatal for the session.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")

	// ErrNoActiveRecording is returned by [Capture.Stop] when no recording is
	// in progress.
	ErrNoActiveRecording = errors.New("audio: no active recording")

	// ErrUnsupportedFormat is returned by [SelectFormat] when the device
	// supports none of the preferred container formats.
	ErrUnsupportedFormat = errors.New("audio: no supported recording format")

	// ErrAlreadyRecording is returned by [Capture.Start] when a recording is
	// already in progress. Only one recording may exist per device.
	ErrAlreadyRecording = errors.New("audio: recording already in progress")
)

// Clip is a finished, containerized audio recording or synthesized reply.
// The bytes are opaque to this package; MIMEType names their container.
type Clip struct {
	// Data holds the encoded audio bytes.
	Data []byte

	// MIMEType is the container type the data was produced in, e.g.
	// "audio/webm;codecs=opus" or "audio/mpeg".
	MIMEType string

	// Duration is the wall-clock length of the recording. Zero when unknown.
	Duration time.Duration
}

// Empty reports whether the clip carries no audio bytes.
func (c Clip) Empty() bool { return len(c.Data) == 0 }

// Format returns the short format tag for the clip's MIME type.
// See [FormatTag].
func (c Clip) Format() string { return FormatTag(c.MIMEType) }

// Stream is an open microphone stream.
//
// Chunks delivers encoded audio chunks in capture order. After Close is called
// the implementation flushes any buffered data onto the channel and then
// closes it; callers range over Chunks until it is closed.
type Stream interface {
	Chunks() <-chan []byte
	Close() error
}

// Device is a microphone that can record in one or more container formats.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Supports reports whether the device can record in the given MIME type.
	Supports(mimeType string) bool

	// Open starts recording in mimeType. It returns an error wrapping
	// [ErrDeviceUnavailable] when access to the microphone is denied or the
	// device is gone.
	Open(ctx context.Context, mimeType string) (Stream, error)
}

// Player plays synthesized replies to the user.
//
// Play starts playback and returns once the clip has been handed to the
// output device; it does not wait for playback to finish. The end of playback
// is reported out-of-band as a controller event.
type Player interface {
	Play(ctx context.Context, clip Clip) error
}
