// Package mock provides in-memory mock implementations of the [audio.Device],
// [audio.Stream], and [audio.Player] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	dev := &mock.Device{SupportedTypes: []string{"audio/mp4"}}
//	capture, _ := audio.NewCapture(dev)
//	_ = capture.Start(ctx)
//	dev.LastStream().Push([]byte("chunk"))
//	clip, _ := capture.Stop(ctx)
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/charactercall/pkg/audio"
)

// defaultBuffer is the chunk channel capacity used when Device.Buffer is zero.
const defaultBuffer = 64

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream]. Chunks are injected with
// [Stream.Push]; [Stream.Close] closes the chunk channel.
type Stream struct {
	mu     sync.Mutex
	ch     chan []byte
	closed bool

	// CloseErr is returned by [Stream.Close].
	CloseErr error

	// CloseCalls records how many times Close was called.
	CloseCalls int
}

// NewStream returns a Stream whose chunk channel has the given capacity.
func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Stream{ch: make(chan []byte, buffer)}
}

// Push delivers chunk to the stream. It returns false if the stream has
// already been closed. Push blocks when the channel buffer is full.
func (s *Stream) Push(chunk []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.ch <- chunk
	return true
}

// Chunks implements [audio.Stream].
func (s *Stream) Chunks() <-chan []byte { return s.ch }

// Close implements [audio.Stream]. The channel is closed on the first call.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return s.CloseErr
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// SupportedTypes lists the MIME types Supports accepts. A nil slice
	// supports every type.
	SupportedTypes []string

	// OpenErr, when non-nil, is returned by Open instead of a stream.
	OpenErr error

	// Buffer is the chunk channel capacity of opened streams.
	Buffer int

	// OpenCalls records the MIME type of every Open call.
	OpenCalls []string

	// Streams records every stream returned by Open, in order.
	Streams []*Stream
}

// Supports implements [audio.Device].
func (d *Device) Supports(mimeType string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SupportedTypes == nil {
		return true
	}
	return slices.Contains(d.SupportedTypes, mimeType)
}

// Open implements [audio.Device].
func (d *Device) Open(_ context.Context, mimeType string) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, mimeType)
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	s := NewStream(d.Buffer)
	d.Streams = append(d.Streams, s)
	return s, nil
}

// LastStream returns the most recently opened stream, or nil.
func (d *Device) LastStream() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Streams) == 0 {
		return nil
	}
	return d.Streams[len(d.Streams)-1]
}

// OpenCount returns how many times Open was called.
func (d *Device) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.OpenCalls)
}

// Reset clears all recorded calls and streams.
func (d *Device) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = nil
	d.Streams = nil
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// PlayErr is returned by [Player.Play].
	PlayErr error

	// OnPlay, if set, is invoked synchronously with each clip passed to Play
	// after the call has been recorded. Tests use it to emit a playback-ended
	// event.
	OnPlay func(audio.Clip)

	// PlayCalls records every clip passed to Play.
	PlayCalls []audio.Clip
}

// Play implements [audio.Player].
func (p *Player) Play(_ context.Context, clip audio.Clip) error {
	p.mu.Lock()
	p.PlayCalls = append(p.PlayCalls, clip)
	err := p.PlayErr
	onPlay := p.OnPlay
	p.mu.Unlock()
	if onPlay != nil {
		onPlay(clip)
	}
	return err
}

// Calls returns a copy of the recorded Play calls.
func (p *Player) Calls() []audio.Clip {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.PlayCalls)
}

// Reset clears all recorded calls.
func (p *Player) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PlayCalls = nil
}

var (
	_ audio.Device = (*Device)(nil)
	_ audio.Stream = (*Stream)(nil)
	_ audio.Player = (*Player)(nil)
)
