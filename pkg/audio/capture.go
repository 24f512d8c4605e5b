package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// releaseTimeout bounds how long [Capture.Release] waits for a stream to
// flush after it has been closed.
const releaseTimeout = 2 * time.Second

// RecordingState is the lifecycle state of a [Capture].
type RecordingState int

const (
	// StateIdle means no recording exists; Start may be called.
	StateIdle RecordingState = iota

	// StateRecording means the microphone is open and chunks are buffered.
	StateRecording

	// StateStopping means Stop has closed the stream and is waiting for the
	// final chunks to arrive.
	StateStopping
)

// String returns the human-readable name of the state.
func (s RecordingState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRecording:
		return "RECORDING"
	case StateStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// CaptureOption is a functional option for [NewCapture].
type CaptureOption func(*Capture)

// WithClock overrides the time source used to stamp recordings.
func WithClock(now func() time.Time) CaptureOption {
	return func(c *Capture) { c.now = now }
}

// WithMIMEType forces the recording format instead of negotiating it with
// [SelectFormat]. The device must still report support for it.
func WithMIMEType(mimeType string) CaptureOption {
	return func(c *Capture) { c.mimeType = mimeType }
}

// recording is the state of one Start/Stop cycle. data is owned by the
// collector goroutine until done is closed. released is closed once the
// capture is back in StateIdle.
type recording struct {
	stream    Stream
	data      []byte
	done      chan struct{}
	released  chan struct{}
	startedAt time.Time
}

// Capture records one clip at a time from a single [Device].
//
// A Capture exclusively owns its device: at most one recording exists at any
// instant, and Start while a recording is active fails with
// [ErrAlreadyRecording]. All methods are safe for concurrent use.
type Capture struct {
	dev      Device
	mimeType string
	now      func() time.Time

	mu    sync.Mutex
	state RecordingState
	rec   *recording
}

// NewCapture creates a Capture for dev. The recording format is the first of
// [PreferredFormats] the device supports; if it supports none, NewCapture
// returns [ErrUnsupportedFormat].
func NewCapture(dev Device, opts ...CaptureOption) (*Capture, error) {
	if dev == nil {
		return nil, errors.New("audio: device must not be nil")
	}
	c := &Capture{dev: dev, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	if c.mimeType == "" {
		mt, err := SelectFormat(dev)
		if err != nil {
			return nil, err
		}
		c.mimeType = mt
	} else if !dev.Supports(c.mimeType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, c.mimeType)
	}
	return c, nil
}

// MIMEType returns the negotiated recording format.
func (c *Capture) MIMEType() string { return c.mimeType }

// State returns the current recording state.
func (c *Capture) State() RecordingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start opens the device and begins buffering chunks.
//
// Errors from the device are wrapped, so callers can test for
// [ErrDeviceUnavailable] with errors.Is.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return ErrAlreadyRecording
	}

	stream, err := c.dev.Open(ctx, c.mimeType)
	if err != nil {
		return fmt.Errorf("audio: open %s: %w", c.mimeType, err)
	}

	rec := &recording{
		stream:    stream,
		done:      make(chan struct{}),
		released:  make(chan struct{}),
		startedAt: c.now(),
	}
	c.rec = rec
	c.state = StateRecording
	go collect(rec)
	return nil
}

// Stop closes the stream, waits for the final chunks, and returns the
// finished clip. It returns [ErrNoActiveRecording] when nothing is being
// recorded. If ctx expires before the stream has flushed, the recording is
// discarded and the context error is returned.
func (c *Capture) Stop(ctx context.Context) (Clip, error) {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return Clip{}, ErrNoActiveRecording
	}
	rec := c.rec
	c.state = StateStopping
	c.mu.Unlock()

	closeErr := rec.stream.Close()

	var waitErr error
	select {
	case <-rec.done:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	stoppedAt := c.now()
	c.finish(rec)

	if waitErr != nil {
		return Clip{}, fmt.Errorf("audio: stop: %w", waitErr)
	}
	if closeErr != nil {
		slog.Warn("audio: stream close reported an error", "err", closeErr)
	}

	return Clip{
		Data:     rec.data,
		MIMEType: c.mimeType,
		Duration: stoppedAt.Sub(rec.startedAt),
	}, nil
}

// Release force-stops any active recording, discarding its data, and closes
// the stream. When another goroutine is stopping the recording, Release waits
// for that stop to complete. It is idempotent and returns nil when nothing was
// recording.
func (c *Capture) Release() error {
	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.mu.Unlock()
		return nil
	case StateStopping:
		rec := c.rec
		c.mu.Unlock()
		select {
		case <-rec.released:
		case <-time.After(releaseTimeout):
			slog.Warn("audio: recording was not released before release timeout")
		}
		return nil
	}
	rec := c.rec
	c.state = StateStopping
	c.mu.Unlock()

	err := rec.stream.Close()
	select {
	case <-rec.done:
	case <-time.After(releaseTimeout):
		slog.Warn("audio: stream did not flush before release timeout")
	}
	c.finish(rec)

	if err != nil {
		return fmt.Errorf("audio: release: %w", err)
	}
	return nil
}

// finish returns the capture to StateIdle after rec.
func (c *Capture) finish(rec *recording) {
	c.mu.Lock()
	if c.rec == rec {
		c.rec = nil
		c.state = StateIdle
	}
	c.mu.Unlock()
	close(rec.released)
}

func collect(rec *recording) {
	defer close(rec.done)
	for chunk := range rec.stream.Chunks() {
		rec.data = append(rec.data, chunk...)
	}
}
