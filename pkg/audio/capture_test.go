package audio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/charactercall/pkg/audio"
	"github.com/MrWong99/charactercall/pkg/audio/mock"
)

// ─── helpers ──────────────────────────────────────────────────────────────────

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newCapture(t *testing.T, dev *mock.Device, opts ...audio.CaptureOption) *audio.Capture {
	t.Helper()
	c, err := audio.NewCapture(dev, opts...)
	if err != nil {
		t.Fatalf("NewCapture: %v", err)
	}
	return c
}

// ─── NewCapture ───────────────────────────────────────────────────────────────

func TestNewCapture_NegotiatesPreferredFormat(t *testing.T) {
	c := newCapture(t, &mock.Device{})
	if got := c.MIMEType(); got != "audio/webm;codecs=opus" {
		t.Errorf("MIMEType = %q, want webm/opus", got)
	}

	c = newCapture(t, &mock.Device{SupportedTypes: []string{"audio/mp4"}})
	if got := c.MIMEType(); got != "audio/mp4" {
		t.Errorf("MIMEType = %q, want audio/mp4", got)
	}
}

func TestNewCapture_UnsupportedDevice(t *testing.T) {
	_, err := audio.NewCapture(&mock.Device{SupportedTypes: []string{"audio/wav"}})
	if !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Fatalf("want ErrUnsupportedFormat, got %v", err)
	}
}

func TestNewCapture_NilDevice(t *testing.T) {
	if _, err := audio.NewCapture(nil); err == nil {
		t.Fatal("expected error for nil device")
	}
}

// ─── Start / Stop ─────────────────────────────────────────────────────────────

func TestCapture_StartStop(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	dev := &mock.Device{}
	c := newCapture(t, dev, audio.WithClock(clock.Now))
	ctx := context.Background()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := c.State(); got != audio.StateRecording {
		t.Fatalf("State = %v, want RECORDING", got)
	}

	s := dev.LastStream()
	s.Push([]byte("hel"))
	s.Push([]byte("lo"))
	clock.Advance(4 * time.Second)

	clip, err := c.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if string(clip.Data) != "hello" {
		t.Errorf("clip data = %q, want %q", clip.Data, "hello")
	}
	if clip.MIMEType != "audio/webm;codecs=opus" {
		t.Errorf("clip MIME = %q", clip.MIMEType)
	}
	if clip.Duration != 4*time.Second {
		t.Errorf("clip duration = %v, want 4s", clip.Duration)
	}
	if !s.Closed() {
		t.Error("stream should be closed after Stop")
	}
	if got := c.State(); got != audio.StateIdle {
		t.Errorf("State = %v, want IDLE", got)
	}
}

func TestCapture_SingleRecording(t *testing.T) {
	dev := &mock.Device{}
	c := newCapture(t, dev)
	ctx := context.Background()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(ctx); !errors.Is(err, audio.ErrAlreadyRecording) {
		t.Fatalf("second Start: want ErrAlreadyRecording, got %v", err)
	}
	if n := dev.OpenCount(); n != 1 {
		t.Fatalf("device opened %d times, want 1", n)
	}

	if _, err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start after Stop: %v", err)
	}
	_ = c.Release()
}

func TestCapture_StopWithoutRecording(t *testing.T) {
	c := newCapture(t, &mock.Device{})
	if _, err := c.Stop(context.Background()); !errors.Is(err, audio.ErrNoActiveRecording) {
		t.Fatalf("want ErrNoActiveRecording, got %v", err)
	}
}

func TestCapture_DeviceUnavailable(t *testing.T) {
	dev := &mock.Device{OpenErr: audio.ErrDeviceUnavailable}
	c := newCapture(t, dev)

	err := c.Start(context.Background())
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("want ErrDeviceUnavailable, got %v", err)
	}
	if got := c.State(); got != audio.StateIdle {
		t.Errorf("State = %v, want IDLE after failed start", got)
	}
}

func TestCapture_StopContextExpired(t *testing.T) {
	// A stream that never closes its channel.
	dev := &stuckDevice{ch: make(chan []byte)}
	c, err := audio.NewCapture(dev)
	if err != nil {
		t.Fatalf("NewCapture: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want DeadlineExceeded, got %v", err)
	}
	if got := c.State(); got != audio.StateIdle {
		t.Errorf("State = %v, want IDLE", got)
	}
}

// ─── Release ──────────────────────────────────────────────────────────────────

func TestCapture_ReleaseIdempotent(t *testing.T) {
	dev := &mock.Device{}
	c := newCapture(t, dev)

	if err := c.Release(); err != nil {
		t.Fatalf("Release while idle: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := c.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if !dev.LastStream().Closed() {
		t.Error("stream should be closed after Release")
	}
	if got := c.State(); got != audio.StateIdle {
		t.Errorf("State = %v, want IDLE", got)
	}
}

func TestCapture_ReleaseWaitsForInFlightStop(t *testing.T) {
	dev := &stuckDevice{ch: make(chan []byte)}
	c, err := audio.NewCapture(dev)
	if err != nil {
		t.Fatalf("NewCapture: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stopped := make(chan error, 1)
	go func() {
		_, err := c.Stop(context.Background())
		stopped <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for c.State() != audio.StateStopping {
		if time.Now().After(deadline) {
			t.Fatal("capture never entered STOPPING")
		}
		time.Sleep(time.Millisecond)
	}

	released := make(chan error, 1)
	go func() { released <- c.Release() }()
	select {
	case err := <-released:
		t.Fatalf("Release returned %v while the stream was still flushing", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(dev.ch)
	if err := <-stopped; err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-released:
		if err != nil {
			t.Fatalf("Release: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Release did not return after the stop completed")
	}
	if got := c.State(); got != audio.StateIdle {
		t.Errorf("State = %v, want IDLE", got)
	}
}

// ─── stuckDevice ──────────────────────────────────────────────────────────────

type stuckDevice struct{ ch chan []byte }

func (d *stuckDevice) Supports(string) bool { return true }
func (d *stuckDevice) Open(context.Context, string) (audio.Stream, error) {
	return stuckStream{ch: d.ch}, nil
}

type stuckStream struct{ ch chan []byte }

func (s stuckStream) Chunks() <-chan []byte { return s.ch }
func (s stuckStream) Close() error { return nil }
