// Package wsbridge connects a browser to a charactercall session over a single
// WebSocket. The browser's MediaRecorder is exposed as an [audio.Device] and
// its audio element as an [audio.Player]; user intents (start, stop, playback
// ended, end) arrive as [Control] frames.
//
// Wire protocol, client → server:
//
//	{"type":"format","mime":["audio/webm;codecs=opus", ...]}  supported recorder types
//	{"type":"start"} {"type":"stop"} {"type":"ended"} {"type":"end"}
//	{"type":"flushed"}        recorder drained after record_stop
//	{"type":"device_error"}   microphone permission denied or device lost
//	binary frames             recorded audio chunks
//
// Server → client:
//
//	{"type":"record_start","mime":"..."} {"type":"record_stop"}
//	{"type":"audio_begin","mime":"...","size":N} followed by one binary frame
//	arbitrary JSON status frames sent with [Bridge.Send]
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/charactercall/pkg/audio"
)

// Control frame types sent by the browser.
const (
	ControlStart       = "start"
	ControlStop        = "stop"
	ControlEnded       = "ended"
	ControlEnd         = "end"
	ControlFormat      = "format"
	ControlFlushed     = "flushed"
	ControlDeviceError = "device_error"
)

const (
	defaultFlushTimeout  = 2 * time.Second
	defaultWriteTimeout  = 5 * time.Second
	defaultControlBuffer = 16
	chunkBuffer          = 256
	readLimit            = 8 << 20
)

// ErrClosed is returned by operations on a bridge whose connection has ended.
var ErrClosed = errors.New("wsbridge: connection closed")

// Control is a JSON control frame received from the browser.
type Control struct {
	Type string   `json:"type"`
	MIME []string `json:"mime,omitempty"`
}

type serverFrame struct {
	Type string `json:"type"`
	MIME string `json:"mime,omitempty"`
	Size int    `json:"size,omitempty"`
}

// Option is a functional option for [New] and [Accept].
type Option func(*Bridge)

// WithFlushTimeout bounds how long a closing stream waits for the browser's
// "flushed" acknowledgement. Default: 2s.
func WithFlushTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.flushTimeout = d }
}

// WithWriteTimeout bounds every frame written to the browser. Default: 5s.
func WithWriteTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.writeTimeout = d }
}

// WithOriginPatterns sets the host patterns [Accept] allows in the Origin
// header. Ignored by [New].
func WithOriginPatterns(patterns ...string) Option {
	return func(b *Bridge) { b.originPatterns = patterns }
}

// Bridge adapts one browser WebSocket into an [audio.Device] and
// [audio.Player]. It is safe for concurrent use.
type Bridge struct {
	conn           *websocket.Conn
	flushTimeout   time.Duration
	writeTimeout   time.Duration
	originPatterns []string

	ctx    context.Context
	cancel context.CancelFunc

	controls   chan Control
	formatSeen chan struct{}
	done       chan struct{}

	writeMu sync.Mutex

	mu         sync.Mutex
	supported  []string
	announced  bool
	active     *stream
	deviceLost bool
	errVal     error
	closeOnce  sync.Once
}

// Accept upgrades an HTTP request to a WebSocket and returns a running
// bridge over it.
func Accept(w http.ResponseWriter, r *http.Request, opts ...Option) (*Bridge, error) {
	probe := &Bridge{}
	for _, o := range opts {
		o(probe)
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: probe.originPatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("wsbridge: accept: %w", err)
	}
	return New(conn, opts...), nil
}

// New wraps an established connection and starts reading from it.
// The bridge owns conn from this point on.
func New(conn *websocket.Conn, opts ...Option) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		conn:         conn,
		flushTimeout: defaultFlushTimeout,
		writeTimeout: defaultWriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
		controls:     make(chan Control, defaultControlBuffer),
		formatSeen:   make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	conn.SetReadLimit(readLimit)
	go b.readLoop()
	return b
}

// Controls returns the channel of user intents (start, stop, ended, end).
// It is closed when the connection ends.
func (b *Bridge) Controls() <-chan Control { return b.controls }

// Done is closed when the connection has ended.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Err returns the error that terminated the read loop, if any.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errVal
}

// WaitFormat blocks until the browser has announced its supported recorder
// MIME types, the connection ends, or ctx expires.
func (b *Bridge) WaitFormat(ctx context.Context) error {
	select {
	case <-b.formatSeen:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Supports implements [audio.Device]. It reports false until the browser
// has announced its formats.
func (b *Bridge) Supports(mimeType string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Contains(b.supported, mimeType)
}

// Open implements [audio.Device]. It asks the browser to start its recorder
// and returns a stream fed by subsequent binary frames.
func (b *Bridge) Open(ctx context.Context, mimeType string) (audio.Stream, error) {
	b.mu.Lock()
	switch {
	case b.deviceLost:
		b.mu.Unlock()
		return nil, audio.ErrDeviceUnavailable
	case b.isDone():
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, ErrClosed)
	case b.active != nil:
		b.mu.Unlock()
		return nil, audio.ErrAlreadyRecording
	}
	s := &stream{
		b:       b,
		ch:      make(chan []byte, chunkBuffer),
		flushed: make(chan struct{}),
	}
	b.active = s
	b.mu.Unlock()

	if err := b.Send(ctx, serverFrame{Type: "record_start", MIME: mimeType}); err != nil {
		b.detach(s)
		return nil, fmt.Errorf("wsbridge: open: %w", err)
	}
	return s, nil
}

// Play implements [audio.Player]. It announces the clip with an audio_begin
// frame and sends the bytes as one binary frame.
func (b *Bridge) Play(ctx context.Context, clip audio.Clip) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	head, err := json.Marshal(serverFrame{Type: "audio_begin", MIME: clip.MIMEType, Size: len(clip.Data)})
	if err != nil {
		return fmt.Errorf("wsbridge: marshal: %w", err)
	}
	if err := b.write(ctx, websocket.MessageText, head); err != nil {
		return fmt.Errorf("wsbridge: play: %w", err)
	}
	if err := b.write(ctx, websocket.MessageBinary, clip.Data); err != nil {
		return fmt.Errorf("wsbridge: play: %w", err)
	}
	return nil
}

// Send marshals v and writes it as a text frame.
func (b *Bridge) Send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wsbridge: marshal: %w", err)
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.write(ctx, websocket.MessageText, data)
}

// Close ends the connection with a normal closure. Idempotent.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.conn.Close(websocket.StatusNormalClosure, "session closed")
		b.cancel()
	})
	return nil
}

// write sends one frame. Callers hold writeMu.
func (b *Bridge) write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	if b.isDone() {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, b.writeTimeout)
	defer cancel()
	return b.conn.Write(ctx, typ, data)
}

func (b *Bridge) isDone() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// readLoop owns controls and done: it closes both when it exits.
func (b *Bridge) readLoop() {
	defer func() {
		b.mu.Lock()
		s := b.active
		b.mu.Unlock()
		if s != nil {
			b.detach(s)
		}
		close(b.done)
		close(b.controls)
	}()

	for {
		typ, data, err := b.conn.Read(b.ctx)
		if err != nil {
			if b.ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				b.mu.Lock()
				b.errVal = err
				b.mu.Unlock()
			}
			return
		}

		if typ == websocket.MessageBinary {
			b.deliver(data)
			continue
		}

		var c Control
		if err := json.Unmarshal(data, &c); err != nil {
			slog.Debug("wsbridge: ignoring malformed control frame", "err", err)
			continue
		}
		b.handleControl(c)
	}
}

func (b *Bridge) handleControl(c Control) {
	switch c.Type {
	case ControlFormat:
		b.mu.Lock()
		b.supported = slices.Clone(c.MIME)
		first := !b.announced
		b.announced = true
		b.mu.Unlock()
		if first {
			close(b.formatSeen)
		}
	case ControlFlushed:
		b.mu.Lock()
		if s := b.active; s != nil {
			s.markFlushed()
		}
		b.mu.Unlock()
	case ControlDeviceError:
		b.mu.Lock()
		b.deviceLost = true
		s := b.active
		b.mu.Unlock()
		if s != nil {
			s.markFlushed()
		}
		b.forward(c)
	case ControlStart, ControlStop, ControlEnded, ControlEnd:
		b.forward(c)
	default:
		slog.Debug("wsbridge: ignoring unknown control", "type", c.Type)
	}
}

func (b *Bridge) forward(c Control) {
	select {
	case b.controls <- c:
	case <-b.ctx.Done():
	}
}

// deliver hands a chunk to the active stream. Chunks arriving with no active
// recording are dropped.
func (b *Bridge) deliver(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.active
	if s == nil || s.closed {
		return
	}
	select {
	case s.ch <- chunk:
	default:
		slog.Warn("wsbridge: chunk buffer full, dropping audio", "bytes", len(chunk))
	}
}

// detach closes s's chunk channel and clears it as the active stream.
func (b *Bridge) detach(s *stream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == s {
		b.active = nil
	}
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// stream is the recording half of a Bridge. ch and closed are guarded by
// the bridge mutex.
type stream struct {
	b         *Bridge
	ch        chan []byte
	closed    bool
	flushed   chan struct{}
	flushOnce sync.Once
	closeOnce sync.Once
}

func (s *stream) Chunks() <-chan []byte { return s.ch }

func (s *stream) markFlushed() {
	s.flushOnce.Do(func() { close(s.flushed) })
}

// Close asks the browser to stop recording and waits for its flushed
// acknowledgement before closing the chunk channel.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		b := s.b
		err = b.Send(b.ctx, serverFrame{Type: "record_stop"})
		if err == nil {
			timer := time.NewTimer(b.flushTimeout)
			defer timer.Stop()
			select {
			case <-s.flushed:
			case <-timer.C:
				slog.Warn("wsbridge: recorder did not acknowledge stop in time")
			case <-b.done:
			}
		}
		b.detach(s)
	})
	return err
}

var (
	_ audio.Device = (*Bridge)(nil)
	_ audio.Player = (*Bridge)(nil)
)
