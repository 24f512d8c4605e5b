package app

import (
	"context"
	"log/slog"

	"github.com/MrWong99/charactercall/internal/turn"
	"github.com/MrWong99/charactercall/pkg/audio/wsbridge"
)

// Frames sent to the browser in addition to the bridge's own.
type (
	sessionFrame struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}

	characterFrame struct {
		Type       string `json:"type"`
		Name       string `json:"name"`
		Voice      string `json:"voice"`
		Appearance string `json:"appearance,omitempty"`
		ImageURL   string `json:"image_url,omitempty"`
	}

	stateFrame struct {
		Type  string `json:"type"`
		State string `json:"state"`
		From  string `json:"from,omitempty"`
	}

	turnFrame struct {
		Type     string `json:"type"`
		Index    int    `json:"index"`
		Speaker  string `json:"speaker"`
		Text     string `json:"text"`
		HasAudio bool   `json:"has_audio,omitempty"`
	}

	errorFrame struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}

	endedFrame struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
)

// stateCasting is reported while the character is being prepared, before a
// turn controller exists.
const stateCasting = "casting"

func newStateFrame(from, to string) stateFrame {
	return stateFrame{Type: "state", State: to, From: from}
}

func newTurnFrame(t turn.Turn) turnFrame {
	return turnFrame{
		Type:     "turn",
		Index:    t.Index,
		Speaker:  t.Speaker.String(),
		Text:     t.Text,
		HasAudio: t.Audio != nil,
	}
}

// controlEvent maps a browser control to a controller event. A device error
// faults the call whatever its state.
func controlEvent(c wsbridge.Control) (turn.Event, bool) {
	switch c.Type {
	case wsbridge.ControlStart:
		return turn.EventStart, true
	case wsbridge.ControlStop:
		return turn.EventStopEarly, true
	case wsbridge.ControlEnded:
		return turn.EventPlaybackEnded, true
	case wsbridge.ControlEnd:
		return turn.EventEnd, true
	case wsbridge.ControlDeviceError:
		return turn.EventDeviceLost, true
	}
	return 0, false
}

type sender interface {
	Send(ctx context.Context, v any) error
}

// outboxSize bounds the frames queued for a slow browser.
const outboxSize = 64

// outbox delivers frames to the browser from its own goroutine so that
// controller callbacks never block on the network.
type outbox struct {
	ch   chan any
	done chan struct{}
}

func newOutbox(s sender, log *slog.Logger) *outbox {
	o := &outbox{ch: make(chan any, outboxSize), done: make(chan struct{})}
	go func() {
		defer close(o.done)
		failed := false
		for v := range o.ch {
			if failed {
				continue
			}
			if err := s.Send(context.Background(), v); err != nil {
				log.Debug("browser unreachable, dropping frames", "err", err)
				failed = true
			}
		}
	}()
	return o
}

// push queues v. It drops the frame when the queue is full.
func (o *outbox) push(v any) {
	select {
	case o.ch <- v:
	default:
		slog.Warn("app: outbox full, dropping frame")
	}
}

// close flushes queued frames and stops the goroutine. push must not be
// called afterwards.
func (o *outbox) close() {
	close(o.ch)
	<-o.done
}
