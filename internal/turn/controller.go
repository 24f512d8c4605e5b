// Package turn runs the turn-taking cycle of a character call.
//
// A [Controller] owns one session's microphone, timer, and conversation
// [Log]. It consumes [Event] values on a single goroutine and walks each turn
// through recording, transcription, the assistant reply, speech synthesis,
// and playback. Stages never overlap within a session. Provider failures
// become System turns in the log and the cycle continues. Only a lost audio
// device ends the session in [StateFaulted].
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/charactercall/internal/conversation"
	"github.com/MrWong99/charactercall/internal/observe"
	"github.com/MrWong99/charactercall/pkg/audio"
	"github.com/MrWong99/charactercall/pkg/provider/stt"
	"github.com/MrWong99/charactercall/pkg/provider/tts"
)

// System notes written to the log.
const (
	MsgRepeatedReply = "Received repeated response from AI."
	MsgEmptyReply    = "Received empty response from AI."
)

var (
	// ErrFaulted is returned by [Controller.Run] when the audio device was
	// lost. The session cannot continue.
	ErrFaulted = errors.New("turn: session faulted")

	// ErrStopped is returned by [Controller.Post] after Run has returned.
	ErrStopped = errors.New("turn: controller stopped")
)

// Recorder captures one clip at a time. [*audio.Capture] implements it.
type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (audio.Clip, error)
	Release() error
}

// Replier produces the character's answer to a prompt.
// [*conversation.Client] implements it.
type Replier interface {
	Reply(ctx context.Context, s *conversation.Session, prompt string) (conversation.Reply, error)
}

// Config wires a [Controller].
type Config struct {
	// SessionID labels logs and spans.
	SessionID string

	// Session carries the assistant, voice, and thread of the call.
	Session *conversation.Session

	Recorder     Recorder
	Player       audio.Player
	STT          stt.Provider
	Conversation Replier
	TTS          tts.Provider

	// SeedPrompt, when set, is sent before the first recording so the
	// character opens the call with a greeting.
	SeedPrompt string

	// RecordTimeout caps each recording. Default: [DefaultRecordTimeout].
	RecordTimeout time.Duration

	// Clock drives the record timer. Default: [RealClock].
	Clock Clock

	// Now timestamps log entries. Default: time.Now.
	Now func() time.Time

	// Metrics is optional.
	Metrics *observe.Metrics

	// OnState is called on every state change from the controller
	// goroutine. It must not block.
	OnState func(from, to State)

	// OnTurn is called for every appended turn from the controller
	// goroutine. It must not block.
	OnTurn func(Turn)
}

func (cfg *Config) validate() error {
	var errs []error
	if cfg.Session == nil {
		errs = append(errs, errors.New("session is required"))
	}
	if cfg.Recorder == nil {
		errs = append(errs, errors.New("recorder is required"))
	}
	if cfg.Player == nil {
		errs = append(errs, errors.New("player is required"))
	}
	if cfg.STT == nil {
		errs = append(errs, errors.New("stt provider is required"))
	}
	if cfg.Conversation == nil {
		errs = append(errs, errors.New("conversation client is required"))
	}
	if cfg.TTS == nil {
		errs = append(errs, errors.New("tts provider is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("turn: invalid config: %w", err)
	}
	return nil
}

type envelope struct {
	ev Event
	// recording is the sequence number of the recording a timer expiry
	// belongs to. Zero means the current one.
	recording uint64
}

// Controller is the per-session turn state machine.
type Controller struct {
	cfg   Config
	log   *Log
	timer *Timer

	events  chan envelope
	done    chan struct{}
	running atomic.Bool

	mu    sync.Mutex
	state State

	// Owned by the Run goroutine.
	recording uint64
}

// New validates cfg and returns a Controller in [StateAwaitingCapture].
func New(cfg Config) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = DefaultRecordTimeout
	}
	return &Controller{
		cfg:    cfg,
		log:    NewLog(cfg.Now),
		timer:  NewTimer(cfg.Clock),
		events: make(chan envelope, 16),
		done:   make(chan struct{}),
		state:  StateAwaitingCapture,
	}, nil
}

// Log returns the conversation log. It stays readable after Run returns.
func (c *Controller) Log() *Log { return c.log }

// Session returns the conversation session.
func (c *Controller) Session() *conversation.Session { return c.cfg.Session }

// Done is closed when Run has returned.
func (c *Controller) Done() <-chan struct{} { return c.done }

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Post queues ev for the controller. It blocks while the queue is full and
// fails with [ErrStopped] once Run has returned.
func (c *Controller) Post(ctx context.Context, ev Event) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}
	select {
	case c.events <- envelope{ev: ev}:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events until the session ends. It returns nil after
// [EventEnd], the context error on cancellation, and an error wrapping
// [ErrFaulted] when the audio device is lost. Run may be called once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("turn: controller already running")
	}
	defer close(c.done)
	defer c.teardown()

	if c.cfg.SeedPrompt != "" {
		if err := c.greet(ctx); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-c.events:
			if err := c.handle(ctx, env); err != nil {
				return err
			}
			if c.State() == StateSessionEnd {
				return nil
			}
		}
	}
}

func (c *Controller) handle(ctx context.Context, env envelope) error {
	state := c.State()
	switch env.ev {
	case EventStart:
		if state == StateAwaitingCapture {
			return c.startRecording(ctx)
		}
	case EventPlaybackEnded:
		if state == StatePlaying {
			c.setState(StateAwaitingCapture)
			return c.startRecording(ctx)
		}
	case EventStopEarly:
		// A false Cancel means the deadline won the race; its expiry event
		// is already queued and finishes the recording.
		if state == StateRecording && c.timer.Cancel() {
			return c.finishRecording(ctx)
		}
	case EventTimerExpired:
		if state == StateRecording && (env.recording == 0 || env.recording == c.recording) {
			c.timer.Cancel()
			return c.finishRecording(ctx)
		}
	case EventDeviceLost:
		return c.fault(ctx, audio.ErrDeviceUnavailable)
	case EventEnd:
		c.setState(StateSessionEnd)
		return nil
	}
	slog.Debug("turn: event ignored", "session_id", c.cfg.SessionID, "event", env.ev, "state", state)
	return nil
}

// greet runs the opening turn: the character answers the seed prompt before
// the first recording.
func (c *Controller) greet(ctx context.Context) error {
	c.setState(StateConversing)
	reply, err := c.converse(ctx, c.cfg.SeedPrompt)
	if err != nil {
		return c.recover(ctx, "Error generating greeting: "+err.Error(), err)
	}
	if strings.TrimSpace(reply.Text) == "" {
		return c.skip(ctx, observe.OutcomeEmptyReply, MsgEmptyReply)
	}
	return c.speak(ctx, reply.Text)
}

func (c *Controller) startRecording(ctx context.Context) error {
	if err := c.cfg.Recorder.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, audio.ErrDeviceUnavailable) {
			return c.fault(ctx, err)
		}
		// Staying in AwaitingCapture; the next EventStart retries.
		c.note(ctx, "Error starting recording: "+err.Error())
		return nil
	}
	c.recording++
	seq := c.recording
	c.setState(StateRecording)
	c.timer.Arm(c.cfg.RecordTimeout, func() {
		select {
		case c.events <- envelope{ev: EventTimerExpired, recording: seq}:
		case <-c.done:
		}
	})
	return nil
}

func (c *Controller) finishRecording(ctx context.Context) error {
	c.setState(StateTranscribing)
	clip, err := c.cfg.Recorder.Stop(ctx)
	if err != nil {
		return c.recover(ctx, "Error recording audio: "+err.Error(), err)
	}

	text, err := c.transcribe(ctx, clip)
	if err != nil {
		return c.recover(ctx, "Error transcribing audio: "+err.Error(), err)
	}
	if strings.TrimSpace(text) == "" {
		observe.Logger(ctx).Debug("turn: empty transcript, re-arming",
			"session_id", c.cfg.SessionID, "clip_bytes", len(clip.Data))
		c.recordOutcome(ctx, observe.OutcomeSilence)
		return c.rearm(ctx)
	}
	c.append(SpeakerHuman, text, nil)

	c.setState(StateConversing)
	reply, err := c.converse(ctx, text)
	if err != nil {
		return c.recover(ctx, "Error generating reply: "+err.Error(), err)
	}
	switch {
	case strings.TrimSpace(reply.Text) == "":
		return c.skip(ctx, observe.OutcomeEmptyReply, MsgEmptyReply)
	case reply.Text == text:
		return c.skip(ctx, observe.OutcomeEcho, MsgRepeatedReply)
	}
	return c.speak(ctx, reply.Text)
}

// speak synthesizes and starts playing text. The controller stays in
// StatePlaying until EventPlaybackEnded.
func (c *Controller) speak(ctx context.Context, text string) error {
	c.setState(StateSynthesizing)
	speech, err := c.synthesize(ctx, text)
	c.append(SpeakerCharacter, text, speech)
	if err != nil {
		return c.recover(ctx, "Error synthesizing reply: "+err.Error(), err)
	}

	c.setState(StatePlaying)
	if err := c.cfg.Player.Play(ctx, speech.Clip()); err != nil {
		return c.recover(ctx, "Error playing reply audio: "+err.Error(), err)
	}
	c.recordOutcome(ctx, observe.OutcomeCompleted)
	return nil
}

func (c *Controller) transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	ctx, span := observe.StartStage(ctx, "transcribe", c.cfg.SessionID)
	start := time.Now()
	text, err := c.cfg.STT.Transcribe(ctx, clip)
	observe.EndSpan(span, err)
	c.recordProvider(ctx, "stt", err)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	}
	return text, err
}

func (c *Controller) converse(ctx context.Context, prompt string) (conversation.Reply, error) {
	ctx, span := observe.StartStage(ctx, "converse", c.cfg.SessionID)
	reply, err := c.cfg.Conversation.Reply(ctx, c.cfg.Session, prompt)
	observe.EndSpan(span, err)
	c.recordProvider(ctx, "assistant", err)
	return reply, err
}

func (c *Controller) synthesize(ctx context.Context, text string) (*tts.Audio, error) {
	ctx, span := observe.StartStage(ctx, "synthesize", c.cfg.SessionID)
	start := time.Now()
	speech, err := c.cfg.TTS.Synthesize(ctx, text, c.cfg.Session.Voice())
	if err == nil && speech == nil {
		err = tts.NewSynthesisError("tts", errors.New("provider returned no audio"))
	}
	observe.EndSpan(span, err)
	c.recordProvider(ctx, "tts", err)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	}
	return speech, err
}

// skip ends a turn without synthesis and re-arms capture.
func (c *Controller) skip(ctx context.Context, outcome, msg string) error {
	c.note(ctx, msg)
	c.recordOutcome(ctx, outcome)
	return c.rearm(ctx)
}

// recover turns a stage error into a System note and re-arms capture. Device
// loss faults the session and cancellation ends it.
func (c *Controller) recover(ctx context.Context, msg string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, audio.ErrDeviceUnavailable) {
		return c.fault(ctx, err)
	}
	observe.Logger(ctx).Warn("turn: stage failed",
		"session_id", c.cfg.SessionID, "state", c.State(), "err", err)
	c.note(ctx, msg)
	c.recordOutcome(ctx, observe.OutcomeFailed)
	return c.rearm(ctx)
}

func (c *Controller) rearm(ctx context.Context) error {
	c.setState(StateAwaitingCapture)
	return c.startRecording(ctx)
}

func (c *Controller) fault(ctx context.Context, err error) error {
	c.timer.Cancel()
	observe.Logger(ctx).Error("turn: audio device lost", "session_id", c.cfg.SessionID, "err", err)
	c.note(ctx, "Audio device unavailable: "+err.Error())
	c.recordOutcome(ctx, observe.OutcomeFaulted)
	c.setState(StateFaulted)
	return fmt.Errorf("%w: %w", ErrFaulted, err)
}

// teardown cancels the timer and releases the microphone. The log is kept.
func (c *Controller) teardown() {
	c.timer.Cancel()
	if err := c.cfg.Recorder.Release(); err != nil {
		slog.Warn("turn: release recorder", "session_id", c.cfg.SessionID, "err", err)
	}
	if !c.State().Terminal() {
		c.setState(StateSessionEnd)
	}
}

func (c *Controller) note(ctx context.Context, msg string) {
	observe.Logger(ctx).Info("turn: system note", "session_id", c.cfg.SessionID, "note", msg)
	c.append(SpeakerSystem, msg, nil)
}

func (c *Controller) append(speaker Speaker, text string, speech *tts.Audio) {
	t := c.log.Append(speaker, text, speech)
	if c.cfg.OnTurn != nil {
		c.cfg.OnTurn(t)
	}
}

func (c *Controller) setState(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	if from == to {
		return
	}
	slog.Debug("turn: state", "session_id", c.cfg.SessionID, "from", from, "to", to)
	if c.cfg.OnState != nil {
		c.cfg.OnState(from, to)
	}
}

func (c *Controller) recordOutcome(ctx context.Context, outcome string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordTurn(ctx, outcome)
	}
}

func (c *Controller) recordProvider(ctx context.Context, kind string, err error) {
	if c.cfg.Metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		c.cfg.Metrics.RecordProviderError(ctx, kind, c.State().String())
	}
	c.cfg.Metrics.RecordProviderRequest(ctx, kind, c.State().String(), status)
}
