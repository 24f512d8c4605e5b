package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/charactercall/internal/casting"
	"github.com/MrWong99/charactercall/internal/config"
	"github.com/MrWong99/charactercall/internal/conversation"
	"github.com/MrWong99/charactercall/internal/observe"
	"github.com/MrWong99/charactercall/internal/turn"
	"github.com/MrWong99/charactercall/pkg/audio"
	"github.com/MrWong99/charactercall/pkg/audio/wsbridge"
	"github.com/MrWong99/charactercall/pkg/types"
)

// DefaultFormatTimeout bounds the wait for the browser to announce its
// recorder formats.
const DefaultFormatTimeout = 10 * time.Second

// DefaultEndGrace is how long [SessionManager.End] lets a call finish its
// current stage before cancelling it.
const DefaultEndGrace = 2 * time.Second

var (
	// ErrSessionNotFound is returned by [SessionManager.End] for an unknown id.
	ErrSessionNotFound = errors.New("app: session not found")

	// ErrShuttingDown is returned by [SessionManager.Serve] once
	// [SessionManager.Shutdown] has begun.
	ErrShuttingDown = errors.New("app: shutting down")

	errHungUp = errors.New("app: browser disconnected")
)

// Endpoint is the browser side of a call: its microphone, its speaker, and
// its stream of user intents. Done is closed once the browser has gone.
// [*wsbridge.Bridge] implements it.
type Endpoint interface {
	audio.Device
	audio.Player
	Controls() <-chan wsbridge.Control
	Done() <-chan struct{}
	WaitFormat(ctx context.Context) error
	Send(ctx context.Context, v any) error
	Close() error
}

var _ Endpoint = (*wsbridge.Bridge)(nil)

// SessionInfo describes a live call.
type SessionInfo struct {
	ID        string      `json:"id"`
	Character string      `json:"character"`
	Voice     types.Voice `json:"voice,omitempty"`
	ImageURL  string      `json:"image_url,omitempty"`
	State     string      `json:"state"`
	Turns     int         `json:"turns"`
	StartedAt time.Time   `json:"started_at"`
}

// SessionManagerConfig holds the dependencies of a [SessionManager].
type SessionManagerConfig struct {
	// Providers serve every call. STT, TTS, and Assistant are required.
	Providers *Providers

	// Conversation tunes new calls. See [SessionManager.UpdateConversation].
	Conversation config.ConversationConfig

	Metrics *observe.Metrics

	// Clock drives record timers. Default: [turn.RealClock].
	Clock turn.Clock

	// Sleeper paces assistant polling. Default: [conversation.Sleep].
	Sleeper conversation.Sleeper

	// Now timestamps sessions and turns. Default: time.Now.
	Now func() time.Time

	// FormatTimeout overrides [DefaultFormatTimeout].
	FormatTimeout time.Duration

	// EndGrace overrides [DefaultEndGrace].
	EndGrace time.Duration
}

// call is one live session. ctrl is nil while the character is cast.
type call struct {
	info   SessionInfo
	ctrl   *turn.Controller
	cancel context.CancelFunc
}

// SessionManager runs any number of independent calls, one turn controller
// per browser connection. All exported methods are safe for concurrent use.
type SessionManager struct {
	providers     *Providers
	metrics       *observe.Metrics
	clock         turn.Clock
	sleeper       conversation.Sleeper
	now           func() time.Time
	formatTimeout time.Duration
	endGrace      time.Duration

	mu       sync.Mutex
	conv     config.ConversationConfig
	calls    map[string]*call
	closed   bool
	inflight sync.WaitGroup
}

// NewSessionManager validates cfg and returns a SessionManager.
func NewSessionManager(cfg SessionManagerConfig) (*SessionManager, error) {
	if err := cfg.Providers.validate(); err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.FormatTimeout <= 0 {
		cfg.FormatTimeout = DefaultFormatTimeout
	}
	if cfg.EndGrace <= 0 {
		cfg.EndGrace = DefaultEndGrace
	}
	return &SessionManager{
		providers:     cfg.Providers,
		metrics:       cfg.Metrics,
		clock:         cfg.Clock,
		sleeper:       cfg.Sleeper,
		now:           cfg.Now,
		formatTimeout: cfg.FormatTimeout,
		endGrace:      cfg.EndGrace,
		conv:          cfg.Conversation,
		calls:         make(map[string]*call),
	}, nil
}

// UpdateConversation replaces the settings used by calls started from now on.
// Running calls keep theirs.
func (sm *SessionManager) UpdateConversation(c config.ConversationConfig) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.conv = c
}

func (sm *SessionManager) conversation() config.ConversationConfig {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.conv
}

// Serve runs one call with character over ep and blocks until it ends.
// It returns nil when the user ends the call or disconnects, and an error
// when the call could not start or the audio device was lost. A disconnect
// cancels whatever stage is running. ep is closed on return.
func (sm *SessionManager) Serve(ctx context.Context, character string, ep Endpoint) error {
	defer ep.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ep.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	c := &call{
		info: SessionInfo{
			ID:        uuid.NewString(),
			Character: character,
			State:     stateCasting,
			StartedAt: sm.now(),
		},
		cancel: cancel,
	}
	if err := sm.add(ctx, c); err != nil {
		return err
	}
	defer sm.remove(c.info.ID)

	log := slog.With("session_id", c.info.ID, "character", character)
	out := newOutbox(ep, log)
	defer out.close()
	out.push(sessionFrame{Type: "session", ID: c.info.ID})

	ctrl, err := sm.prepare(ctx, c, ep, out)
	if err != nil && ctx.Err() != nil {
		log.Info("call closed before it started")
		out.push(endedFrame{Type: "ended", Reason: "closed"})
		return nil
	}
	if err != nil {
		log.Warn("call could not start", "err", err)
		out.push(errorFrame{Type: "error", Message: err.Error()})
		out.push(endedFrame{Type: "ended", Reason: "error"})
		return err
	}
	log.Info("call started", "voice", c.info.Voice)

	err = sm.run(ctx, ctrl, ep)
	switch {
	case err == nil:
		out.push(endedFrame{Type: "ended", Reason: "ended"})
	case errors.Is(err, errHungUp) || ctx.Err() != nil || hungUp(ep):
		// A stage cut short by the disconnect may surface as a lost device.
		out.push(endedFrame{Type: "ended", Reason: "closed"})
		err = nil
	case errors.Is(err, turn.ErrFaulted):
		out.push(errorFrame{Type: "error", Message: err.Error()})
		out.push(endedFrame{Type: "ended", Reason: "faulted"})
	default:
		out.push(errorFrame{Type: "error", Message: err.Error()})
		out.push(endedFrame{Type: "ended", Reason: "error"})
	}
	log.Info("call ended", "turns", ctrl.Log().Len(), "err", err)
	return err
}

// prepare negotiates the recording format, casts the character, and builds
// the call's turn controller.
func (sm *SessionManager) prepare(ctx context.Context, c *call, ep Endpoint, out *outbox) (*turn.Controller, error) {
	fctx, fcancel := context.WithTimeout(ctx, sm.formatTimeout)
	err := ep.WaitFormat(fctx)
	fcancel()
	if err != nil {
		return nil, fmt.Errorf("app: wait for recorder formats: %w", err)
	}
	capture, err := audio.NewCapture(ep, audio.WithClock(sm.now))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	conv := sm.conversation()
	caster, err := casting.New(casting.Config{
		Assistant:    sm.providers.Assistant,
		LLM:          sm.providers.LLM,
		Image:        sm.providers.Image,
		Model:        conv.AssistantModel,
		SeedTemplate: conv.SeedPrompt,
		DefaultVoice: conv.Voice,
		Metrics:      sm.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	out.push(newStateFrame("", stateCasting))
	ch, err := caster.Cast(ctx, c.info.Character)
	if err != nil {
		return nil, fmt.Errorf("app: cast %q: %w", c.info.Character, err)
	}
	out.push(characterFrame{
		Type:       "character",
		Name:       ch.Name,
		Voice:      ch.Voice.String(),
		Appearance: ch.Appearance,
		ImageURL:   ch.ImageURL,
	})

	session, err := conversation.NewSession(ch.AssistantID, ch.Voice)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	opts := []conversation.Option{
		conversation.WithPollInterval(conv.PollInterval),
		conversation.WithMaxAttempts(conv.MaxRunAttempts),
		conversation.WithMetrics(sm.metrics),
	}
	if sm.sleeper != nil {
		opts = append(opts, conversation.WithSleeper(sm.sleeper))
	}
	client, err := conversation.NewClient(sm.providers.Assistant, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	ctrl, err := turn.New(turn.Config{
		SessionID:     c.info.ID,
		Session:       session,
		Recorder:      capture,
		Player:        ep,
		STT:           sm.providers.STT,
		Conversation:  client,
		TTS:           sm.providers.TTS,
		SeedPrompt:    ch.SeedPrompt,
		RecordTimeout: conv.RecordTimeout,
		Clock:         sm.clock,
		Now:           sm.now,
		Metrics:       sm.metrics,
		OnState: func(from, to turn.State) {
			out.push(newStateFrame(from.String(), to.String()))
		},
		OnTurn: func(t turn.Turn) {
			out.push(newTurnFrame(t))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	sm.mu.Lock()
	c.ctrl = ctrl
	c.info.Voice = ch.Voice
	c.info.ImageURL = ch.ImageURL
	sm.mu.Unlock()
	return ctrl, nil
}

// run drives ctrl until it stops, feeding it the browser's controls. A
// closed control channel means the browser left: the controller is cancelled
// mid-stage rather than asked to end after it.
func (sm *SessionManager) run(ctx context.Context, ctrl *turn.Controller, ep Endpoint) error {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var g errgroup.Group
	g.Go(func() error {
		defer cancel(nil)
		return ctrl.Run(runCtx)
	})
	g.Go(func() error {
		return forwardControls(runCtx, cancel, ctrl, ep.Controls())
	})
	err := g.Wait()
	if err != nil && errors.Is(context.Cause(runCtx), errHungUp) {
		return errHungUp
	}
	return err
}

func forwardControls(ctx context.Context, cancel context.CancelCauseFunc, ctrl *turn.Controller, controls <-chan wsbridge.Control) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-controls:
			if !ok {
				cancel(errHungUp)
				return nil
			}
			ev, ok := controlEvent(c)
			if !ok {
				continue
			}
			if err := post(ctx, ctrl, ev); err != nil {
				return err
			}
		}
	}
}

func hungUp(ep Endpoint) bool {
	select {
	case <-ep.Done():
		return true
	default:
		return false
	}
}

// post delivers ev, treating a stopped controller or a finished call as done.
func post(ctx context.Context, ctrl *turn.Controller, ev turn.Event) error {
	err := ctrl.Post(ctx, ev)
	if err == nil || errors.Is(err, turn.ErrStopped) || ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("app: post %s: %w", ev, err)
}

func (sm *SessionManager) add(ctx context.Context, c *call) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closed {
		return ErrShuttingDown
	}
	sm.calls[c.info.ID] = c
	sm.inflight.Add(1)
	if sm.metrics != nil {
		sm.metrics.ActiveSessions.Add(ctx, 1)
	}
	return nil
}

func (sm *SessionManager) remove(id string) {
	sm.mu.Lock()
	delete(sm.calls, id)
	sm.mu.Unlock()
	if sm.metrics != nil {
		sm.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	sm.inflight.Done()
}

// Sessions returns the live calls, oldest first.
func (sm *SessionManager) Sessions() []SessionInfo {
	sm.mu.Lock()
	infos := make([]SessionInfo, 0, len(sm.calls))
	ctrls := make([]*turn.Controller, 0, len(sm.calls))
	for _, c := range sm.calls {
		infos = append(infos, c.info)
		ctrls = append(ctrls, c.ctrl)
	}
	sm.mu.Unlock()

	for i, ctrl := range ctrls {
		if ctrl != nil {
			infos[i].State = ctrl.State().String()
			infos[i].Turns = ctrl.Log().Len()
		}
	}
	slices.SortFunc(infos, func(a, b SessionInfo) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), cmp.Compare(a.ID, b.ID))
	})
	return infos
}

// End asks the call id to finish. A call still being cast is cancelled, and
// a call whose current stage outlasts the end grace period is cancelled
// once it expires. End does not wait for the call to stop.
func (sm *SessionManager) End(ctx context.Context, id string) error {
	sm.mu.Lock()
	c, ok := sm.calls[id]
	var ctrl *turn.Controller
	if ok {
		ctrl = c.ctrl
	}
	sm.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if ctrl == nil {
		c.cancel()
		return nil
	}
	if err := ctrl.Post(ctx, turn.EventEnd); err != nil {
		if errors.Is(err, turn.ErrStopped) {
			return nil
		}
		c.cancel()
		return fmt.Errorf("app: end %s: %w", id, err)
	}
	go func() {
		t := time.NewTimer(sm.endGrace)
		defer t.Stop()
		select {
		case <-ctrl.Done():
		case <-t.C:
			slog.Info("app: call did not end within grace period, cancelling", "session_id", id)
			c.cancel()
		}
	}()
	return nil
}

// Shutdown refuses new calls, ends the live ones, and waits for them to
// finish or for ctx to expire. Calls still running at the deadline are
// cancelled.
func (sm *SessionManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	sm.closed = true
	ids := make([]string, 0, len(sm.calls))
	for id := range sm.calls {
		ids = append(ids, id)
	}
	sm.mu.Unlock()

	for _, id := range ids {
		if err := sm.End(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			slog.Warn("app: end session", "session_id", id, "err", err)
		}
	}

	done := make(chan struct{})
	go func() {
		sm.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		sm.mu.Lock()
		for _, c := range sm.calls {
			c.cancel()
		}
		sm.mu.Unlock()
		return ctx.Err()
	}
}
