package turn

import (
	"sync"
	"time"
)

// DefaultRecordTimeout is the ceiling on a single recording.
const DefaultRecordTimeout = 30 * time.Second

// Stopper is a scheduled callback that can be cancelled.
type Stopper interface {
	// Stop prevents the callback from running. It reports false when the
	// callback already ran or was stopped.
	Stop() bool
}

// Clock schedules callbacks. [RealClock] uses the runtime timer; tests supply
// a clock they advance by hand.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Stopper
}

// RealClock is the wall-clock [Clock].
type RealClock struct{}

// AfterFunc implements [Clock] with [time.AfterFunc].
func (RealClock) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// Timer bounds one recording. It invokes the stop function handed to
// [Timer.Arm] at most once, whether the deadline passes or the recording is
// stopped early through [Timer.Fire].
//
// A Timer is safe for concurrent use.
type Timer struct {
	clock Clock

	mu      sync.Mutex
	gen     uint64
	pending Stopper
	stop    func()
}

// NewTimer returns an unarmed Timer on clock. A nil clock means [RealClock].
func NewTimer(clock Clock) *Timer {
	if clock == nil {
		clock = RealClock{}
	}
	return &Timer{clock: clock}
}

// Arm schedules stop to run after d. An outstanding countdown is cancelled
// first, so at most one is armed at a time.
func (t *Timer) Arm(d time.Duration, stop func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	t.gen++
	gen := t.gen
	t.stop = stop
	t.pending = t.clock.AfterFunc(d, func() { t.expire(gen) })
}

// Cancel disarms the timer. It reports whether it prevented stop from
// running; false means stop already ran or nothing was armed. Cancel is
// idempotent.
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelLocked()
}

// Fire disarms the timer and runs stop immediately. It reports false, and
// runs nothing, when stop already ran or nothing was armed.
func (t *Timer) Fire() bool {
	t.mu.Lock()
	stop := t.stop
	t.cancelLocked()
	t.mu.Unlock()
	if stop == nil {
		return false
	}
	stop()
	return true
}

// Armed reports whether a countdown is outstanding.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

func (t *Timer) expire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.stop == nil {
		t.mu.Unlock()
		return
	}
	stop := t.stop
	t.stop = nil
	t.pending = nil
	t.mu.Unlock()
	stop()
}

// cancelLocked must be called with t.mu held.
func (t *Timer) cancelLocked() bool {
	if t.stop == nil {
		return false
	}
	t.pending.Stop()
	t.pending = nil
	t.stop = nil
	t.gen++
	return true
}
