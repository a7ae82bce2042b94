package session

import (
	"sync"
	"time"
)

// defaultPollInterval is how often the background watcher re-checks the
// remaining time. Expiry precision is bounded by this interval; the
// remaining time itself is always exact because it is recomputed from the
// wall clock.
const defaultPollInterval = 250 * time.Millisecond

// Timer tracks elapsed versus remaining interview time against a fixed
// budget, accounting for paused intervals. Remaining time is recomputed
// from wall-clock deltas on every read — never accumulated from ticks — so
// a stalled scheduler cannot desynchronize it.
//
// Start, Pause, Resume and Remaining are callable in any order without
// error and are idempotent on repeated Pause/Resume. When remaining hits
// zero the expiry callback fires exactly once, even if Remaining is polled
// repeatedly at zero and the background watcher races a poll.
//
// All methods are safe for concurrent use.
type Timer struct {
	budget time.Duration
	now    func() time.Time
	poll   time.Duration

	// onExpire is invoked without the lock held.
	onExpire func()

	mu          sync.Mutex
	startEpoch  time.Time // zero until Start
	pauseStart  time.Time // zero unless paused
	totalPaused time.Duration
	expired     bool
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// TimerOption configures a Timer.
type TimerOption func(*Timer)

// WithClock injects the time source. Tests use a fake clock so expiry can
// be driven without sleeping.
func WithClock(now func() time.Time) TimerOption {
	return func(t *Timer) { t.now = now }
}

// WithExpiry sets the callback fired exactly once when the budget is
// exhausted.
func WithExpiry(fn func()) TimerOption {
	return func(t *Timer) { t.onExpire = fn }
}

// WithPollInterval sets the background expiry check interval.
func WithPollInterval(d time.Duration) TimerOption {
	return func(t *Timer) {
		if d > 0 {
			t.poll = d
		}
	}
}

// NewTimer creates a timer for the given budget. The timer does not run
// until Start is called.
func NewTimer(budget time.Duration, opts ...TimerOption) *Timer {
	t := &Timer{
		budget: budget,
		now:    time.Now,
		poll:   defaultPollInterval,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins the countdown and launches the background expiry watcher.
// Calling Start again is a no-op.
func (t *Timer) Start() {
	t.mu.Lock()
	if !t.startEpoch.IsZero() {
		t.mu.Unlock()
		return
	}
	t.startEpoch = t.now()
	t.mu.Unlock()

	go t.watch()
}

// Pause freezes the countdown. A no-op before Start, while already paused,
// or after expiry.
func (t *Timer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startEpoch.IsZero() || !t.pauseStart.IsZero() || t.expired {
		return
	}
	t.pauseStart = t.now()
}

// Resume continues the countdown after Pause. A no-op when not paused.
func (t *Timer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pauseStart.IsZero() {
		return
	}
	t.totalPaused += t.now().Sub(t.pauseStart)
	t.pauseStart = time.Time{}
}

// Remaining returns the time left, never negative. Reading it also checks
// for expiry, so tests driving a fake clock need no background watcher.
func (t *Timer) Remaining() time.Duration {
	rem, fire := t.check()
	if fire && t.onExpire != nil {
		t.onExpire()
	}
	return rem
}

// Expired reports whether the budget has been exhausted.
func (t *Timer) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}

// Stop halts the background watcher. It does not fire the expiry callback;
// use it when the session ends for another reason. Idempotent.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

// check recomputes remaining time and reports whether this call is the one
// that crossed zero (and therefore owns firing the callback).
func (t *Timer) check() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.startEpoch.IsZero() {
		return t.budget, false
	}

	ref := t.now()
	if !t.pauseStart.IsZero() {
		// Frozen: elapsed stops accumulating at the pause point.
		ref = t.pauseStart
	}
	elapsed := ref.Sub(t.startEpoch) - t.totalPaused
	rem := t.budget - elapsed
	if rem <= 0 {
		rem = 0
		if !t.expired {
			t.expired = true
			return 0, true
		}
	}
	return rem, false
}

// watch polls for expiry in the background so a session with no readers
// still terminates on time.
func (t *Timer) watch() {
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			rem, fire := t.check()
			if fire {
				if t.onExpire != nil {
					t.onExpire()
				}
				return
			}
			if rem == 0 {
				return
			}
		}
	}
}
