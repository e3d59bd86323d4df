package reconcile

import (
	"sync"
	"time"
)

// Throttle runs fn at most once per wait window. The first call runs
// immediately; calls made during the cooldown or while fn is running collapse
// into exactly one trailing run. fn never runs concurrently with itself.
type Throttle struct {
	fn   func()
	wait time.Duration

	mu       sync.Mutex
	running  bool
	trailing bool
	last     time.Time
	timer    *time.Timer
	done     chan struct{}
}

// NewThrottle wraps fn. A zero wait disables the cooldown but still
// serializes runs.
func NewThrottle(fn func(), wait time.Duration) *Throttle {
	return &Throttle{fn: fn, wait: wait}
}

// Trigger requests a run of fn.
func (t *Throttle) Trigger() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		t.trailing = true
		return
	}
	if t.timer != nil {
		return
	}
	t.schedule()
}

// Flush runs fn as soon as possible, skipping any remaining cooldown.
func (t *Throttle) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		t.trailing = true
		return
	}
	t.stopTimer()
	t.start()
}

// Cancel drops a scheduled trailing run. A run already in progress finishes.
func (t *Throttle) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.trailing = false
	t.stopTimer()
}

// Wait blocks until no run is in progress.
func (t *Throttle) Wait() {
	for {
		t.mu.Lock()
		if !t.running {
			t.mu.Unlock()
			return
		}
		done := t.done
		t.mu.Unlock()
		<-done
	}
}

// schedule starts fn now or arms the timer for the end of the window.
// Callers hold mu.
func (t *Throttle) schedule() {
	remaining := t.wait - time.Since(t.last)
	if t.last.IsZero() || remaining <= 0 {
		t.start()
		return
	}
	t.timer = time.AfterFunc(remaining, t.fire)
}

func (t *Throttle) fire() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer == nil {
		return
	}
	t.timer = nil
	if t.running {
		t.trailing = true
		return
	}
	t.start()
}

// start marks fn running and launches it. Callers hold mu.
func (t *Throttle) start() {
	t.running = true
	t.last = time.Now()
	t.done = make(chan struct{})
	go t.run(t.done)
}

func (t *Throttle) run(done chan struct{}) {
	defer close(done)
	t.fn()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	if t.trailing {
		t.trailing = false
		t.schedule()
	}
}

func (t *Throttle) stopTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
