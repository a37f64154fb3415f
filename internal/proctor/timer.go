package proctor

import (
	"sync"
	"time"
)

// Clock abstracts time for the timer so tests can drive it deterministically.
// The system implementation relies on Go's monotonic clock readings, so
// wall-clock adjustments on the host cannot stretch remaining time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the monotonic wall clock.
func SystemClock() Clock { return systemClock{} }

// Timer is a per-attempt countdown. It tracks accumulated elapsed duration
// rather than a fixed deadline timestamp, so neither client nor server clock
// tampering can extend the budget. Pausing freezes remaining time exactly;
// a pause/resume cycle loses nothing.
type Timer struct {
	mu        sync.Mutex
	clock     Clock
	budget    time.Duration
	consumed  time.Duration
	running   bool
	resumedAt time.Time
}

// NewTimer creates a stopped timer with the given budget. A nil clock
// defaults to the system clock. Call Start to begin counting down.
func NewTimer(budget time.Duration, clock Clock) *Timer {
	if clock == nil {
		clock = systemClock{}
	}
	if budget < 0 {
		budget = 0
	}
	return &Timer{clock: clock, budget: budget}
}

// Start begins the countdown. Starting an already-running timer is a no-op.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.running = true
	t.resumedAt = t.clock.Now()
}

// Pause freezes the remaining time. Pausing a stopped timer is a no-op.
func (t *Timer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.consumed += t.clock.Now().Sub(t.resumedAt)
	t.running = false
}

// Resume continues the countdown from the frozen value.
func (t *Timer) Resume() {
	t.Start()
}

// Extend grants extra time. Negative deltas are ignored; time is only ever
// granted through an explicit policy, never silently removed.
func (t *Timer) Extend(delta time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if delta > 0 {
		t.budget += delta
	}
}

// Tick returns the remaining time, clamped at zero.
func (t *Timer) Tick() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remainingLocked()
}

// Remaining is an alias for Tick for read-only callers.
func (t *Timer) Remaining() time.Duration { return t.Tick() }

// Expired reports whether the budget is fully consumed.
func (t *Timer) Expired() bool { return t.Tick() <= 0 }

// Running reports whether the timer is currently counting down.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Timer) remainingLocked() time.Duration {
	consumed := t.consumed
	if t.running {
		consumed += t.clock.Now().Sub(t.resumedAt)
	}
	remaining := t.budget - consumed
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}
