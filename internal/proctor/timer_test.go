package proctor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerCountsDown(t *testing.T) {
	clock := newFakeClock()
	timer := NewTimer(10*time.Minute, clock)
	timer.Start()

	clock.Advance(3 * time.Minute)
	assert.Equal(t, 7*time.Minute, timer.Tick())

	clock.Advance(7 * time.Minute)
	assert.Equal(t, time.Duration(0), timer.Tick())
	assert.True(t, timer.Expired())
}

func TestTimerClampsAtZero(t *testing.T) {
	clock := newFakeClock()
	timer := NewTimer(time.Minute, clock)
	timer.Start()

	clock.Advance(time.Hour)
	assert.Equal(t, time.Duration(0), timer.Tick())
}

func TestTimerPauseResumeLosesNothing(t *testing.T) {
	clock := newFakeClock()
	timer := NewTimer(10*time.Minute, clock)
	timer.Start()

	clock.Advance(2 * time.Minute)
	timer.Pause()
	before := timer.Tick()

	// An immediate resume changes remaining time by zero.
	timer.Resume()
	assert.Equal(t, before, timer.Tick())

	// Time spent paused is not charged against the budget.
	timer.Pause()
	clock.Advance(30 * time.Minute)
	assert.Equal(t, 8*time.Minute, timer.Tick())

	timer.Resume()
	clock.Advance(time.Minute)
	assert.Equal(t, 7*time.Minute, timer.Tick())
}

func TestTimerExtend(t *testing.T) {
	clock := newFakeClock()
	timer := NewTimer(5*time.Minute, clock)
	timer.Start()

	timer.Extend(10 * time.Minute)
	assert.Equal(t, 15*time.Minute, timer.Tick())

	// Negative extension is ignored; time is never silently removed.
	timer.Extend(-time.Hour)
	assert.Equal(t, 15*time.Minute, timer.Tick())
}

func TestTimerDoubleStartIsNoop(t *testing.T) {
	clock := newFakeClock()
	timer := NewTimer(5*time.Minute, clock)
	timer.Start()
	clock.Advance(time.Minute)
	timer.Start()
	assert.Equal(t, 4*time.Minute, timer.Tick())
}

func TestTimerNegativeBudget(t *testing.T) {
	timer := NewTimer(-time.Minute, newFakeClock())
	timer.Start()
	assert.Equal(t, time.Duration(0), timer.Tick())
}
