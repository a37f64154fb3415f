package proctor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveDeadline(t *testing.T) {
	due := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)
	lock := time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)
	open := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	t.Run("only due date", func(t *testing.T) {
		got := EffectiveDeadline(nil, &due, nil)
		assert.Equal(t, &due, got)
	})

	t.Run("lock wins over due", func(t *testing.T) {
		got := EffectiveDeadline(&open, &due, &lock)
		assert.Equal(t, &lock, got)
	})

	t.Run("only lock", func(t *testing.T) {
		got := EffectiveDeadline(nil, nil, &lock)
		assert.Equal(t, &lock, got)
	})

	t.Run("neither set", func(t *testing.T) {
		assert.Nil(t, EffectiveDeadline(&open, nil, nil))
	})
}

func TestIsOverdue(t *testing.T) {
	due := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)

	t.Run("no deadline never overdue", func(t *testing.T) {
		farFuture := time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC)
		assert.False(t, IsOverdue(nil, nil, nil, farFuture))
	})

	t.Run("before deadline", func(t *testing.T) {
		assert.False(t, IsOverdue(nil, &due, nil, due.Add(-time.Hour)))
	})

	t.Run("after deadline", func(t *testing.T) {
		assert.True(t, IsOverdue(nil, &due, nil, due.Add(time.Minute)))
	})

	t.Run("lock governs when both set", func(t *testing.T) {
		lock := due.Add(-2 * time.Hour)
		now := due.Add(-time.Hour) // past lock, before due
		assert.True(t, IsOverdue(nil, &due, &lock, now))
	})
}
