package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClampCreatedAtNilUsesNow(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, now, ClampCreatedAt(nil, now))
}

func TestClampCreatedAtFutureUsesNow(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	future := now.Add(5 * time.Minute)
	assert.Equal(t, now, ClampCreatedAt(&future, now))
}

func TestClampCreatedAtTooOldUsesNow(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	stale := now.Add(-25 * time.Hour)
	assert.Equal(t, now, ClampCreatedAt(&stale, now))
}

func TestClampCreatedAtRecentPassesThrough(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	reported := now.Add(-90 * time.Second)
	assert.Equal(t, reported, ClampCreatedAt(&reported, now))
}
