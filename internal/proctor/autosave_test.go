package proctor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSaver wraps a controllable SaveFunc and records every batch.
type testSaver struct {
	mu      sync.Mutex
	batches []map[string]string
	active  int
	maxSeen int
	fail    bool
}

func (s *testSaver) save(ctx context.Context, answers map[string]string) error {
	s.mu.Lock()
	s.active++
	if s.active > s.maxSeen {
		s.maxSeen = s.active
	}
	fail := s.fail
	s.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	s.mu.Lock()
	s.active--
	if !fail {
		cp := make(map[string]string, len(answers))
		for k, v := range answers {
			cp[k] = v
		}
		s.batches = append(s.batches, cp)
	}
	s.mu.Unlock()

	if fail {
		return errors.New("persistence unavailable")
	}
	return nil
}

func (s *testSaver) latest() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batches) == 0 {
		return nil
	}
	return s.batches[len(s.batches)-1]
}

func fastAutoSaver(save SaveFunc) *AutoSaver {
	a := NewAutoSaver(save, zerolog.Nop())
	a.maxRetries = 1
	a.baseBackoff = time.Millisecond
	a.failThreshold = 2
	return a
}

func TestAutoSaverFlushesAnswers(t *testing.T) {
	saver := &testSaver{}
	a := fastAutoSaver(saver.save)

	a.OnAnswerChange("q1", "A")
	require.Eventually(t, func() bool {
		got := saver.latest()
		return got != nil && got["q1"] == "A"
	}, 2*time.Second, time.Millisecond)
	assert.False(t, a.Degraded())
}

func TestAutoSaverAtMostOneInFlight(t *testing.T) {
	saver := &testSaver{}
	a := fastAutoSaver(saver.save)

	for i := 0; i < 50; i++ {
		a.OnAnswerChange("q1", "v")
		a.OnTick()
	}

	require.Eventually(t, func() bool {
		saver.mu.Lock()
		defer saver.mu.Unlock()
		return saver.active == 0 && len(saver.batches) > 0
	}, 2*time.Second, time.Millisecond)

	saver.mu.Lock()
	defer saver.mu.Unlock()
	assert.Equal(t, 1, saver.maxSeen)
}

func TestAutoSaverDegradedModeAndRecovery(t *testing.T) {
	saver := &testSaver{fail: true}
	a := fastAutoSaver(saver.save)

	// Two failed batches (threshold) flip the degraded flag.
	a.OnAnswerChange("q1", "A")
	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return !a.inflight && a.failures == 1
	}, 2*time.Second, time.Millisecond)

	a.OnTick() // re-flush the re-buffered answer
	require.Eventually(t, func() bool { return a.Degraded() }, 2*time.Second, time.Millisecond)

	// Answers were buffered, not lost; recovery clears the flag.
	saver.mu.Lock()
	saver.fail = false
	saver.mu.Unlock()

	a.OnTick()
	require.Eventually(t, func() bool {
		got := saver.latest()
		return got != nil && got["q1"] == "A"
	}, 2*time.Second, time.Millisecond)
	assert.False(t, a.Degraded())
}

func TestAutoSaverFailedBatchDoesNotClobberNewerAnswer(t *testing.T) {
	saver := &testSaver{fail: true}
	a := fastAutoSaver(saver.save)

	a.OnAnswerChange("q1", "old")
	// While the failing save is in flight, the student revises the answer.
	a.OnAnswerChange("q1", "new")

	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return !a.inflight
	}, 2*time.Second, time.Millisecond)

	saver.mu.Lock()
	saver.fail = false
	saver.mu.Unlock()

	a.OnTick()
	require.Eventually(t, func() bool {
		got := saver.latest()
		return got != nil && got["q1"] == "new"
	}, 2*time.Second, time.Millisecond)
}

func TestAutoSaverClosedStopsFlushing(t *testing.T) {
	saver := &testSaver{}
	a := fastAutoSaver(saver.save)

	a.Close()
	a.OnAnswerChange("q1", "A")
	a.OnTick()

	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, saver.latest())
}
