package proctor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type intentRecorder struct {
	mu      sync.Mutex
	intents []Intent
}

func (r *intentRecorder) record(i Intent) {
	r.mu.Lock()
	r.intents = append(r.intents, i)
	r.mu.Unlock()
}

func (r *intentRecorder) kinds() []IntentKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]IntentKind, len(r.intents))
	for i, in := range r.intents {
		out[i] = in.Kind
	}
	return out
}

func startTestEngine(t *testing.T, cfg EngineConfig) (*Engine, *intentRecorder) {
	t.Helper()
	rec := &intentRecorder{}
	if cfg.OnIntent == nil {
		cfg.OnIntent = rec.record
	}
	if cfg.AttemptID == uuid.Nil {
		cfg.AttemptID = uuid.New()
	}
	cfg.Logger = zerolog.Nop()

	eng := NewEngine(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	eng.Start(ctx)
	return eng, rec
}

func waitDone(t *testing.T, eng *Engine) {
	t.Helper()
	select {
	case <-eng.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not tear down in time")
	}
}

func TestEngineTerminatesOnHighRisk(t *testing.T) {
	clock := newFakeClock()
	eng, rec := startTestEngine(t, EngineConfig{
		Budget:       time.Hour,
		Clock:        clock,
		TickInterval: time.Hour, // keep ticks out of this test
	})

	for _, ev := range []string{"FULLSCREEN_EXIT", "FULLSCREEN_EXIT", "FULLSCREEN_EXIT", "TAB_SWITCH"} {
		require.NoError(t, eng.IngestEvent(ev))
	}
	waitDone(t, eng)

	snap := eng.Snapshot()
	assert.Equal(t, StatusTerminated, snap.Status)
	assert.Equal(t, 52, snap.Score)
	assert.Equal(t, RiskHigh, snap.Level)
	assert.Equal(t, 3, snap.Counts[RuleFullscreenExit])

	require.Eventually(t, func() bool {
		for _, k := range rec.kinds() {
			if k == IntentAutoSubmit {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	// Events after termination are rejected and do not change attribution.
	assert.ErrorIs(t, eng.IngestEvent("TAB_SWITCH"), ErrAttemptClosed)
	assert.Equal(t, 52, eng.Snapshot().Score)
	assert.Equal(t, StatusTerminated, eng.Snapshot().Status)
}

func TestEngineExpiresWhenBudgetRunsOut(t *testing.T) {
	clock := newFakeClock()
	eng, rec := startTestEngine(t, EngineConfig{
		Budget:       10 * time.Minute,
		Clock:        clock,
		TickInterval: 5 * time.Millisecond,
	})

	clock.Advance(11 * time.Minute)
	waitDone(t, eng)

	snap := eng.Snapshot()
	assert.Equal(t, StatusExpired, snap.Status)
	assert.Equal(t, 0, snap.RemainingSeconds())
	require.Eventually(t, func() bool {
		for _, k := range rec.kinds() {
			if k == IntentAutoSubmit {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEnginePausesOnMediumThenGraceTerminates(t *testing.T) {
	clock := newFakeClock()
	eng, rec := startTestEngine(t, EngineConfig{
		Budget:       time.Hour,
		Grace:        2 * time.Minute,
		Clock:        clock,
		TickInterval: 5 * time.Millisecond,
	})

	// Two fullscreen exits: 40 points, medium band.
	require.NoError(t, eng.IngestEvent("FULLSCREEN_EXIT"))
	require.NoError(t, eng.IngestEvent("FULLSCREEN_EXIT"))

	require.Eventually(t, func() bool {
		return eng.Snapshot().Status == StatusPaused
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, k := range rec.kinds() {
			if k == IntentPauseTimer {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	remainingAtPause := eng.Snapshot().Remaining

	// Grace window elapses without resolution: fail closed.
	clock.Advance(3 * time.Minute)
	waitDone(t, eng)

	snap := eng.Snapshot()
	assert.Equal(t, StatusTerminated, snap.Status)
	// The timer was frozen for the whole pause.
	assert.Equal(t, remainingAtPause, snap.Remaining)
}

func TestEngineSubmit(t *testing.T) {
	eng, rec := startTestEngine(t, EngineConfig{
		Budget:       time.Hour,
		Clock:        newFakeClock(),
		TickInterval: time.Hour,
	})

	require.NoError(t, eng.Submit())
	waitDone(t, eng)

	assert.Equal(t, StatusSubmitted, eng.Snapshot().Status)
	require.Eventually(t, func() bool {
		ks := rec.kinds()
		return len(ks) == 1 && ks[0] == IntentStopTimer
	}, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, eng.Submit(), ErrAttemptClosed)
}

func TestEngineSubmitDuringTeardownAlwaysReturns(t *testing.T) {
	// Submits racing the owning context's cancellation must all come back:
	// commands already queued are answered during teardown, and later ones
	// are rejected up front.
	eng := NewEngine(EngineConfig{
		AttemptID:    uuid.New(),
		Budget:       time.Hour,
		Clock:        newFakeClock(),
		TickInterval: time.Hour,
		Logger:       zerolog.Nop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	eng.Start(ctx)

	const n = 25
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			results <- eng.Submit()
		}()
	}
	cancel()

	for i := 0; i < n; i++ {
		select {
		case err := <-results:
			if err != nil {
				assert.ErrorIs(t, err, ErrAttemptClosed)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("submit never returned after cancellation")
		}
	}
}

func TestEngineRejectsDeterministicallyOnceClosed(t *testing.T) {
	eng, _ := startTestEngine(t, EngineConfig{
		Budget:       time.Hour,
		Clock:        newFakeClock(),
		TickInterval: time.Hour,
	})

	require.NoError(t, eng.Submit())
	waitDone(t, eng)

	// Every call after teardown must reject; none may report success.
	for i := 0; i < 100; i++ {
		assert.ErrorIs(t, eng.IngestEvent("TAB_SWITCH"), ErrAttemptClosed)
	}
	assert.ErrorIs(t, eng.Submit(), ErrAttemptClosed)
	assert.ErrorIs(t, eng.Override(OverrideResume, "too late"), ErrAttemptClosed)
}

func TestEngineOverrideResumeThenTerminate(t *testing.T) {
	clock := newFakeClock()
	eng, _ := startTestEngine(t, EngineConfig{
		Budget:       time.Hour,
		Grace:        time.Hour,
		Clock:        clock,
		TickInterval: time.Hour,
	})

	require.NoError(t, eng.IngestEvent("FULLSCREEN_EXIT"))
	require.NoError(t, eng.IngestEvent("FULLSCREEN_EXIT"))
	require.Eventually(t, func() bool {
		return eng.Snapshot().Status == StatusPaused
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, eng.Override(OverrideResume, "appeal accepted"))
	assert.Equal(t, StatusActive, eng.Snapshot().Status)

	require.NoError(t, eng.Override(OverrideTerminate, "repeated violations"))
	waitDone(t, eng)
	assert.Equal(t, StatusTerminated, eng.Snapshot().Status)
}

func TestEngineOverrideResumeSticksUntilScoreRises(t *testing.T) {
	clock := newFakeClock()
	eng, _ := startTestEngine(t, EngineConfig{
		Budget:       time.Hour,
		Grace:        time.Hour,
		Clock:        clock,
		TickInterval: time.Hour,
	})

	// Two fullscreen exits reach the medium band (capped at 40): paused.
	require.NoError(t, eng.IngestEvent("FULLSCREEN_EXIT"))
	require.NoError(t, eng.IngestEvent("FULLSCREEN_EXIT"))
	require.Eventually(t, func() bool {
		return eng.Snapshot().Status == StatusPaused
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, eng.Override(OverrideResume, "appeal accepted"))
	assert.Equal(t, StatusActive, eng.Snapshot().Status)

	// Events that do not raise the score past the resume point must not
	// re-trigger the pause the teacher just cleared: the unknown event
	// scores zero, and a further fullscreen exit is absorbed by the cap.
	require.NoError(t, eng.IngestEvent("MOUSE_JIGGLE"))
	require.NoError(t, eng.IngestEvent("FULLSCREEN_EXIT"))
	require.Eventually(t, func() bool {
		return eng.Snapshot().Counts[RuleFullscreenExit] == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusActive, eng.Snapshot().Status)
	assert.Equal(t, 40, eng.Snapshot().Score)

	// Fresh evidence past the resume point still escalates.
	require.NoError(t, eng.IngestEvent("TAB_SWITCH"))
	waitDone(t, eng)
	assert.Equal(t, StatusTerminated, eng.Snapshot().Status)
	assert.Equal(t, 52, eng.Snapshot().Score)
}

func TestEngineSerializesConcurrentIngestion(t *testing.T) {
	// Thresholds high enough that nothing transitions; we only check that
	// concurrent events funnel through the actor without losing counts.
	scorer := NewScorer(DefaultRuleTable(), RiskThresholds{Medium: 1 << 20, High: 1 << 21})
	eng, _ := startTestEngine(t, EngineConfig{
		Budget:       time.Hour,
		Clock:        newFakeClock(),
		TickInterval: time.Hour,
		Scorer:       scorer,
	})

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = eng.IngestEvent("CLIPBOARD")
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return eng.Snapshot().Counts[RuleClipboard] == n
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, n*8, eng.Snapshot().Score)
}

func TestEngineClockFailurePausesAttempt(t *testing.T) {
	eng, rec := startTestEngine(t, EngineConfig{
		Budget:       time.Hour,
		Grace:        time.Hour,
		Clock:        newFakeClock(),
		TickInterval: time.Hour,
	})

	require.NoError(t, eng.ReportClockFailure())
	require.Eventually(t, func() bool {
		return eng.Snapshot().Status == StatusPaused
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, k := range rec.kinds() {
			if k == IntentNotify {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEngineAnswerChangeFlowsToSaver(t *testing.T) {
	var mu sync.Mutex
	saved := make(map[string]string)
	saver := NewAutoSaver(func(ctx context.Context, answers map[string]string) error {
		mu.Lock()
		for k, v := range answers {
			saved[k] = v
		}
		mu.Unlock()
		return nil
	}, zerolog.Nop())

	eng, _ := startTestEngine(t, EngineConfig{
		Budget:       time.Hour,
		Clock:        newFakeClock(),
		TickInterval: time.Hour,
		Saver:        saver,
	})

	require.NoError(t, eng.AnswerChange("q1", "B"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return saved["q1"] == "B"
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, eng.Snapshot().Degraded)
}
