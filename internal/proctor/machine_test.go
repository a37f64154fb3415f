package proctor

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMachine(clock Clock) *Machine {
	return NewMachine(2*time.Minute, clock, zerolog.Nop())
}

func kinds(intents []Intent) []IntentKind {
	out := make([]IntentKind, len(intents))
	for i, in := range intents {
		out[i] = in.Kind
	}
	return out
}

func TestMachineMediumRiskPauses(t *testing.T) {
	m := newTestMachine(newFakeClock())

	intents, err := m.OnRisk(RiskMedium)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, m.Status())
	assert.Contains(t, kinds(intents), IntentPauseTimer)
	assert.Contains(t, kinds(intents), IntentNotify)
}

func TestMachineHighRiskTerminatesAndAutoSubmits(t *testing.T) {
	m := newTestMachine(newFakeClock())

	intents, err := m.OnRisk(RiskHigh)
	require.NoError(t, err)
	assert.Equal(t, StatusTerminated, m.Status())
	assert.Equal(t, []IntentKind{IntentStopTimer, IntentAutoSubmit, IntentNotify}, kinds(intents))
}

func TestMachinePausedRecoversWithinGrace(t *testing.T) {
	clock := newFakeClock()
	m := newTestMachine(clock)

	_, err := m.OnRisk(RiskMedium)
	require.NoError(t, err)

	clock.Advance(time.Minute) // inside the 2 minute window
	intents, err := m.OnRisk(RiskLow)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, m.Status())
	assert.Equal(t, []IntentKind{IntentResumeTimer}, kinds(intents))
}

func TestMachinePausedEscalatesToHigh(t *testing.T) {
	m := newTestMachine(newFakeClock())
	_, _ = m.OnRisk(RiskMedium)

	intents, err := m.OnRisk(RiskHigh)
	require.NoError(t, err)
	assert.Equal(t, StatusTerminated, m.Status())
	assert.Contains(t, kinds(intents), IntentAutoSubmit)
}

func TestMachineGraceWindowElapsesFailClosed(t *testing.T) {
	clock := newFakeClock()
	m := newTestMachine(clock)
	_, _ = m.OnRisk(RiskMedium)

	clock.Advance(time.Minute)
	intents, err := m.OnTick()
	require.NoError(t, err)
	assert.Empty(t, intents)
	assert.Equal(t, StatusPaused, m.Status())

	clock.Advance(90 * time.Second)
	intents, err = m.OnTick()
	require.NoError(t, err)
	assert.Equal(t, StatusTerminated, m.Status())
	assert.Contains(t, kinds(intents), IntentNotify)
}

func TestMachineRecoveryAfterGraceDoesNotReactivate(t *testing.T) {
	clock := newFakeClock()
	m := newTestMachine(clock)
	_, _ = m.OnRisk(RiskMedium)

	clock.Advance(3 * time.Minute)
	intents, err := m.OnRisk(RiskLow)
	require.NoError(t, err)
	assert.Empty(t, intents)
	assert.Equal(t, StatusPaused, m.Status())
}

func TestMachineTimerExpiry(t *testing.T) {
	m := newTestMachine(newFakeClock())

	intents, err := m.OnTimerExpired()
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, m.Status())
	assert.Contains(t, kinds(intents), IntentAutoSubmit)
}

func TestMachineSubmit(t *testing.T) {
	m := newTestMachine(newFakeClock())

	intents, err := m.OnSubmit()
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, m.Status())
	assert.Equal(t, []IntentKind{IntentStopTimer}, kinds(intents))
}

func TestMachineTerminalStatesAbsorb(t *testing.T) {
	for _, setup := range []func(m *Machine){
		func(m *Machine) { _, _ = m.OnSubmit() },
		func(m *Machine) { _, _ = m.OnRisk(RiskHigh) },
		func(m *Machine) { _, _ = m.OnTimerExpired() },
	} {
		m := newTestMachine(newFakeClock())
		setup(m)
		final := m.Status()
		require.True(t, final.Terminal())

		_, err := m.OnSubmit()
		assert.ErrorIs(t, err, ErrAttemptClosed)
		_, err = m.OnRisk(RiskHigh)
		assert.ErrorIs(t, err, ErrAttemptClosed)
		_, err = m.OnTimerExpired()
		assert.ErrorIs(t, err, ErrAttemptClosed)
		_, err = m.OnOverride(OverrideResume, "appeal")
		assert.ErrorIs(t, err, ErrAttemptClosed)

		// Ticks after teardown are benign no-ops, not protocol violations.
		intents, err := m.OnTick()
		assert.NoError(t, err)
		assert.Empty(t, intents)

		assert.Equal(t, final, m.Status())
	}
}

func TestMachineOverride(t *testing.T) {
	t.Run("resume from paused", func(t *testing.T) {
		m := newTestMachine(newFakeClock())
		_, _ = m.OnRisk(RiskMedium)

		intents, err := m.OnOverride(OverrideResume, "teacher cleared appeal")
		require.NoError(t, err)
		assert.Equal(t, StatusActive, m.Status())
		assert.Equal(t, []IntentKind{IntentResumeTimer}, kinds(intents))
	})

	t.Run("terminate from active", func(t *testing.T) {
		m := newTestMachine(newFakeClock())

		intents, err := m.OnOverride(OverrideTerminate, "caught on camera")
		require.NoError(t, err)
		assert.Equal(t, StatusTerminated, m.Status())
		assert.Contains(t, kinds(intents), IntentAutoSubmit)
	})

	t.Run("unknown action", func(t *testing.T) {
		m := newTestMachine(newFakeClock())
		_, err := m.OnOverride(OverrideAction("freeze"), "")
		assert.Error(t, err)
		assert.Equal(t, StatusActive, m.Status())
	})
}

func TestMachineClockFailurePauses(t *testing.T) {
	m := newTestMachine(newFakeClock())

	intents, err := m.OnClockFailure()
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, m.Status())
	assert.Contains(t, kinds(intents), IntentPauseTimer)

	// Idempotent while already paused.
	intents, err = m.OnClockFailure()
	require.NoError(t, err)
	assert.Empty(t, intents)
}
