package proctor

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Status enumerates attempt lifecycle states. Status only moves forward;
// terminal states are absorbing.
type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusPaused     Status = "PAUSED"
	StatusTerminated Status = "TERMINATED"
	StatusSubmitted  Status = "SUBMITTED"
	StatusExpired    Status = "EXPIRED"
)

// Terminal reports whether the status is absorbing.
func (s Status) Terminal() bool {
	return s == StatusTerminated || s == StatusSubmitted || s == StatusExpired
}

// ErrAttemptClosed is returned for any transition requested from a terminal
// state. The attempt state is left unchanged.
var ErrAttemptClosed = errors.New("attempt is closed")

// IntentKind identifies a side effect the host application must execute.
// The state machine itself performs no I/O.
type IntentKind string

const (
	IntentPauseTimer  IntentKind = "pause_timer"
	IntentResumeTimer IntentKind = "resume_timer"
	IntentStopTimer   IntentKind = "stop_timer"
	IntentAutoSubmit  IntentKind = "auto_submit"
	IntentNotify      IntentKind = "notify"
)

// Intent is a side-effect instruction emitted by a transition.
type Intent struct {
	Kind   IntentKind
	Status Status
	Level  RiskLevel
	Reason string
}

// OverrideAction is a teacher/admin directive applied to a live attempt.
type OverrideAction string

const (
	OverrideResume    OverrideAction = "resume"
	OverrideTerminate OverrideAction = "terminate"
)

// Machine drives one attempt through its lifecycle. It is not safe for
// concurrent use: the owning engine serializes all triggers through a single
// goroutine, so the machine itself carries no locks.
type Machine struct {
	status        Status
	level         RiskLevel
	grace         time.Duration
	graceDeadline time.Time
	clock         Clock
	log           zerolog.Logger
}

// NewMachine creates a machine in ACTIVE with the given pause grace window.
// A paused attempt that is not cleared within the window terminates
// (fail-closed). A nil clock defaults to the system clock.
func NewMachine(grace time.Duration, clock Clock, log zerolog.Logger) *Machine {
	if clock == nil {
		clock = systemClock{}
	}
	return &Machine{
		status: StatusActive,
		level:  RiskLow,
		grace:  grace,
		clock:  clock,
		log:    log.With().Str("component", "attempt_machine").Logger(),
	}
}

// Status returns the current lifecycle state.
func (m *Machine) Status() Status { return m.status }

// Level returns the last risk level the machine evaluated.
func (m *Machine) Level() RiskLevel { return m.level }

// OnRisk applies a re-evaluated risk level. Scoring only ever increases, so
// PAUSED recovers to ACTIVE only through the narrow grace window; there is
// no automatic descent that could cause pause/resume flapping.
func (m *Machine) OnRisk(level RiskLevel) ([]Intent, error) {
	if m.status.Terminal() {
		return nil, m.closed("risk", string(level))
	}
	m.level = level

	switch m.status {
	case StatusActive:
		switch level {
		case RiskMedium:
			m.status = StatusPaused
			m.graceDeadline = m.clock.Now().Add(m.grace)
			return []Intent{
				{Kind: IntentPauseTimer, Status: StatusPaused, Level: level, Reason: "risk level medium"},
				{Kind: IntentNotify, Status: StatusPaused, Level: level, Reason: "risk level medium"},
			}, nil
		case RiskHigh:
			return m.terminate(level, "risk level high"), nil
		}
	case StatusPaused:
		switch level {
		case RiskHigh:
			return m.terminate(level, "risk escalated while paused"), nil
		case RiskLow:
			// Only reachable through an explicit re-evaluation (e.g. an
			// appeal adjusting the rule table) inside the grace window.
			if m.clock.Now().Before(m.graceDeadline) {
				m.status = StatusActive
				return []Intent{
					{Kind: IntentResumeTimer, Status: StatusActive, Level: level, Reason: "risk cleared within grace window"},
				}, nil
			}
		}
	}

	return nil, nil
}

// OnTick advances time-dependent transitions: the paused grace window.
// Timer expiry is reported separately via OnTimerExpired.
func (m *Machine) OnTick() ([]Intent, error) {
	if m.status.Terminal() {
		return nil, nil // Ticks after teardown are benign.
	}
	if m.status == StatusPaused && !m.clock.Now().Before(m.graceDeadline) {
		return m.terminate(m.level, "grace window elapsed"), nil
	}
	return nil, nil
}

// OnTimerExpired handles the countdown reaching zero while the attempt runs.
func (m *Machine) OnTimerExpired() ([]Intent, error) {
	if m.status.Terminal() {
		return nil, m.closed("timer_expired", "")
	}
	m.status = StatusExpired
	return []Intent{
		{Kind: IntentStopTimer, Status: StatusExpired, Level: m.level, Reason: "time budget exhausted"},
		{Kind: IntentAutoSubmit, Status: StatusExpired, Level: m.level, Reason: "time budget exhausted"},
	}, nil
}

// OnSubmit handles an explicit student submission.
func (m *Machine) OnSubmit() ([]Intent, error) {
	if m.status.Terminal() {
		return nil, m.closed("submit", "")
	}
	m.status = StatusSubmitted
	return []Intent{
		{Kind: IntentStopTimer, Status: StatusSubmitted, Level: m.level, Reason: "student submitted"},
	}, nil
}

// OnOverride applies a teacher/admin directive from any non-terminal state.
func (m *Machine) OnOverride(action OverrideAction, reason string) ([]Intent, error) {
	if m.status.Terminal() {
		return nil, m.closed("override", string(action))
	}
	switch action {
	case OverrideTerminate:
		return m.terminate(m.level, "override: "+reason), nil
	case OverrideResume:
		m.status = StatusActive
		m.level = RiskLow
		return []Intent{
			{Kind: IntentResumeTimer, Status: StatusActive, Level: RiskLow, Reason: "override: " + reason},
		}, nil
	default:
		return nil, errors.New("unknown override action: " + string(action))
	}
}

// OnClockFailure pauses the attempt pending manual recovery. Continuing with
// an unreliable timer would silently corrupt remaining time.
func (m *Machine) OnClockFailure() ([]Intent, error) {
	if m.status.Terminal() {
		return nil, m.closed("clock_failure", "")
	}
	if m.status == StatusPaused {
		return nil, nil
	}
	m.status = StatusPaused
	m.graceDeadline = m.clock.Now().Add(m.grace)
	return []Intent{
		{Kind: IntentPauseTimer, Status: StatusPaused, Level: m.level, Reason: "timer divergence"},
		{Kind: IntentNotify, Status: StatusPaused, Level: m.level, Reason: "timer divergence"},
	}, nil
}

func (m *Machine) terminate(level RiskLevel, reason string) []Intent {
	m.status = StatusTerminated
	return []Intent{
		{Kind: IntentStopTimer, Status: StatusTerminated, Level: level, Reason: reason},
		{Kind: IntentAutoSubmit, Status: StatusTerminated, Level: level, Reason: reason},
		{Kind: IntentNotify, Status: StatusTerminated, Level: level, Reason: reason},
	}
}

// closed logs a protocol violation and returns ErrAttemptClosed. Events
// arriving after termination are recorded for audit upstream; they must
// never crash or mutate a closed attempt.
func (m *Machine) closed(trigger, detail string) error {
	m.log.Warn().
		Str("status", string(m.status)).
		Str("trigger", trigger).
		Str("detail", detail).
		Msg("Transition requested from terminal state")
	return ErrAttemptClosed
}
