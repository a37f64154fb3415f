package proctor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultGraceWindow is how long a PAUSED attempt may wait for resolution
// before it terminates fail-closed.
const DefaultGraceWindow = 2 * time.Minute

// DefaultTickInterval is the scheduling heartbeat of an attempt engine.
const DefaultTickInterval = time.Second

// IntentHandler receives side-effect intents in transition order. It runs on
// a dedicated forwarder goroutine, never inside the engine's critical
// section, so it may perform persistence and notification I/O.
type IntentHandler func(Intent)

// Snapshot is a consistent view of one attempt's live state.
type Snapshot struct {
	AttemptID uuid.UUID        `json:"attempt_id"`
	Status    Status           `json:"status"`
	Level     RiskLevel        `json:"risk_level"`
	Score     int              `json:"suspicion_score"`
	Remaining time.Duration    `json:"-"`
	Counts    map[RuleID]int   `json:"counts_by_type"`
	Breakdown []BreakdownEntry `json:"breakdown"`
	Degraded  bool             `json:"degraded"`
}

// RemainingSeconds returns the countdown in whole seconds for API payloads.
func (s Snapshot) RemainingSeconds() int {
	return int(s.Remaining / time.Second)
}

// EngineConfig configures one attempt engine.
type EngineConfig struct {
	AttemptID    uuid.UUID
	Budget       time.Duration
	Grace        time.Duration // zero -> DefaultGraceWindow
	TickInterval time.Duration // zero -> DefaultTickInterval
	Scorer       *Scorer       // nil -> NewDefaultScorer()
	Clock        Clock         // nil -> system clock
	Logger       zerolog.Logger
	OnIntent     IntentHandler
	Saver        *AutoSaver // optional

	// InitialCounts seeds scoring state when an attempt is rehydrated from
	// the persisted event log after a process restart.
	InitialCounts map[RuleID]int
}

// Engine owns one attempt's timer, scorer state and state machine. All
// inputs (event ingestion, ticks, submits, overrides, answer changes) are
// funneled through a single goroutine, so a tick and an incoming event can
// never race into inconsistent state. The engine tears itself down as soon
// as the attempt reaches a terminal status.
type Engine struct {
	cfg     EngineConfig
	timer   *Timer
	machine *Machine
	scorer  *Scorer
	counts  map[RuleID]int
	saver   *AutoSaver

	cmds     chan func()
	done     chan struct{}
	intents  chan Intent
	snapshot atomic.Value // Snapshot
	log      zerolog.Logger

	// riskFloor is the suspicion score at the moment of the last manual
	// resume. Risk transitions are suppressed until the score exceeds it,
	// so an override is not undone by re-evaluating the same evidence.
	riskFloor int
}

// NewEngine builds an engine from the config. Call Start to begin processing.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGraceWindow
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Scorer == nil {
		cfg.Scorer = NewDefaultScorer()
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}

	log := cfg.Logger.With().
		Str("component", "attempt_engine").
		Str("attempt_id", cfg.AttemptID.String()).
		Logger()

	e := &Engine{
		cfg:     cfg,
		timer:   NewTimer(cfg.Budget, cfg.Clock),
		machine: NewMachine(cfg.Grace, cfg.Clock, log),
		scorer:  cfg.Scorer,
		counts:  make(map[RuleID]int),
		saver:   cfg.Saver,
		cmds:    make(chan func(), 32),
		done:    make(chan struct{}),
		intents: make(chan Intent, 32),
		log:     log,
	}
	for id, n := range cfg.InitialCounts {
		if n > 0 {
			e.counts[id] = n
		}
	}
	e.publishSnapshot()
	return e
}

// Start launches the actor and the intent forwarder. Cancelling ctx tears
// the attempt down (remaining intents are still delivered).
func (e *Engine) Start(ctx context.Context) {
	go e.forward()
	e.timer.Start()
	go e.run(ctx)

	// Seeded counts may already sit in a higher risk band; evaluate once so
	// a rehydrated attempt does not run unsupervised until the next event.
	if len(e.cfg.InitialCounts) > 0 {
		_ = e.post(func() {
			result := e.scorer.ScoreCounts(e.counts)
			if result.Score > e.riskFloor && result.Level != e.machine.Level() {
				e.apply(e.machine.OnRisk(result.Level))
			}
			e.publishSnapshot()
		})
	}

	e.log.Info().Dur("budget", e.cfg.Budget).Msg("Attempt engine started")
}

// Done is closed once the engine has torn down.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Snapshot returns the latest published state. Valid before start and after
// teardown, so status queries never block on the actor.
func (e *Engine) Snapshot() Snapshot {
	return e.snapshot.Load().(Snapshot)
}

// IngestEvent feeds one normalized behavioral observation into scoring.
// Returns ErrAttemptClosed once the attempt is terminal; the caller still
// records the raw event for audit.
func (e *Engine) IngestEvent(rawType string) error {
	return e.post(func() {
		if e.machine.Status().Terminal() {
			// Late event: recorded for audit by the caller, but it must not
			// change score attribution on a closed attempt.
			return
		}
		e.counts[Normalize(rawType)]++
		result := e.scorer.ScoreCounts(e.counts)
		if result.Score > e.riskFloor && result.Level != e.machine.Level() {
			e.apply(e.machine.OnRisk(result.Level))
		}
		e.publishSnapshot()
	})
}

// Submit finishes the attempt on the student's request.
func (e *Engine) Submit() error {
	errCh := make(chan error, 1)
	if err := e.post(func() {
		intents, err := e.machine.OnSubmit()
		e.apply(intents, err)
		errCh <- err
		e.publishSnapshot()
	}); err != nil {
		return err
	}
	return e.await(errCh)
}

// Override applies a teacher/admin directive.
func (e *Engine) Override(action OverrideAction, reason string) error {
	errCh := make(chan error, 1)
	if err := e.post(func() {
		intents, err := e.machine.OnOverride(action, reason)
		e.apply(intents, err)
		if err == nil && action == OverrideResume {
			e.riskFloor = e.scorer.ScoreCounts(e.counts).Score
		}
		errCh <- err
		e.publishSnapshot()
	}); err != nil {
		return err
	}
	return e.await(errCh)
}

// await waits for the actor's reply. A command can slip into the queue in
// the instant between post's done check and teardown; once done closes, the
// buffered channel is checked one last time before giving up.
func (e *Engine) await(errCh <-chan error) error {
	select {
	case err := <-errCh:
		return err
	case <-e.done:
		select {
		case err := <-errCh:
			return err
		default:
			return ErrAttemptClosed
		}
	}
}

// ReportClockFailure pauses the attempt pending manual recovery when the
// host detects timer divergence. Fatal only to this attempt's session.
func (e *Engine) ReportClockFailure() error {
	return e.post(func() {
		e.apply(e.machine.OnClockFailure())
		e.publishSnapshot()
	})
}

// AnswerChange reports a changed answer to the autosave coordinator.
func (e *Engine) AnswerChange(questionID, answer string) error {
	if e.saver == nil {
		return nil
	}
	return e.post(func() {
		if e.machine.Status().Terminal() {
			return
		}
		e.saver.OnAnswerChange(questionID, answer)
		e.publishSnapshot()
	})
}

// post enqueues a command for the actor goroutine. The done pre-check runs
// first so a closed engine rejects deterministically instead of racing the
// send against the closed channel.
func (e *Engine) post(fn func()) error {
	select {
	case <-e.done:
		return ErrAttemptClosed
	default:
	}
	select {
	case <-e.done:
		return ErrAttemptClosed
	case e.cmds <- fn:
		return nil
	}
}

// run is the actor loop: the single serialization point for all state.
// After the attempt reaches a terminal status the ticker is stopped and no
// further transitions are possible, but the loop keeps draining commands so
// every in-flight caller receives ErrAttemptClosed instead of hanging. The
// goroutine exits when the owning context is cancelled.
func (e *Engine) run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	stopped := false

	for {
		select {
		case <-ctx.Done():
			// Commands queued before cancellation carry callers blocked on
			// reply channels. Run them against the live machine so every
			// caller gets an answer instead of hanging, then finalize.
			e.drain()
			if !stopped {
				e.stop("context cancelled")
			}
			return
		case fn := <-e.cmds:
			fn()
			if !stopped && e.machine.Status().Terminal() {
				ticker.Stop()
				e.stop("terminal status")
				stopped = true
			}
		case <-ticker.C:
			if stopped {
				continue
			}
			e.onTick()
			if e.machine.Status().Terminal() {
				ticker.Stop()
				e.stop("terminal status")
				stopped = true
			}
		}
	}
}

// drain executes whatever commands are already queued without blocking for
// new ones. Used on teardown so reply channels are always answered.
func (e *Engine) drain() {
	for {
		select {
		case fn := <-e.cmds:
			fn()
		default:
			return
		}
	}
}

func (e *Engine) onTick() {
	remaining := e.timer.Tick()
	if remaining <= 0 && e.machine.Status() == StatusActive {
		e.apply(e.machine.OnTimerExpired())
	} else {
		e.apply(e.machine.OnTick())
	}
	if e.saver != nil {
		e.saver.OnTick()
	}
	e.publishSnapshot()
}

// apply executes timer-side intents locally and forwards everything to the
// host handler. A nil error with no intents is a no-op transition.
func (e *Engine) apply(intents []Intent, err error) {
	if err != nil {
		return
	}
	for _, intent := range intents {
		switch intent.Kind {
		case IntentPauseTimer, IntentStopTimer:
			e.timer.Pause()
		case IntentResumeTimer:
			e.timer.Resume()
		}
		select {
		case e.intents <- intent:
		default:
			// Host handler is stalled. Drop-with-log instead of deadlocking
			// the actor; the audit trail is rebuilt from persisted events.
			e.log.Error().Str("kind", string(intent.Kind)).Msg("Intent channel full, dropping")
		}
	}
}

// forward delivers intents to the host in order, outside the actor loop.
func (e *Engine) forward() {
	for intent := range e.intents {
		if e.cfg.OnIntent != nil {
			e.cfg.OnIntent(intent)
		}
	}
}

// stop finalizes the attempt: pending saves may complete but are not
// retried, the Done channel unblocks watchers, and the intent forwarder
// drains out. The final snapshot stays readable forever.
func (e *Engine) stop(reason string) {
	if e.saver != nil {
		e.saver.Close()
	}
	e.publishSnapshot()
	close(e.done)
	close(e.intents)
	e.log.Info().Str("reason", reason).Str("status", string(e.machine.Status())).Msg("Attempt engine stopped")
}

func (e *Engine) publishSnapshot() {
	result := e.scorer.ScoreCounts(e.counts)
	snap := Snapshot{
		AttemptID: e.cfg.AttemptID,
		Status:    e.machine.Status(),
		Level:     result.Level,
		Score:     result.Score,
		Remaining: e.timer.Remaining(),
		Counts:    result.Counts,
		Breakdown: result.Breakdown,
	}
	if e.saver != nil {
		snap.Degraded = e.saver.Degraded()
	}
	e.snapshot.Store(snap)
}
