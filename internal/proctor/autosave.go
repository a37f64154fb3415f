package proctor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SaveFunc persists a batch of answers (question ID -> answer). It is called
// outside the engine's serialization point, so it may do I/O freely.
type SaveFunc func(ctx context.Context, answers map[string]string) error

const (
	autosaveMaxRetries  = 3
	autosaveBaseBackoff = 500 * time.Millisecond
	autosaveSaveTimeout = 10 * time.Second

	// Consecutive failed batches before the attempt is flagged degraded.
	autosaveFailThreshold = 3
)

// AutoSaver buffers answer changes and flushes them with at-most-one save in
// flight per attempt. Failed saves are retried with exponential backoff; on
// sustained failure it raises a degraded-mode flag for the host instead of
// blocking the attempt or forcing termination.
type AutoSaver struct {
	mu       sync.Mutex
	save     SaveFunc
	pending  map[string]string
	inflight bool
	degraded bool
	failures int
	closed   bool
	log      zerolog.Logger

	maxRetries    int
	baseBackoff   time.Duration
	saveTimeout   time.Duration
	failThreshold int
}

// NewAutoSaver creates a coordinator flushing through the given save func.
func NewAutoSaver(save SaveFunc, log zerolog.Logger) *AutoSaver {
	return &AutoSaver{
		save:          save,
		pending:       make(map[string]string),
		log:           log.With().Str("component", "autosaver").Logger(),
		maxRetries:    autosaveMaxRetries,
		baseBackoff:   autosaveBaseBackoff,
		saveTimeout:   autosaveSaveTimeout,
		failThreshold: autosaveFailThreshold,
	}
}

// OnAnswerChange buffers a changed answer and triggers a flush.
func (a *AutoSaver) OnAnswerChange(questionID, answer string) {
	a.mu.Lock()
	a.pending[questionID] = answer
	a.mu.Unlock()
	a.Flush()
}

// OnTick flushes any buffered answers on the periodic heartbeat.
func (a *AutoSaver) OnTick() {
	a.Flush()
}

// Flush starts a save if there is buffered work and none is in flight.
func (a *AutoSaver) Flush() {
	a.mu.Lock()
	if a.inflight || a.closed || len(a.pending) == 0 {
		a.mu.Unlock()
		return
	}
	batch := a.pending
	a.pending = make(map[string]string)
	a.inflight = true
	a.mu.Unlock()

	go a.run(batch)
}

// Degraded reports whether persistence has been failing persistently.
// Answers are still buffered; the host surfaces this to the client.
func (a *AutoSaver) Degraded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.degraded
}

// Close stops further flushes. An in-flight save is allowed to complete but
// is not retried after the attempt reaches a terminal state.
func (a *AutoSaver) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}

func (a *AutoSaver) run(batch map[string]string) {
	var err error
	for try := 0; try <= a.maxRetries; try++ {
		if try > 0 {
			a.mu.Lock()
			closed := a.closed
			a.mu.Unlock()
			if closed {
				break
			}
			time.Sleep(a.baseBackoff << (try - 1))
		}

		ctx, cancel := context.WithTimeout(context.Background(), a.saveTimeout)
		err = a.save(ctx, batch)
		cancel()
		if err == nil {
			break
		}
		a.log.Warn().Err(err).Int("try", try+1).Int("answers", len(batch)).Msg("Autosave batch failed")
	}

	a.mu.Lock()
	a.inflight = false
	if err == nil {
		a.failures = 0
		a.degraded = false
		more := len(a.pending) > 0 && !a.closed
		a.mu.Unlock()
		if more {
			a.Flush()
		}
		return
	}

	// Re-buffer the failed batch without clobbering newer answers.
	for qid, ans := range batch {
		if _, ok := a.pending[qid]; !ok {
			a.pending[qid] = ans
		}
	}
	a.failures++
	if a.failures >= a.failThreshold && !a.degraded {
		a.degraded = true
		a.log.Error().Int("failures", a.failures).Msg("Autosave entering degraded mode")
	}
	a.mu.Unlock()
}
