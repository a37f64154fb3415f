package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/config"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/model"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/proctor"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/repository"
)

// Typed service errors, mapped to response codes by the handlers.
var (
	ErrAttemptNotFound   = errors.New("attempt not found")
	ErrAssignmentNotQuiz = errors.New("assignment is not a quiz")
	ErrAssignmentNotOpen = errors.New("assignment is not open yet")
	ErrAssignmentLocked  = errors.New("assignment is past its lock time")
	ErrNotAttemptOwner   = errors.New("attempt belongs to another student")
	ErrUnknownOverride   = errors.New("unknown override action")
)

// engineHandle pairs a live attempt engine with its owning context.
type engineHandle struct {
	engine       *proctor.Engine
	cancel       context.CancelFunc
	assignmentID uuid.UUID
	studentID    int
}

// AttemptService orchestrates the proctored attempt lifecycle: it owns the
// per-attempt engines and wires their side-effect intents to persistence,
// notification and audit.
type AttemptService struct {
	assignmentRepo *repository.AssignmentRepository
	attemptRepo    *repository.AttemptRepository
	eventRepo      *repository.ProctorEventRepository
	auditRepo      *repository.AuditRepository
	auth           *AuthService
	notifier       Notifier
	rdb            *redis.Client
	cfg            *config.Config
	log            zerolog.Logger

	mu      sync.Mutex
	engines map[uuid.UUID]*engineHandle
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	assignmentRepo *repository.AssignmentRepository,
	attemptRepo *repository.AttemptRepository,
	eventRepo *repository.ProctorEventRepository,
	auditRepo *repository.AuditRepository,
	auth *AuthService,
	notifier Notifier,
	rdb *redis.Client,
	cfg *config.Config,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		assignmentRepo: assignmentRepo,
		attemptRepo:    attemptRepo,
		eventRepo:      eventRepo,
		auditRepo:      auditRepo,
		auth:           auth,
		notifier:       notifier,
		rdb:            rdb,
		cfg:            cfg,
		log:            log.With().Str("component", "attempt_service").Logger(),
		engines:        make(map[uuid.UUID]*engineHandle),
	}
}

// OpenAttempt creates (or idempotently returns) the student's attempt on a
// quiz assignment and spins up its engine. Only quiz assignments can be
// opened, only inside their window, and only with the right access code
// when one is configured.
func (s *AttemptService) OpenAttempt(ctx context.Context, assignmentID uuid.UUID, studentID int, accessCode string) (*model.Attempt, error) {
	assignment, err := s.assignmentRepo.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}

	if assignment.Kind != model.AssignmentKindQuiz {
		return nil, ErrAssignmentNotQuiz
	}
	now := time.Now()
	if assignment.OpenAt != nil && assignment.OpenAt.After(now) {
		return nil, ErrAssignmentNotOpen
	}
	if proctor.IsOverdue(assignment.OpenAt, assignment.DueDate, assignment.LockAt, now) {
		return nil, ErrAssignmentLocked
	}
	if assignment.AccessCodeHash != nil {
		if err := s.auth.CheckAccessCode(*assignment.AccessCodeHash, accessCode); err != nil {
			return nil, err
		}
	}

	// Idempotency: a student reopening (reload, second device) gets their
	// existing attempt back, with the engine rehydrated if needed.
	existing, err := s.attemptRepo.GetByAssignmentAndStudent(ctx, assignmentID, studentID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing attempt: %w", err)
	}
	if existing != nil {
		if !existing.Status.Terminal() {
			if _, err := s.ensureEngine(ctx, existing, assignment); err != nil {
				return nil, err
			}
		}
		s.cacheStart(ctx, existing)
		return existing, nil
	}

	attempt := &model.Attempt{
		AssignmentID:    assignmentID,
		StudentID:       studentID,
		Status:          proctor.StatusActive,
		RiskLevel:       proctor.RiskLow,
		DurationSeconds: assignment.DurationSeconds,
	}
	if err := s.attemptRepo.Create(ctx, attempt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Concurrent open from another device won the insert.
			existing, fetchErr := s.attemptRepo.GetByAssignmentAndStudent(ctx, assignmentID, studentID)
			if fetchErr != nil {
				return nil, fmt.Errorf("concurrent open detected, but fetch failed: %w", fetchErr)
			}
			if !existing.Status.Terminal() {
				if _, err := s.ensureEngine(ctx, existing, assignment); err != nil {
					return nil, err
				}
			}
			return existing, nil
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	s.cacheStart(ctx, attempt)
	if _, err := s.ensureEngine(ctx, attempt, assignment); err != nil {
		return nil, err
	}

	_ = s.auditRepo.Append(ctx, attempt.ID, proctor.StatusActive, proctor.RiskLow, 0, "attempt opened")
	return attempt, nil
}

// IngestEvent normalizes and scores one client-reported behavioral event.
// The raw event is always queued for the append-only log, even when the
// attempt is already closed; late events are audit-only and never an error
// that could crash a client.
func (s *AttemptService) IngestEvent(ctx context.Context, attemptID uuid.UUID, studentID int, req *model.IngestEventRequest) (*model.AttemptStatusResponse, error) {
	attempt, handle, err := s.resolveOwned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}

	rule := proctor.Normalize(req.EventType)
	s.enqueueEvent(ctx, attemptID, req, rule)

	if handle != nil {
		if err := handle.engine.IngestEvent(req.EventType); err != nil && !errors.Is(err, proctor.ErrAttemptClosed) {
			return nil, err
		}
		return s.statusFromSnapshot(handle.engine.Snapshot()), nil
	}
	return s.statusFromAttempt(attempt), nil
}

// GetStatus returns the live status of an attempt: status, remaining time
// and risk classification with the per-rule breakdown.
func (s *AttemptService) GetStatus(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptStatusResponse, error) {
	attempt, handle, err := s.resolveOwned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if handle != nil {
		return s.statusFromSnapshot(handle.engine.Snapshot()), nil
	}
	return s.statusFromAttempt(attempt), nil
}

// Submit finishes the attempt with the student's final answers. Submitting
// a closed attempt is a protocol violation and returns ErrAttemptClosed
// with state unchanged.
func (s *AttemptService) Submit(ctx context.Context, attemptID uuid.UUID, studentID int, answers map[string]string) (*model.AttemptStatusResponse, error) {
	_, handle, err := s.resolveOwned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if handle == nil {
		return nil, proctor.ErrAttemptClosed
	}

	// Persist the final answer set before flipping status so an auto-save
	// race cannot lose the last keystrokes.
	if len(answers) > 0 {
		if err := s.saveAnswers(ctx, attemptID, answers); err != nil {
			s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Final answer save failed, relying on autosaved state")
		}
	}

	if err := handle.engine.Submit(); err != nil {
		return nil, err
	}
	return s.statusFromSnapshot(handle.engine.Snapshot()), nil
}

// Override applies a teacher/admin directive (resume or terminate) to a
// live attempt, from any non-terminal state.
func (s *AttemptService) Override(ctx context.Context, attemptID uuid.UUID, req *model.OverrideAttemptRequest) (*model.AttemptStatusResponse, error) {
	_, handle, err := s.resolve(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if handle == nil {
		return nil, proctor.ErrAttemptClosed
	}

	var action proctor.OverrideAction
	switch req.Action {
	case "resume":
		action = proctor.OverrideResume
	case "terminate":
		action = proctor.OverrideTerminate
	default:
		return nil, ErrUnknownOverride
	}

	if err := handle.engine.Override(action, req.Reason); err != nil {
		return nil, err
	}
	return s.statusFromSnapshot(handle.engine.Snapshot()), nil
}

// AnswerChange feeds one autosaved answer into the attempt's coordinator.
func (s *AttemptService) AnswerChange(ctx context.Context, attemptID uuid.UUID, studentID int, questionID, answer string) error {
	_, handle, err := s.resolveOwned(ctx, attemptID, studentID)
	if err != nil {
		return err
	}
	if handle == nil {
		return proctor.ErrAttemptClosed
	}
	return handle.engine.AnswerChange(questionID, answer)
}

// ListByAssignment returns the teacher oversight view: every attempt on an
// assignment, most suspicious first.
func (s *AttemptService) ListByAssignment(ctx context.Context, assignmentID uuid.UUID, page, perPage int) ([]repository.AttemptRow, int64, error) {
	return s.attemptRepo.ListByAssignment(ctx, assignmentID, page, perPage)
}

// GetBreakdown returns the event log and transition history teachers use
// for appeals and overrides.
func (s *AttemptService) GetBreakdown(ctx context.Context, attemptID uuid.UUID) (*model.AttemptStatusResponse, []model.ProctorEvent, []repository.AuditEntry, error) {
	attempt, handle, err := s.resolve(ctx, attemptID)
	if err != nil {
		return nil, nil, nil, err
	}

	var status *model.AttemptStatusResponse
	if handle != nil {
		status = s.statusFromSnapshot(handle.engine.Snapshot())
	} else {
		status = s.statusFromAttempt(attempt)
	}

	events, err := s.eventRepo.ListByAttempt(ctx, attemptID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list events: %w", err)
	}
	audit, err := s.auditRepo.ListByAttempt(ctx, attemptID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list audit: %w", err)
	}
	return status, events, audit, nil
}

// GetSavedAnswers returns the autosaved answer set for a reload. The Redis
// hash written by autosave is the primary copy; the durable rows fill in
// after a cache loss and re-heal the hash.
func (s *AttemptService) GetSavedAnswers(ctx context.Context, attemptID uuid.UUID, studentID int) (map[string]string, error) {
	if _, _, err := s.resolveOwned(ctx, attemptID, studentID); err != nil {
		return nil, err
	}

	answersKey := config.CacheKey.AttemptAnswersKey(attemptID.String())
	answers, err := s.rdb.HGetAll(ctx, answersKey).Result()
	if err == nil && len(answers) > 0 {
		return answers, nil
	}
	if err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Answer cache read failed, falling back to rows")
	}

	answers, err = s.attemptRepo.ListAnswers(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	if len(answers) > 0 {
		_ = s.rdb.HSet(ctx, answersKey, answers).Err()
	}
	return answers, nil
}

// ActiveAttempt finds the student's in-flight attempt so a client that lost
// its state (new device, cleared storage) can rejoin without knowing the
// attempt ID. The Redis pointer written on open is tried first.
func (s *AttemptService) ActiveAttempt(ctx context.Context, studentID int) (*model.AttemptStatusResponse, error) {
	activeKey := config.CacheKey.StudentActiveAttemptKey(studentID)
	if raw, err := s.rdb.Get(ctx, activeKey).Result(); err == nil {
		if attemptID, parseErr := uuid.Parse(raw); parseErr == nil {
			if resp, statusErr := s.GetStatus(ctx, attemptID, studentID); statusErr == nil && !resp.Status.Terminal() {
				return resp, nil
			}
			// Stale pointer (attempt closed or gone); re-derive from rows.
		}
	}

	attempt, err := s.attemptRepo.GetActiveByStudent(ctx, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get active attempt: %w", err)
	}
	_ = s.rdb.Set(ctx, activeKey, attempt.ID.String(), 0)
	return s.GetStatus(ctx, attempt.ID, studentID)
}

// Shutdown tears down every live engine (server stop).
func (s *AttemptService) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range s.engines {
		h.cancel()
		delete(s.engines, id)
	}
}

// ─── Internals ──────────────────────────────────────────────────────

// resolve loads the attempt and its live engine handle (nil when no engine
// is running, i.e. the attempt is terminal or fell out after a restart).
// A live handle short-circuits the PostgreSQL read entirely: the engine's
// snapshot is fresher than the row, and status pollers hit this path every
// second. Non-terminal attempts without a live engine are rehydrated.
func (s *AttemptService) resolve(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, *engineHandle, error) {
	s.mu.Lock()
	handle := s.engines[attemptID]
	s.mu.Unlock()
	if handle != nil {
		return nil, handle, nil
	}

	attempt, err := s.attemptRepo.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrAttemptNotFound
		}
		return nil, nil, fmt.Errorf("get attempt: %w", err)
	}

	if !attempt.Status.Terminal() {
		assignment, err := s.assignmentRepo.GetByID(ctx, attempt.AssignmentID)
		if err != nil {
			return nil, nil, fmt.Errorf("get assignment: %w", err)
		}
		handle, err = s.ensureEngine(ctx, attempt, assignment)
		if err != nil {
			return nil, nil, err
		}
	}
	return attempt, handle, nil
}

// resolveOwned is resolve plus an ownership check. With a live handle the
// owner is known in-memory; only cold attempts need the row.
func (s *AttemptService) resolveOwned(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.Attempt, *engineHandle, error) {
	attempt, handle, err := s.resolve(ctx, attemptID)
	if err != nil {
		return nil, nil, err
	}
	var owner int
	if handle != nil {
		owner = handle.studentID
	} else {
		owner = attempt.StudentID
	}
	if owner != studentID {
		return nil, nil, ErrNotAttemptOwner
	}
	return attempt, handle, nil
}

// ensureEngine returns the live engine for an attempt, starting one from
// persisted state when none is running.
func (s *AttemptService) ensureEngine(ctx context.Context, attempt *model.Attempt, assignment *model.Assignment) (*engineHandle, error) {
	s.mu.Lock()
	if h, ok := s.engines[attempt.ID]; ok {
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	counts, err := s.eventRepo.CountsByAttempt(ctx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("rebuild counts: %w", err)
	}

	// The cached start time survives restarts and is cheaper than the row;
	// fall back to the persisted column and heal the cache when it is gone.
	startedAt := attempt.StartedAt
	startKey := config.CacheKey.AttemptStartKey(attempt.ID.String())
	if unix, err := s.rdb.Get(ctx, startKey).Int64(); err == nil {
		startedAt = time.Unix(unix, 0)
	} else {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Start time cache read failed")
		}
		_ = s.rdb.Set(ctx, startKey, startedAt.Unix(), 0)
	}

	budget := time.Duration(attempt.DurationSeconds)*time.Second - time.Since(startedAt)
	if budget < 0 {
		budget = 0
	}

	attemptID := attempt.ID
	saver := proctor.NewAutoSaver(func(saveCtx context.Context, answers map[string]string) error {
		return s.saveAnswers(saveCtx, attemptID, answers)
	}, s.log)

	engine := proctor.NewEngine(proctor.EngineConfig{
		AttemptID:     attempt.ID,
		Budget:        budget,
		Grace:         s.cfg.GraceWindow,
		Scorer:        s.buildScorer(assignment),
		Logger:        s.log,
		Saver:         saver,
		InitialCounts: counts,
		OnIntent: func(intent proctor.Intent) {
			s.executeIntent(attemptID, assignment.ID, attempt.StudentID, engineSnapshotter{s, attemptID}, intent)
		},
	})

	engineCtx, cancel := context.WithCancel(context.Background())
	handle := &engineHandle{
		engine:       engine,
		cancel:       cancel,
		assignmentID: assignment.ID,
		studentID:    attempt.StudentID,
	}

	s.mu.Lock()
	if h, ok := s.engines[attempt.ID]; ok {
		// Lost the race to a concurrent open; use the winner.
		s.mu.Unlock()
		cancel()
		return h, nil
	}
	s.engines[attempt.ID] = handle
	s.mu.Unlock()

	engine.Start(engineCtx)

	// Reap the handle once the engine tears down. The final status has
	// already been persisted by the intent handler.
	go func() {
		<-engine.Done()
		cancel()
		s.mu.Lock()
		delete(s.engines, attemptID)
		s.mu.Unlock()
	}()

	return handle, nil
}

// engineSnapshotter lets the intent handler read the freshest score without
// capturing the engine before it exists.
type engineSnapshotter struct {
	s         *AttemptService
	attemptID uuid.UUID
}

func (es engineSnapshotter) snapshot() (proctor.Snapshot, bool) {
	es.s.mu.Lock()
	h := es.s.engines[es.attemptID]
	es.s.mu.Unlock()
	if h == nil {
		return proctor.Snapshot{}, false
	}
	return h.engine.Snapshot(), true
}

// executeIntent runs on the engine's intent forwarder goroutine, outside
// the actor's critical section, so persistence and notification I/O here
// cannot stall scoring or the timer.
func (s *AttemptService) executeIntent(attemptID, assignmentID uuid.UUID, studentID int, snap engineSnapshotter, intent proctor.Intent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	score := 0
	level := intent.Level
	if sn, ok := snap.snapshot(); ok {
		score = sn.Score
	}

	switch intent.Kind {
	case proctor.IntentPauseTimer, proctor.IntentResumeTimer, proctor.IntentStopTimer:
		if err := s.attemptRepo.UpdateStatus(ctx, attemptID, intent.Status, score, level); err != nil {
			s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Status persist failed")
		}
		if err := s.auditRepo.Append(ctx, attemptID, intent.Status, level, score, intent.Reason); err != nil {
			s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Audit append failed")
		}
		if intent.Kind == proctor.IntentStopTimer {
			// Terminal: the start-time and active-attempt keys are now stale.
			_ = s.rdb.Del(ctx,
				config.CacheKey.AttemptStartKey(attemptID.String()),
				config.CacheKey.StudentActiveAttemptKey(studentID),
			).Err()
		}
	case proctor.IntentAutoSubmit:
		// Answers are already in Redis from autosave; the worker persists
		// them. Record that the submission was forced.
		if err := s.auditRepo.Append(ctx, attemptID, intent.Status, level, score, "auto-submit: "+intent.Reason); err != nil {
			s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Audit append failed")
		}
	case proctor.IntentNotify:
		s.notifier.NotifyTransition(ctx, assignmentID, attemptID, studentID, intent.Status, level, intent.Reason)
	}
}

// buildScorer applies per-assignment rule overrides on top of the defaults.
func (s *AttemptService) buildScorer(assignment *model.Assignment) *proctor.Scorer {
	table := proctor.DefaultRuleTable()
	if len(assignment.ProctorRules) > 0 {
		var rules []proctor.Rule
		if err := json.Unmarshal(assignment.ProctorRules, &rules); err != nil {
			s.log.Warn().Err(err).Str("assignment_id", assignment.ID.String()).Msg("Invalid proctor rule overrides, using defaults")
		} else if len(rules) > 0 {
			table = proctor.NewRuleTable(rules)
		}
	}
	thresholds := proctor.RiskThresholds{
		Medium: s.cfg.RiskMediumThreshold,
		High:   s.cfg.RiskHighThreshold,
	}
	return proctor.NewScorer(table, thresholds)
}

// saveAnswers writes answers to the Redis hash (fast read path for reloads)
// and queues each one for durable persistence by the answer worker.
func (s *AttemptService) saveAnswers(ctx context.Context, attemptID uuid.UUID, answers map[string]string) error {
	answersKey := config.CacheKey.AttemptAnswersKey(attemptID.String())

	pipe := s.rdb.Pipeline()
	for qid, ans := range answers {
		pipe.HSet(ctx, answersKey, qid, ans)
		payload, _ := json.Marshal(map[string]interface{}{
			"attempt_id":  attemptID.String(),
			"question_id": qid,
			"answer":      ans,
		})
		pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// enqueueEvent pushes the raw event onto the append-only persistence queue.
// Best effort: a Redis outage must not block scoring.
func (s *AttemptService) enqueueEvent(ctx context.Context, attemptID uuid.UUID, req *model.IngestEventRequest, rule proctor.RuleID) {
	createdAt := repository.ClampCreatedAt(req.OccurredAt, time.Now())
	payload, _ := json.Marshal(map[string]interface{}{
		"attempt_id": attemptID.String(),
		"event_type": req.EventType,
		"rule":       string(rule),
		"metadata":   req.Metadata,
		"timestamp":  createdAt.Unix(),
	})
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistEventsQueue, payload).Err(); err != nil {
		s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Event enqueue failed, falling back to direct insert")
		// Fallback: write synchronously so the audit trail stays complete.
		_ = s.eventRepo.Insert(ctx, &model.ProctorEvent{
			AttemptID: attemptID,
			EventType: req.EventType,
			Rule:      rule,
			Metadata:  req.Metadata,
			CreatedAt: createdAt,
		})
	}
}

// cacheStart mirrors the attempt start time into Redis so reloads can
// compute remaining time without hitting PostgreSQL.
func (s *AttemptService) cacheStart(ctx context.Context, attempt *model.Attempt) {
	startKey := config.CacheKey.AttemptStartKey(attempt.ID.String())
	if err := s.rdb.Set(ctx, startKey, attempt.StartedAt.Unix(), 0).Err(); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Failed to cache start time")
	}
	_ = s.rdb.Set(ctx, config.CacheKey.StudentActiveAttemptKey(attempt.StudentID), attempt.ID.String(), 0)
}

func (s *AttemptService) statusFromSnapshot(snap proctor.Snapshot) *model.AttemptStatusResponse {
	return &model.AttemptStatusResponse{
		AttemptID:        snap.AttemptID,
		Status:           snap.Status,
		RemainingSeconds: snap.RemainingSeconds(),
		RiskLevel:        snap.Level,
		SuspicionScore:   snap.Score,
		Breakdown:        snap.Breakdown,
		Degraded:         snap.Degraded,
	}
}

func (s *AttemptService) statusFromAttempt(attempt *model.Attempt) *model.AttemptStatusResponse {
	return &model.AttemptStatusResponse{
		AttemptID:        attempt.ID,
		Status:           attempt.Status,
		RemainingSeconds: 0,
		RiskLevel:        attempt.RiskLevel,
		SuspicionScore:   attempt.SuspicionScore,
	}
}
