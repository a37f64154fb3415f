package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/model"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/proctor"
)

// ProctorEventRepository handles the append-only behavioral event log.
// Rows are never updated or deleted; they back the teacher's appeal view.
type ProctorEventRepository struct {
	pool *pgxpool.Pool
}

// NewProctorEventRepository creates a new ProctorEventRepository.
func NewProctorEventRepository(pool *pgxpool.Pool) *ProctorEventRepository {
	return &ProctorEventRepository{pool: pool}
}

// Insert appends a single event.
func (r *ProctorEventRepository) Insert(ctx context.Context, e *model.ProctorEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO proctor_events (attempt_id, event_type, rule, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.AttemptID, e.EventType, e.Rule, e.Metadata, e.CreatedAt)
	return err
}

// BulkInsert appends a batch of events with CopyFrom (fast path for the
// persistence worker).
func (r *ProctorEventRepository) BulkInsert(ctx context.Context, events []*model.ProctorEvent) error {
	rows := make([][]interface{}, 0, len(events))
	for _, e := range events {
		rows = append(rows, []interface{}{
			e.AttemptID, e.EventType, string(e.Rule), e.Metadata, e.CreatedAt,
		})
	}
	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"proctor_events"},
		[]string{"attempt_id", "event_type", "rule", "metadata", "created_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// ListByAttempt returns all events for one attempt, oldest first.
func (r *ProctorEventRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.ProctorEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, attempt_id, event_type, rule, metadata, created_at
		 FROM proctor_events
		 WHERE attempt_id = $1
		 ORDER BY created_at ASC, id ASC`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.ProctorEvent
	for rows.Next() {
		var e model.ProctorEvent
		if err := rows.Scan(&e.ID, &e.AttemptID, &e.EventType, &e.Rule, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountsByAttempt returns per-rule counts for one attempt, used to rebuild
// scoring state when an attempt engine is rehydrated after a restart.
func (r *ProctorEventRepository) CountsByAttempt(ctx context.Context, attemptID uuid.UUID) (map[proctor.RuleID]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT rule, COUNT(*)
		 FROM proctor_events
		 WHERE attempt_id = $1
		 GROUP BY rule`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[proctor.RuleID]int)
	for rows.Next() {
		var rule string
		var n int
		if err := rows.Scan(&rule, &n); err != nil {
			return nil, err
		}
		counts[proctor.RuleID(rule)] = n
	}
	return counts, rows.Err()
}

// ClampCreatedAt bounds a client-reported timestamp to a sane window so a
// tampered clock cannot place events outside the attempt.
func ClampCreatedAt(reported *time.Time, now time.Time) time.Time {
	if reported == nil {
		return now
	}
	if reported.After(now) {
		return now
	}
	// Anything absurdly old is treated as "just now" rather than rejected.
	if now.Sub(*reported) > 24*time.Hour {
		return now
	}
	return *reported
}
