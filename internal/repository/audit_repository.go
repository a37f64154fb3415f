package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/proctor"
)

// AuditEntry is one recorded attempt transition. Entries are append-only.
type AuditEntry struct {
	ID        int64             `json:"id"`
	AttemptID uuid.UUID         `json:"attempt_id"`
	Status    proctor.Status    `json:"status"`
	RiskLevel proctor.RiskLevel `json:"risk_level"`
	Score     int               `json:"suspicion_score"`
	Reason    string            `json:"reason"`
	CreatedAt time.Time         `json:"created_at"`
}

// AuditRepository appends attempt transitions for the appeal/override trail.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Append records one transition. Never updates existing rows.
func (r *AuditRepository) Append(ctx context.Context, attemptID uuid.UUID, status proctor.Status, level proctor.RiskLevel, score int, reason string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempt_audit (attempt_id, status, risk_level, suspicion_score, reason)
		 VALUES ($1, $2, $3, $4, $5)`,
		attemptID, status, level, score, reason)
	return err
}

// ListByAttempt returns the transition history for one attempt.
func (r *AuditRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]AuditEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, attempt_id, status, risk_level, suspicion_score, reason, created_at
		 FROM attempt_audit
		 WHERE attempt_id = $1
		 ORDER BY id ASC`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.AttemptID, &e.Status, &e.RiskLevel, &e.Score, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
