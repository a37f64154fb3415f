package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/model"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/proctor"
)

// AttemptRow combines an attempt with the student identity columns teachers
// see in the oversight view.
type AttemptRow struct {
	model.Attempt
	StudentName string `json:"student_name"`
}

// AttemptRepository handles attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Create inserts a new attempt (student opens the quiz). Idempotent per
// (assignment, student): a concurrent or repeated open returns no row, and
// the caller falls back to GetByAssignmentAndStudent.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO attempts (assignment_id, student_id, status, duration_seconds)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (assignment_id, student_id) DO NOTHING
		 RETURNING id, started_at`,
		a.AssignmentID, a.StudentID, proctor.StatusActive, a.DurationSeconds,
	).Scan(&a.ID, &a.StartedAt)
}

// GetByID retrieves one attempt.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, assignment_id, student_id, status, suspicion_score, risk_level,
		        duration_seconds, started_at, finished_at
		 FROM attempts
		 WHERE id = $1`, id,
	).Scan(&a.ID, &a.AssignmentID, &a.StudentID, &a.Status, &a.SuspicionScore,
		&a.RiskLevel, &a.DurationSeconds, &a.StartedAt, &a.FinishedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetByAssignmentAndStudent retrieves the attempt for one student on one
// assignment.
func (r *AttemptRepository) GetByAssignmentAndStudent(ctx context.Context, assignmentID uuid.UUID, studentID int) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, assignment_id, student_id, status, suspicion_score, risk_level,
		        duration_seconds, started_at, finished_at
		 FROM attempts
		 WHERE assignment_id = $1 AND student_id = $2`, assignmentID, studentID,
	).Scan(&a.ID, &a.AssignmentID, &a.StudentID, &a.Status, &a.SuspicionScore,
		&a.RiskLevel, &a.DurationSeconds, &a.StartedAt, &a.FinishedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetActiveByStudent retrieves the student's newest non-terminal attempt.
func (r *AttemptRepository) GetActiveByStudent(ctx context.Context, studentID int) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, assignment_id, student_id, status, suspicion_score, risk_level,
		        duration_seconds, started_at, finished_at
		 FROM attempts
		 WHERE student_id = $1 AND status NOT IN ('TERMINATED', 'SUBMITTED', 'EXPIRED')
		 ORDER BY started_at DESC
		 LIMIT 1`, studentID,
	).Scan(&a.ID, &a.AssignmentID, &a.StudentID, &a.Status, &a.SuspicionScore,
		&a.RiskLevel, &a.DurationSeconds, &a.StartedAt, &a.FinishedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAnswers retrieves the durably persisted answers for an attempt.
func (r *AttemptRepository) ListAnswers(ctx context.Context, attemptID uuid.UUID) (map[string]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, answer FROM attempt_answers WHERE attempt_id = $1`,
		attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := make(map[string]string)
	for rows.Next() {
		var qid, ans string
		if err := rows.Scan(&qid, &ans); err != nil {
			return nil, err
		}
		answers[qid] = ans
	}
	return answers, rows.Err()
}

// UpdateStatus records a transition. The WHERE guard keeps terminal rows
// immutable even if a stale update races in: status never regresses.
func (r *AttemptRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status proctor.Status, score int, level proctor.RiskLevel) error {
	var finishedAt *time.Time
	if status.Terminal() {
		now := time.Now()
		finishedAt = &now
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET status = $1, suspicion_score = $2, risk_level = $3,
		     finished_at = COALESCE($4, finished_at)
		 WHERE id = $5 AND status NOT IN ('TERMINATED', 'SUBMITTED', 'EXPIRED')`,
		status, score, level, finishedAt, id)
	return err
}

// ListByAssignment retrieves attempts for an assignment with pagination,
// most suspicious first, for the teacher oversight view.
func (r *AttemptRepository) ListByAssignment(ctx context.Context, assignmentID uuid.UUID, page, perPage int) ([]AttemptRow, int64, error) {
	offset := (page - 1) * perPage

	var total int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE assignment_id = $1`, assignmentID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count attempts: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.assignment_id, a.student_id, a.status, a.suspicion_score,
		        a.risk_level, a.duration_seconds, a.started_at, a.finished_at, s.name
		 FROM attempts a
		 JOIN students s ON a.student_id = s.id
		 WHERE a.assignment_id = $1
		 ORDER BY a.suspicion_score DESC, a.started_at ASC
		 LIMIT $2 OFFSET $3`, assignmentID, perPage, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []AttemptRow
	for rows.Next() {
		var row AttemptRow
		if err := rows.Scan(&row.ID, &row.AssignmentID, &row.StudentID, &row.Status,
			&row.SuspicionScore, &row.RiskLevel, &row.DurationSeconds,
			&row.StartedAt, &row.FinishedAt, &row.StudentName); err != nil {
			return nil, 0, err
		}
		out = append(out, row)
	}
	return out, total, rows.Err()
}
