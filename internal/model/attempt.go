package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/proctor"
)

// Attempt is one student's timed run at one quiz assignment.
type Attempt struct {
	ID             uuid.UUID         `json:"id"`
	AssignmentID   uuid.UUID         `json:"assignment_id"`
	StudentID      int               `json:"student_id"`
	Status         proctor.Status    `json:"status"`
	SuspicionScore int               `json:"suspicion_score"`
	RiskLevel      proctor.RiskLevel `json:"risk_level"`

	DurationSeconds int        `json:"duration_seconds"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// OpenAttemptRequest is the payload for opening a quiz attempt.
type OpenAttemptRequest struct {
	AccessCode string `json:"access_code" binding:"omitempty,min=4,max=20"`
}

// IngestEventRequest is a client-reported behavioral observation.
// EventType is the raw name; normalization happens server-side.
type IngestEventRequest struct {
	EventType  string          `json:"event_type" binding:"required,max=64"`
	OccurredAt *time.Time      `json:"occurred_at" binding:"omitempty"`
	Metadata   json.RawMessage `json:"metadata" binding:"omitempty"`
}

// SubmitAttemptRequest carries the final answer set on explicit submission.
type SubmitAttemptRequest struct {
	Answers map[string]string `json:"answers" binding:"omitempty"`
}

// OverrideAttemptRequest is a teacher/admin directive on a live attempt.
type OverrideAttemptRequest struct {
	Action string `json:"action" binding:"required,oneof=resume terminate"`
	Reason string `json:"reason" binding:"omitempty,max=500"`
}

// AttemptStatusResponse is the student-facing status payload.
type AttemptStatusResponse struct {
	AttemptID        uuid.UUID                `json:"attempt_id"`
	Status           proctor.Status           `json:"status"`
	RemainingSeconds int                      `json:"remaining_seconds"`
	RiskLevel        proctor.RiskLevel        `json:"risk_level"`
	SuspicionScore   int                      `json:"suspicion_score"`
	Breakdown        []proctor.BreakdownEntry `json:"breakdown,omitempty"`
	Degraded         bool                     `json:"degraded,omitempty"`
}
