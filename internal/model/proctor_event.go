package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/proctor"
)

// ProctorEvent is one behavioral observation scored against an attempt.
// Events are append-only: retained for audit, never mutated after ingestion.
type ProctorEvent struct {
	ID        int64           `json:"id"`
	AttemptID uuid.UUID       `json:"attempt_id"`
	EventType string          `json:"event_type"` // raw, as reported
	Rule      proctor.RuleID  `json:"rule"`       // canonical
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"` // client-reported, clamped server-side
}
