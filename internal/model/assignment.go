package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AssignmentKind distinguishes proctored quizzes from essay-style work.
// Only quiz assignments get a timed, proctored attempt.
type AssignmentKind string

const (
	AssignmentKindQuiz  AssignmentKind = "QUIZ"
	AssignmentKindEssay AssignmentKind = "ESSAY"
)

// Assignment is one classroom assignment instance.
type Assignment struct {
	ID       uuid.UUID      `json:"id"`
	Title    string         `json:"title"`
	AuthorID int            `json:"author_id"`
	Kind     AssignmentKind `json:"kind"`

	// Window configuration. All optional: OpenAt gates opening, LockAt is a
	// hard cutoff, DueDate a soft one. LockAt wins when both are set.
	OpenAt  *time.Time `json:"open_at,omitempty"`
	DueDate *time.Time `json:"due_date,omitempty"`
	LockAt  *time.Time `json:"lock_at,omitempty"`

	// DurationSeconds is the personal timer budget per attempt. It may
	// exceed the assignment window's remaining time when an extension
	// policy grants it.
	DurationSeconds int `json:"duration_seconds"`

	// AccessCodeHash is the bcrypt hash of the optional quiz access code.
	// Never serialized to clients.
	AccessCodeHash *string `json:"-"`

	// ProctorRules optionally overrides the default rule table for this
	// assignment, stored as the JSON form of []proctor.Rule.
	ProctorRules json.RawMessage `json:"proctor_rules,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
