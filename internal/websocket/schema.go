package websocket

import (
	"encoding/json"

	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionEvent    Action = "event"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestPayload is the single client frame shape. Fields beyond Action are
// populated depending on the action.
type RequestPayload struct {
	Action Action `json:"action"`

	// autosave
	QuestionID string `json:"question_id,omitempty"`
	Answer     string `json:"answer,omitempty"`

	// event
	EventType string          `json:"event_type,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`

	// submit
	Answers map[string]string `json:"answers,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventStatus    Event = "status"
	EventSaved     Event = "saved"
	EventSubmitted Event = "submitted"
	EventError     Event = "error"
	EventPong      Event = "pong"
)

// StatusResponse carries the periodic countdown/risk push and the reply to
// ingested events.
type StatusResponse struct {
	Event  Event                        `json:"event"`
	Status *model.AttemptStatusResponse `json:"status"`
}

type SavedResponse struct {
	Event      Event  `json:"event"`
	QuestionID string `json:"question_id"`
}

type SubmittedResponse struct {
	Event  Event                        `json:"event"`
	Status *model.AttemptStatusResponse `json:"status"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
