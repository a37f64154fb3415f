package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/model"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/proctor"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/response"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/service"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/validator"
)

const monitorKeepAliveInterval = 30 * time.Second

// OversightHandler handles the teacher/admin monitoring endpoints: attempt
// lists, per-attempt breakdowns for appeals, overrides and the live monitor
// stream.
type OversightHandler struct {
	attemptService *service.AttemptService
	notifier       *service.RedisNotifier
	log            zerolog.Logger
}

// NewOversightHandler creates a new OversightHandler.
func NewOversightHandler(attemptService *service.AttemptService, notifier *service.RedisNotifier, log zerolog.Logger) *OversightHandler {
	return &OversightHandler{
		attemptService: attemptService,
		notifier:       notifier,
		log:            log.With().Str("component", "oversight_handler").Logger(),
	}
}

// ListAttempts godoc
// GET /api/v1/staff/assignments/:assignment_id/attempts
// Lists every attempt on an assignment, most suspicious first.
func (h *OversightHandler) ListAttempts(c *gin.Context) {
	assignmentID, err := uuid.Parse(c.Param("assignment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))

	attempts, total, err := h.attemptService.ListByAssignment(c.Request.Context(), assignmentID, page, perPage)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"attempts": attempts,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

// Monitor godoc
// GET /api/v1/staff/assignments/:assignment_id/monitor
// SSE stream of attempt state transitions on an assignment: status changes,
// pauses and terminations arrive as they happen via the Redis PubSub channel
// the intent handler publishes to, so the stream works across server
// instances.
func (h *OversightHandler) Monitor(c *gin.Context) {
	assignmentID, err := uuid.Parse(c.Param("assignment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// Initial snapshot so the dashboard renders before the first transition.
	attempts, total, err := h.attemptService.ListByAssignment(reqCtx, assignmentID, 1, 1000)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	c.SSEvent("message", gin.H{
		"type":     "snapshot",
		"total":    total,
		"attempts": attempts,
	})
	c.Writer.Flush()

	pubsub := h.notifier.Subscribe(reqCtx, assignmentID)
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(monitorKeepAliveInterval)
	defer keepAliveTicker.Stop()

	h.log.Info().Str("assignment_id", assignmentID.String()).Msg("Staff attached to monitor stream")
	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("assignment_id", assignmentID.String()).Msg("Staff detached from monitor stream")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			// The published payload is already JSON; forward it verbatim.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

// GetBreakdown godoc
// GET /api/v1/staff/attempts/:attempt_id/breakdown
// Returns the full event log and transition history behind an attempt's
// suspicion score, for appeal review.
func (h *OversightHandler) GetBreakdown(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	status, events, audit, err := h.attemptService.GetBreakdown(c.Request.Context(), attemptID)
	if err != nil {
		if errors.Is(err, service.ErrAttemptNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"status": status,
		"events": events,
		"audit":  audit,
	})
}

// Override godoc
// POST /api/v1/staff/attempts/:attempt_id/override
// Resumes a paused attempt or terminates a live one.
func (h *OversightHandler) Override(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.OverrideAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	status, err := h.attemptService.Override(c.Request.Context(), attemptID, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAttemptNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
		case errors.Is(err, service.ErrUnknownOverride):
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidOverrideAction)
		case errors.Is(err, proctor.ErrAttemptClosed):
			response.Fail(c, http.StatusConflict, response.ErrAttemptClosed)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, status)
}
