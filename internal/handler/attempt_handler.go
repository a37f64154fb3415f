package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/middleware"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/model"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/proctor"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/response"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/service"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/validator"
)

// AttemptHandler handles student-facing attempt endpoints (open, events,
// status, submit).
type AttemptHandler struct {
	attemptService *service.AttemptService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService) *AttemptHandler {
	return &AttemptHandler{attemptService: attemptService}
}

// OpenAttempt godoc
// POST /api/v1/student/assignments/:assignment_id/attempts
// Opens (or idempotently returns) the student's attempt on a quiz.
func (h *AttemptHandler) OpenAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assignmentID, err := uuid.Parse(c.Param("assignment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.OpenAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.attemptService.OpenAttempt(c.Request.Context(), assignmentID, claims.UserID, req.AccessCode)
	if err != nil {
		h.failAttempt(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// IngestEvent godoc
// POST /api/v1/student/attempts/:attempt_id/events
// Reports one behavioral event. Late events on closed attempts are logged
// for audit and acknowledged, never rejected.
func (h *AttemptHandler) IngestEvent(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.IngestEventRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	status, err := h.attemptService.IngestEvent(c.Request.Context(), attemptID, claims.UserID, &req)
	if err != nil {
		h.failAttempt(c, err)
		return
	}

	response.Success(c, http.StatusOK, status)
}

// GetStatus godoc
// GET /api/v1/student/attempts/:attempt_id
// Returns live status: state, remaining seconds, risk classification.
func (h *AttemptHandler) GetStatus(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	status, err := h.attemptService.GetStatus(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		h.failAttempt(c, err)
		return
	}

	response.Success(c, http.StatusOK, status)
}

// GetSavedAnswers godoc
// GET /api/v1/student/attempts/:attempt_id/answers
// Returns the autosaved answer set so a reload restores the form.
func (h *AttemptHandler) GetSavedAnswers(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	answers, err := h.attemptService.GetSavedAnswers(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		h.failAttempt(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"answers": answers})
}

// GetActiveAttempt godoc
// GET /api/v1/student/active-attempt
// Finds the student's in-flight attempt so a client without local state
// (new device, cleared storage) can rejoin.
func (h *AttemptHandler) GetActiveAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	status, err := h.attemptService.ActiveAttempt(c.Request.Context(), claims.UserID)
	if err != nil {
		h.failAttempt(c, err)
		return
	}

	response.Success(c, http.StatusOK, status)
}

// Submit godoc
// POST /api/v1/student/attempts/:attempt_id/submit
// Finishes the attempt with the final answer set.
func (h *AttemptHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SubmitAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	status, err := h.attemptService.Submit(c.Request.Context(), attemptID, claims.UserID, req.Answers)
	if err != nil {
		h.failAttempt(c, err)
		return
	}

	response.Success(c, http.StatusOK, status)
}

// failAttempt maps service errors to consistent API codes.
func (h *AttemptHandler) failAttempt(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAttemptNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
	case errors.Is(err, service.ErrNotAttemptOwner):
		response.Fail(c, http.StatusForbidden, response.ErrNotAttemptOwner)
	case errors.Is(err, service.ErrAssignmentNotQuiz):
		response.Fail(c, http.StatusBadRequest, response.ErrAssignmentNotQuiz)
	case errors.Is(err, service.ErrAssignmentNotOpen):
		response.Fail(c, http.StatusBadRequest, response.ErrAssignmentNotOpen)
	case errors.Is(err, service.ErrAssignmentLocked):
		response.Fail(c, http.StatusBadRequest, response.ErrAssignmentLocked)
	case errors.Is(err, service.ErrInvalidAccessCode):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidAccessCode)
	case errors.Is(err, proctor.ErrAttemptClosed):
		response.Fail(c, http.StatusConflict, response.ErrAttemptClosed)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
