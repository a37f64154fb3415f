package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/middleware"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/model"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/proctor"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/service"
	ws "github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler handles the WebSocket attempt stream: real-time countdown and
// risk pushes down, autosave/event/submit frames up.
type WSHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/attempts/:attempt_id/stream
// Upgrades to WebSocket. The server pushes a status frame every second so
// the client countdown cannot drift from the server timer; the client sends
// autosave, event and submit frames.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attempt ID"})
		return
	}

	studentID := claims.UserID

	// Verify ownership before the upgrade so a rejected client gets a clean
	// HTTP error instead of a dropped socket.
	if _, err := h.attemptService.GetStatus(c.Request.Context(), attemptID, studentID); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "no access to this attempt"})
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("attempt_id", attemptID.String()).
		Logger()

	wsLog.Info().Msg("Student connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.pushStatus(ctx, conn, attemptID, studentID, wsLog)

	for {
		var msg ws.RequestPayload
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAutosave:
			h.handleAutosave(ctx, conn, attemptID, studentID, &msg)
		case ws.ActionEvent:
			h.handleEvent(ctx, conn, attemptID, studentID, &msg)
		case ws.ActionSubmit:
			h.handleSubmit(ctx, conn, wsLog, attemptID, studentID, &msg)
		case ws.ActionPing:
			conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			conn.WriteError("unknown action: " + string(msg.Action))
		}
	}
}

// pushStatus sends the live countdown and risk state every second until the
// connection context ends.
func (h *WSHandler) pushStatus(ctx context.Context, conn *ws.Conn, attemptID uuid.UUID, studentID int, wsLog zerolog.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := h.attemptService.GetStatus(ctx, attemptID, studentID)
			if err != nil {
				wsLog.Debug().Err(err).Msg("Status push lookup failed")
				continue
			}
			if err := conn.WriteTyped(ws.StatusResponse{Event: ws.EventStatus, Status: status}); err != nil {
				return
			}
		}
	}
}

// handleAutosave feeds a single answer into the attempt's save coordinator.
func (h *WSHandler) handleAutosave(ctx context.Context, conn *ws.Conn, attemptID uuid.UUID, studentID int, msg *ws.RequestPayload) {
	if msg.QuestionID == "" || msg.Answer == "" {
		conn.WriteError("question_id and answer are required")
		return
	}

	if err := h.attemptService.AnswerChange(ctx, attemptID, studentID, msg.QuestionID, msg.Answer); err != nil {
		conn.WriteError("save failed: attempt is closed")
		return
	}

	conn.WriteTyped(ws.SavedResponse{Event: ws.EventSaved, QuestionID: msg.QuestionID})
}

// handleEvent routes a proctoring event through the same pipeline as the
// HTTP endpoint and replies with the refreshed status.
func (h *WSHandler) handleEvent(ctx context.Context, conn *ws.Conn, attemptID uuid.UUID, studentID int, msg *ws.RequestPayload) {
	if msg.EventType == "" {
		conn.WriteError("event_type is required")
		return
	}

	status, err := h.attemptService.IngestEvent(ctx, attemptID, studentID, &model.IngestEventRequest{
		EventType: msg.EventType,
		Metadata:  msg.Metadata,
	})
	if err != nil {
		conn.WriteError("event rejected")
		return
	}

	conn.WriteTyped(ws.StatusResponse{Event: ws.EventStatus, Status: status})
}

// handleSubmit finishes the attempt over the socket.
func (h *WSHandler) handleSubmit(ctx context.Context, conn *ws.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, studentID int, msg *ws.RequestPayload) {
	status, err := h.attemptService.Submit(ctx, attemptID, studentID, msg.Answers)
	if err != nil {
		if errors.Is(err, proctor.ErrAttemptClosed) {
			conn.WriteError("attempt already closed")
			return
		}
		wsLog.Error().Err(err).Msg("Submit over WebSocket failed")
		conn.WriteError("submit failed")
		return
	}

	wsLog.Info().Str("status", string(status.Status)).Msg("Attempt submitted over WebSocket")
	conn.WriteTyped(ws.SubmittedResponse{Event: ws.EventSubmitted, Status: status})
}
