package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/config"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/handler"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/middleware"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/response"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt   *handler.AttemptHandler
	Oversight *handler.OversightHandler
	WS        *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for event ingestion (120 events per minute per IP).
	// A client bug or a hostile script flooding events should not be able
	// to saturate the persistence queue.
	eventLimiter := middleware.NewRateLimiter(120, time.Minute)

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(authService))
	{
		studentAPI.POST("/assignments/:assignment_id/attempts", handlers.Attempt.OpenAttempt)
		studentAPI.GET("/active-attempt", handlers.Attempt.GetActiveAttempt)
		studentAPI.GET("/attempts/:attempt_id", handlers.Attempt.GetStatus)
		studentAPI.GET("/attempts/:attempt_id/answers", handlers.Attempt.GetSavedAnswers)
		studentAPI.POST("/attempts/:attempt_id/events", eventLimiter.Middleware(), handlers.Attempt.IngestEvent)
		studentAPI.POST("/attempts/:attempt_id/submit", handlers.Attempt.Submit)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	// ─── 3. Staff Group (Teacher/Admin JWT) ────────────────────────────
	staffAPI := router.Group("/api/v1/staff")
	staffAPI.Use(middleware.RequireStaffJWT(authService))
	{
		staffAPI.GET("/assignments/:assignment_id/attempts", handlers.Oversight.ListAttempts)
		staffAPI.GET("/assignments/:assignment_id/monitor", handlers.Oversight.Monitor)
		staffAPI.GET("/attempts/:attempt_id/breakdown", handlers.Oversight.GetBreakdown)
		staffAPI.POST("/attempts/:attempt_id/override", handlers.Oversight.Override)
	}

	return router
}
