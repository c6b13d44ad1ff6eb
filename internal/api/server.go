// Package api exposes the interview over HTTP and WebSocket with gin.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mockinterview/interviewd/internal/audit"
	"github.com/mockinterview/interviewd/internal/connections"
	"github.com/mockinterview/interviewd/internal/health"
	"github.com/mockinterview/interviewd/internal/protocol"
	"github.com/mockinterview/interviewd/internal/router"
	"github.com/mockinterview/interviewd/internal/sessions"
)

// Config holds the HTTP surface settings.
type Config struct {
	AdminAPIKey    string
	AllowedOrigins []string
	MaxRequestSize int64
	MaxAudioBytes  int
	Production     bool
}

// Server holds every service the handlers need
type Server struct {
	Config Config
	Store  *sessions.Store
	Router *router.Router
	Conns  *connections.Manager
	Codec  *protocol.Codec
	Health *health.Manager
	// Audit is nil when interaction logging is disabled.
	Audit  *audit.Logger
	Logger *zap.Logger
}

// Handler builds the gin engine with every route.
func (s *Server) Handler() *gin.Engine {
	engine := gin.New()

	engine.Use(s.corsMiddleware())
	engine.Use(gin.Logger())
	engine.Use(gin.Recovery())

	engine.GET("/health", healthCheck(s))

	// WebSocket
	engine.GET("/ws", serveWebSocket(s))
	engine.GET("/ws/:sessionId", serveWebSocket(s))

	api := engine.Group("/api")
	api.Use(RequestSizeMiddleware(s.Config.MaxRequestSize))
	{
		// Interview (stateless HTTP path)
		interview := api.Group("/interview")
		{
			interview.POST("/start", startInterview(s))
			interview.GET("/:sessionId/status", interviewStatus(s))
			interview.GET("/:sessionId/turns", interviewTurns(s))
			interview.POST("/:sessionId/process", processText(s))
			interview.POST("/:sessionId/process-audio", processAudio(s))
		}

		// Administration
		admin := api.Group("")
		admin.Use(AdminAuthMiddleware(s))
		{
			admin.GET("/websocket/stats", websocketStats(s))
			admin.GET("/websocket/sessions", websocketSessions(s))
			admin.GET("/websocket/sessions/:sessionId", websocketSession(s))
			admin.POST("/websocket/sessions/:sessionId/message", sendToSession(s))
			admin.POST("/websocket/broadcast", broadcast(s))
			admin.GET("/sessions", listSessions(s))
			admin.DELETE("/sessions/:sessionId", evictSession(s))
			admin.GET("/sessions/:sessionId/interactions", sessionInteractions(s))
		}
	}

	return engine
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	if s.allowAllOrigins() {
		return cors.Default()
	}
	return cors.New(cors.Config{
		AllowOrigins:     s.Config.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func (s *Server) allowAllOrigins() bool {
	if len(s.Config.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.Config.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.allowAllOrigins() {
		return true
	}
	for _, o := range s.Config.AllowedOrigins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// RequestSizeMiddleware caps request bodies.
func RequestSizeMiddleware(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// AdminAuthMiddleware requires the admin key on administrative routes when
// one is configured.
func AdminAuthMiddleware(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.Config.AdminAPIKey == "" {
			c.Next()
			return
		}
		if !isValidAdminAuth(c.GetHeader("Authorization"), s.Config.AdminAPIKey) {
			s.Logger.Warn("Unauthorized access to admin endpoint",
				zap.String("path", c.Request.URL.Path),
				zap.String("method", c.Request.Method),
				zap.String("remote_addr", c.Request.RemoteAddr))

			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "admin authentication required",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// isValidAdminAuth accepts "Bearer <key>" or "Api-Key <key>".
func isValidAdminAuth(authHeader, expectedKey string) bool {
	if authHeader == "" {
		return false
	}
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ") == expectedKey
	}
	if strings.HasPrefix(authHeader, "Api-Key ") {
		return strings.TrimPrefix(authHeader, "Api-Key ") == expectedKey
	}
	return false
}

func healthCheck(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := s.Health.RuntimeHealthCheck(c.Request.Context())
		status := http.StatusOK
		if report.Status == health.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		stats := s.Conns.Stats()
		c.JSON(status, gin.H{
			"status":             report.Status,
			"timestamp":          time.Now().Format(time.RFC3339),
			"version":            protocol.ServerVersion,
			"checks":             report.Checks,
			"active_connections": stats.Active,
			"total_sessions":     s.Store.Len(),
		})
	}
}
