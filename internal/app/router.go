// internal/app/router.go
package app

import (
	authHandler "carelink-service/internal/handlers/auth"
	"carelink-service/internal/middleware"
	"carelink-service/internal/ws"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LogoutPath is the one route the admission gate always admits: a client
// discarding its own session must never be blocked by token validation.
const LogoutPath = "/api/v1/auth/logout"

type Handlers struct {
	AuthHandler    *authHandler.AuthHandler
	WSHandler      *ws.Handler
	AuthMiddleware *middleware.AuthMiddleware
}

func SetupRouter(r *gin.Engine, logger *zap.Logger, h *Handlers) {
	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "version": "1.0.0"})
	})

	// ==================== WebSocket ====================
	r.GET("/ws", h.WSHandler.HandleConnection)

	// ==================== Public Auth Routes ====================
	authPublic := api.Group("/auth")
	{
		authPublic.POST("/register", h.AuthHandler.Register)
		authPublic.POST("/login", h.AuthHandler.Login)
		authPublic.POST("/refresh", h.AuthHandler.Refresh)
		authPublic.POST("/forgot-password", h.AuthHandler.ForgotPassword)
		authPublic.POST("/reset-password", h.AuthHandler.ResetPassword)
	}

	// ==================== Gated Auth Routes ====================
	authProtected := api.Group("/auth")
	authProtected.Use(h.AuthMiddleware.Auth())
	{
		// The gate's logout override applies here: this handler runs even
		// when the bearer token is expired, malformed or revoked.
		authProtected.POST("/logout", h.AuthHandler.Logout)
		authProtected.GET("/me", h.AuthHandler.GetMe)
	}

	// ==================== Admin Routes ====================
	admin := api.Group("/admin")
	admin.Use(h.AuthMiddleware.AdminOnly()...)
	{
		admin.POST("/users/:user_id/logout-all", h.AuthHandler.LogoutAll)
		admin.POST("/users/:user_id/deactivate", h.AuthHandler.DeactivateUser)
		admin.POST("/users/:user_id/unlock", h.AuthHandler.UnlockUser)
		admin.GET("/users/:user_id/sessions", h.AuthHandler.ListSessions)
		admin.POST("/maintenance", h.AuthHandler.SetMaintenance)
	}
}
