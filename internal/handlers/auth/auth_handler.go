// internal/handlers/auth/auth_handler.go
package auth

import (
	"errors"
	"net/http"
	"strconv"

	"carelink-service/internal/domain/auth"
	"carelink-service/internal/middleware"
	"carelink-service/internal/pkg/authcode"
	"carelink-service/internal/pkg/response"
	authUsecase "carelink-service/internal/service/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthHandler struct {
	authService *authUsecase.AuthService
	logger      *zap.Logger
}

func NewAuthHandler(authService *authUsecase.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// ========== Registration ==========

// Register handles user registration (public endpoint)
func (h *AuthHandler) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	loginResp, err := h.authService.Register(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("registration failed",
			zap.String("email", req.Email),
			zap.Error(err),
		)
		response.Error(c, http.StatusBadRequest, "registration failed", err)
		return
	}

	response.Success(c, http.StatusCreated, "registration successful", loginResp)
}

// ========== Login ==========

// Login handles user login
func (h *AuthHandler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	loginResp, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		h.logger.Warn("login failed",
			zap.String("email", req.Email),
			zap.String("ip", c.ClientIP()),
			zap.String("code", string(authcode.CodeOf(err))),
		)
		response.AuthError(c, classify(err))
		return
	}

	h.logger.Info("user logged in",
		zap.Int64("user_id", loginResp.User.ID),
		zap.String("email", loginResp.User.Email),
	)

	response.Success(c, http.StatusOK, "login successful", loginResp)
}

// ========== Refresh ==========

// Refresh rotates the access token using a refresh token
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req auth.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	loginResp, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		response.AuthError(c, classify(err))
		return
	}

	response.Success(c, http.StatusOK, "token refreshed", loginResp)
}

// ========== Logout ==========

// Logout handles user logout. The route sits behind the gate's logout
// override, so claims may be absent; local cleanup succeeds regardless.
func (h *AuthHandler) Logout(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	jti, _ := middleware.GetJTI(c)

	if err := h.authService.Logout(c.Request.Context(), userID, jti); err != nil {
		h.logger.Error("logout failed",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}

	response.Success(c, http.StatusOK, "logout successful", nil)
}

// LogoutAll invalidates every session of a target user (admin only).
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid user id", err)
		return
	}

	if err := h.authService.LogoutAllSessions(c.Request.Context(), userID); err != nil {
		response.Error(c, http.StatusInternalServerError, "logout all failed", err)
		return
	}

	response.Success(c, http.StatusOK, "all sessions logged out", nil)
}

// ========== Password Management ==========

// ForgotPassword handles password reset request
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req auth.ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	if err := h.authService.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		h.logger.Error("forgot password failed",
			zap.String("email", req.Email),
			zap.Error(err),
		)
		// Don't reveal if email exists
	}

	// Always return success to prevent email enumeration
	response.Success(c, http.StatusOK, "if email exists, reset link has been sent", nil)
}

// ResetPassword handles password reset
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req auth.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	if err := h.authService.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		response.Error(c, http.StatusBadRequest, "password reset failed", err)
		return
	}

	response.Success(c, http.StatusOK, "password reset successful", nil)
}

// ========== Profile ==========

// GetMe returns current user profile (requires auth)
func (h *AuthHandler) GetMe(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	profile, err := h.authService.GetProfile(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to get profile", err)
		return
	}

	response.Success(c, http.StatusOK, "profile retrieved", profile)
}

// ========== Admin ==========

// DeactivateUser deactivates a user account (admin only)
func (h *AuthHandler) DeactivateUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid user id", err)
		return
	}

	if err := h.authService.DeactivateUser(c.Request.Context(), userID); err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to deactivate user", err)
		return
	}

	response.Success(c, http.StatusOK, "user deactivated", nil)
}

// UnlockUser clears a temporary lockout (admin only)
func (h *AuthHandler) UnlockUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid user id", err)
		return
	}

	if err := h.authService.UnlockAccount(c.Request.Context(), userID); err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to unlock account", err)
		return
	}

	response.Success(c, http.StatusOK, "account unlocked", nil)
}

// ListSessions returns a user's active sessions (admin only)
func (h *AuthHandler) ListSessions(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid user id", err)
		return
	}

	sessions, err := h.authService.ListUserSessions(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to list sessions", err)
		return
	}

	response.Success(c, http.StatusOK, "sessions retrieved", gin.H{"sessions": sessions})
}

// SetMaintenance toggles maintenance mode (admin only)
func (h *AuthHandler) SetMaintenance(c *gin.Context) {
	var req auth.MaintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	if err := h.authService.SetMaintenance(c.Request.Context(), *req.Enabled); err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to set maintenance mode", err)
		return
	}

	response.Success(c, http.StatusOK, "maintenance mode updated", gin.H{"enabled": *req.Enabled})
}

// classify collapses unclassified internal errors into the generic auth
// error so internals never leak to the caller.
func classify(err error) error {
	var e *authcode.Error
	if errors.As(err, &e) {
		return e
	}
	return authcode.New(authcode.CodeGenericAuthError, nil)
}
