// internal/middleware/auth_middleware.go
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"carelink-service/internal/pkg/authcode"
	"carelink-service/internal/pkg/jwt"
	"carelink-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// TokenValidator validates a bearer credential and classifies every failure.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*jwt.Claims, error)
}

type AuthMiddleware struct {
	validator  TokenValidator
	logoutPath string
}

// NewAuthMiddleware builds the admission gate. logoutPath is the one route
// where validation failures never block the request: a client discarding its
// own session must not be stopped by a server-side auth failure.
func NewAuthMiddleware(validator TokenValidator, logoutPath string) *AuthMiddleware {
	return &AuthMiddleware{
		validator:  validator,
		logoutPath: logoutPath,
	}
}

// Auth is the base authentication middleware that validates bearer tokens.
// Denials carry a classified reason code; the logout route is always admitted.
func (m *AuthMiddleware) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		override := m.isLogoutRoute(c)

		token := extractToken(c)
		if token == "" {
			if override {
				c.Next()
				return
			}
			response.AuthError(c, authcode.New(authcode.CodeMissingToken, nil))
			return
		}

		claims, err := m.validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			// Expired, malformed, revoked, disabled, anything: the logout
			// handler still runs so it can clear server-side markers.
			if override {
				c.Next()
				return
			}
			response.AuthError(c, err)
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// RequireRole requires the user to have one of the specified roles.
// MUST be used after Auth().
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole, exists := c.Get("role")
		if !exists {
			response.Error(c, http.StatusForbidden, "no role found - authentication required", nil)
			return
		}

		role, ok := userRole.(string)
		if !ok {
			response.Error(c, http.StatusInternalServerError, "invalid role format", nil)
			return
		}

		for _, required := range roles {
			if role == required {
				c.Next()
				return
			}
		}

		err := errors.New("user does not have required role")
		response.Error(c, http.StatusForbidden, "insufficient permissions", err, map[string]interface{}{
			"required_roles": roles,
		})
	}
}

// AdminOnly returns middlewares for admin-only routes (Auth + RequireRole).
func (m *AuthMiddleware) AdminOnly() []gin.HandlerFunc {
	return []gin.HandlerFunc{
		m.Auth(),
		m.RequireRole("admin"),
	}
}

func (m *AuthMiddleware) isLogoutRoute(c *gin.Context) bool {
	if m.logoutPath == "" {
		return false
	}
	return c.FullPath() == m.logoutPath || c.Request.URL.Path == m.logoutPath
}

func setClaims(c *gin.Context, claims *jwt.Claims) {
	c.Set("user_id", claims.UserID)
	c.Set("email", claims.Email)
	c.Set("role", claims.Role)
	c.Set("jti", claims.ID)
}

// extractToken extracts Bearer token from Authorization header
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return ""
}
