// internal/pkg/session/types.go
package session

import "time"

// Data is the server-side session record cached in Redis, keyed by
// (user id, jti). Its TTL tracks the access token expiry.
type Data struct {
	JTI            string    `json:"jti"`
	RefreshJTI     string    `json:"refresh_jti,omitempty"`
	UserID         int64     `json:"user_id"`
	Email          string    `json:"email"`
	Role           string    `json:"role"`
	IPAddress      string    `json:"ip_address,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	LoginAt        time.Time `json:"login_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	IsActive       bool      `json:"is_active"`
}
