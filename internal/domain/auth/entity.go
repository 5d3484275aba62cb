// internal/domain/auth/entity.go
package auth

import (
	"database/sql"
	"time"
)

// Roles assignable to a user. Role drives the post-login landing page and
// admin-only route eligibility.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User is an account row.
type User struct {
	ID                  int64          `json:"id"`
	Email               string         `json:"email"`
	FullName            string         `json:"full_name"`
	Role                string         `json:"role"`
	IsActive            bool           `json:"is_active"`
	MustResetPassword   bool           `json:"-"`
	PasswordHash        string         `json:"-"`
	FailedLoginAttempts int            `json:"-"`
	LastLogin           sql.NullTime   `json:"-"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	DeletedAt           sql.NullTime   `json:"-"`
}

// ResetToken is a single-use password reset token row.
type ResetToken struct {
	ID        int64
	UserID    int64
	Token     string
	ExpiresAt time.Time
	UsedAt    sql.NullTime
	CreatedAt time.Time
}
