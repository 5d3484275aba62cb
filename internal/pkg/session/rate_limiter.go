// internal/pkg/session/rate_limiter.go
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	maxLoginAttempts   = 5
	loginAttemptWindow = 15 * time.Minute
	lockoutDuration    = 2 * time.Hour
)

type RateLimiter struct {
	client *redis.Client
}

func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// RecordFailedLogin counts a failed password attempt. Once the threshold is
// reached within the window the account is temporarily locked.
func (r *RateLimiter) RecordFailedLogin(ctx context.Context, userID int64) error {
	key := fmt.Sprintf("ratelimit:login:%d", userID)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to increment login attempt: %w", err)
	}

	// Set expiration on first attempt
	if count == 1 {
		r.client.Expire(ctx, key, loginAttemptWindow)
	}

	if count >= maxLoginAttempts {
		if err := r.LockAccount(ctx, userID, lockoutDuration); err != nil {
			return err
		}
		return r.client.Del(ctx, key).Err()
	}

	return nil
}

// ResetLoginAttempts resets the failed attempt counter after a successful login.
func (r *RateLimiter) ResetLoginAttempts(ctx context.Context, userID int64) error {
	key := fmt.Sprintf("ratelimit:login:%d", userID)
	return r.client.Del(ctx, key).Err()
}

// CheckPasswordResetAttempt checks password reset rate limit.
// Allows up to 3 reset requests per hour per email.
func (r *RateLimiter) CheckPasswordResetAttempt(ctx context.Context, email string) (bool, error) {
	key := fmt.Sprintf("ratelimit:password_reset:%s", email)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment password reset attempt: %w", err)
	}

	if count == 1 {
		r.client.Expire(ctx, key, 1*time.Hour)
	}

	return count <= 3, nil
}

// IsAccountTemporarilyLocked reports whether the account lockout flag is set
// and how long it has left to live.
func (r *RateLimiter) IsAccountTemporarilyLocked(ctx context.Context, userID int64) (bool, time.Duration, error) {
	key := fmt.Sprintf("account:locked:%d", userID)

	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}

	if ttl < 0 {
		return false, 0, nil // Not locked
	}

	return true, ttl, nil
}

// LockAccount temporarily locks an account.
func (r *RateLimiter) LockAccount(ctx context.Context, userID int64, duration time.Duration) error {
	key := fmt.Sprintf("account:locked:%d", userID)
	return r.client.Set(ctx, key, "1", duration).Err()
}

// UnlockAccount clears the lockout flag.
func (r *RateLimiter) UnlockAccount(ctx context.Context, userID int64) error {
	key := fmt.Sprintf("account:locked:%d", userID)
	return r.client.Del(ctx, key).Err()
}
