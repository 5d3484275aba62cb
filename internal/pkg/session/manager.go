// internal/pkg/session/manager.go
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found or expired")

const maintenanceKey = "auth:maintenance"

type Manager struct {
	client *redis.Client
}

func NewManager(client *redis.Client) *Manager {
	return &Manager{client: client}
}

// CreateSession stores a new session in Redis with TTL bound to the token expiry.
func (m *Manager) CreateSession(ctx context.Context, data *Data) error {
	key := m.sessionKey(data.UserID, data.JTI)

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ttl := time.Until(data.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}

	if err := m.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session in redis: %w", err)
	}

	return nil
}

// GetSession retrieves a session from Redis.
func (m *Manager) GetSession(ctx context.Context, userID int64, jti string) (*Data, error) {
	key := m.sessionKey(userID, jti)

	raw, err := m.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if !data.IsActive {
		return nil, ErrNotFound
	}

	return &data, nil
}

// TouchSession updates the last-activity timestamp without changing the TTL.
func (m *Manager) TouchSession(ctx context.Context, userID int64, jti string) error {
	data, err := m.GetSession(ctx, userID, jti)
	if err != nil {
		return err
	}

	data.LastActivityAt = time.Now()
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	return m.client.Set(ctx, m.sessionKey(userID, jti), raw, redis.KeepTTL).Err()
}

// InvalidateSession removes a single session.
func (m *Manager) InvalidateSession(ctx context.Context, userID int64, jti string) error {
	return m.client.Del(ctx, m.sessionKey(userID, jti)).Err()
}

// InvalidateAllUserSessions removes every session for a user and kills every
// refresh token registered to them, so a held refresh token cannot mint new
// sessions after a logout-all or password reset.
func (m *Manager) InvalidateAllUserSessions(ctx context.Context, userID int64) error {
	for _, pattern := range []string{
		fmt.Sprintf("session:%d:*", userID),
		fmt.Sprintf("refresh:%d:*", userID),
	} {
		iter := m.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := m.client.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
	}
	return nil
}

// RegisterRefreshToken records a live refresh token for its full lifetime.
// Refresh is only honored while this registration exists.
func (m *Manager) RegisterRefreshToken(ctx context.Context, userID int64, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("refresh token already expired")
	}
	return m.client.Set(ctx, m.refreshKey(userID, jti), "1", ttl).Err()
}

// IsRefreshTokenLive reports whether a refresh token is still registered.
func (m *Manager) IsRefreshTokenLive(ctx context.Context, userID int64, jti string) (bool, error) {
	n, err := m.client.Exists(ctx, m.refreshKey(userID, jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check refresh token: %w", err)
	}
	return n > 0, nil
}

// InvalidateRefreshToken revokes a single refresh token.
func (m *Manager) InvalidateRefreshToken(ctx context.Context, userID int64, jti string) error {
	return m.client.Del(ctx, m.refreshKey(userID, jti)).Err()
}

// GetUserActiveSessions lists all live sessions for a user.
func (m *Manager) GetUserActiveSessions(ctx context.Context, userID int64) ([]*Data, error) {
	pattern := fmt.Sprintf("session:%d:*", userID)

	var sessions []*Data
	iter := m.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		raw, err := m.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var data Data
		if err := json.Unmarshal(raw, &data); err != nil {
			continue
		}
		if data.IsActive {
			sessions = append(sessions, &data)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// BlacklistToken marks a jti as revoked until its natural expiry.
func (m *Manager) BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return m.client.Set(ctx, m.blacklistKey(jti), "1", ttl).Err()
}

// IsTokenBlacklisted reports whether a jti has been revoked.
func (m *Manager) IsTokenBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := m.client.Exists(ctx, m.blacklistKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return n > 0, nil
}

// SetMaintenanceMode toggles the maintenance flag checked during credential
// validation and token admission.
func (m *Manager) SetMaintenanceMode(ctx context.Context, on bool) error {
	if on {
		return m.client.Set(ctx, maintenanceKey, "1", 0).Err()
	}
	return m.client.Del(ctx, maintenanceKey).Err()
}

// IsMaintenanceMode reports whether the maintenance flag is set.
func (m *Manager) IsMaintenanceMode(ctx context.Context) (bool, error) {
	n, err := m.client.Exists(ctx, maintenanceKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check maintenance flag: %w", err)
	}
	return n > 0, nil
}

func (m *Manager) sessionKey(userID int64, jti string) string {
	return fmt.Sprintf("session:%d:%s", userID, jti)
}

func (m *Manager) blacklistKey(jti string) string {
	return fmt.Sprintf("blacklist:%s", jti)
}

func (m *Manager) refreshKey(userID int64, jti string) string {
	return fmt.Sprintf("refresh:%d:%s", userID, jti)
}
