// internal/service/auth/auth.go
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"carelink-service/internal/domain/auth"
	"carelink-service/internal/pkg/authcode"
	"carelink-service/internal/pkg/jwt"
	"carelink-service/internal/pkg/session"
	"carelink-service/internal/repository/postgres"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	FindByEmail(ctx context.Context, email string) (*auth.User, error)
	FindByID(ctx context.Context, id int64) (*auth.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, u *auth.User) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	SetActive(ctx context.Context, id int64, active bool) error
	UpdateLastLogin(ctx context.Context, id int64) error
}

// ResetTokenRepo is the minimal reset-token repository needed by the auth service.
type ResetTokenRepo interface {
	Create(ctx context.Context, t *auth.ResetToken) error
	Find(ctx context.Context, token string) (*auth.ResetToken, error)
	MarkUsed(ctx context.Context, id int64) error
}

// SessionStore is the server-side session state consumed by the auth service.
type SessionStore interface {
	CreateSession(ctx context.Context, data *session.Data) error
	GetSession(ctx context.Context, userID int64, jti string) (*session.Data, error)
	TouchSession(ctx context.Context, userID int64, jti string) error
	InvalidateSession(ctx context.Context, userID int64, jti string) error
	InvalidateAllUserSessions(ctx context.Context, userID int64) error
	GetUserActiveSessions(ctx context.Context, userID int64) ([]*session.Data, error)
	BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error
	IsTokenBlacklisted(ctx context.Context, jti string) (bool, error)
	RegisterRefreshToken(ctx context.Context, userID int64, jti string, ttl time.Duration) error
	IsRefreshTokenLive(ctx context.Context, userID int64, jti string) (bool, error)
	InvalidateRefreshToken(ctx context.Context, userID int64, jti string) error
	SetMaintenanceMode(ctx context.Context, on bool) error
	IsMaintenanceMode(ctx context.Context) (bool, error)
}

// LoginLimiter tracks failed attempts and temporary account lockouts.
type LoginLimiter interface {
	RecordFailedLogin(ctx context.Context, userID int64) error
	ResetLoginAttempts(ctx context.Context, userID int64) error
	CheckPasswordResetAttempt(ctx context.Context, email string) (bool, error)
	IsAccountTemporarilyLocked(ctx context.Context, userID int64) (bool, time.Duration, error)
	UnlockAccount(ctx context.Context, userID int64) error
}

// Notifier pushes revocation events to connected clients.
type Notifier interface {
	ForceLogout(userID int64, jti, reason string)
}

type AuthService struct {
	userRepo    UserRepo
	resetRepo   ResetTokenRepo
	jwtManager  *jwt.Manager
	sessions    SessionStore
	rateLimiter LoginLimiter
	notifier    Notifier
	emailHelper *EmailHelper
	logger      *zap.Logger
}

func NewAuthService(
	userRepo UserRepo,
	resetRepo ResetTokenRepo,
	jwtManager *jwt.Manager,
	sessions SessionStore,
	rateLimiter LoginLimiter,
	notifier Notifier,
	emailHelper *EmailHelper,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		userRepo:    userRepo,
		resetRepo:   resetRepo,
		jwtManager:  jwtManager,
		sessions:    sessions,
		rateLimiter: rateLimiter,
		notifier:    notifier,
		emailHelper: emailHelper,
		logger:      logger,
	}
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

// ========== Credential Validation ==========

// ValidateCredentials checks email/password and classifies every non-success
// outcome so callers can render precise messaging.
func (s *AuthService) ValidateCredentials(ctx context.Context, email, password string) (*auth.User, error) {
	email = NormalizeEmail(email)

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, authcode.New(authcode.CodeInvalidCredentials, nil)
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	locked, remaining, err := s.rateLimiter.IsAccountTemporarilyLocked(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check lockout: %w", err)
	}
	if locked {
		return nil, authcode.Locked(remainingHours(remaining))
	}

	if !user.IsActive {
		return nil, authcode.New(authcode.CodeAccountDisabled, nil)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if err := s.rateLimiter.RecordFailedLogin(ctx, user.ID); err != nil {
			s.logger.Error("failed to record login attempt", zap.Error(err))
		}
		return nil, authcode.New(authcode.CodeInvalidCredentials, nil)
	}

	if user.MustResetPassword {
		return nil, authcode.New(authcode.CodePasswordResetRequired, nil)
	}

	if err := s.denyIfMaintenance(ctx, user.Role); err != nil {
		return nil, err
	}

	return user, nil
}

// ========== Login / Register ==========

// Login authenticates a user and issues a fresh token pair.
func (s *AuthService) Login(ctx context.Context, req *auth.LoginRequest) (*auth.LoginResponse, error) {
	user, err := s.ValidateCredentials(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}

	if err := s.userRepo.UpdateLastLogin(ctx, user.ID); err != nil {
		s.logger.Error("failed to update last login", zap.Error(err))
	}
	if err := s.rateLimiter.ResetLoginAttempts(ctx, user.ID); err != nil {
		s.logger.Error("failed to reset login attempts", zap.Error(err))
	}

	return s.issueSession(ctx, user, "", "")
}

// Register creates a new user account and logs it in.
func (s *AuthService) Register(ctx context.Context, req *auth.RegisterRequest) (*auth.LoginResponse, error) {
	email := NormalizeEmail(req.Email)

	exists, err := s.userRepo.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("email already registered")
	}

	if len(req.Password) < minPasswordLength {
		return nil, fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &auth.User{
		Email:        email,
		FullName:     req.FullName,
		Role:         auth.RoleUser,
		IsActive:     true,
		PasswordHash: string(hashedPassword),
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.emailHelper.SendWelcomeEmail(ctx, user.Email, user.FullName)

	// Auto-login after registration
	return s.issueSession(ctx, user, "", "")
}

// issueSession mints an access token and records the server-side session.
// With an empty refreshToken a fresh refresh token is minted and registered;
// otherwise the caller's surviving refresh token and jti are carried through.
func (s *AuthService) issueSession(ctx context.Context, user *auth.User, refreshToken, refreshJTI string) (*auth.LoginResponse, error) {
	accessToken, accessJTI, err := s.jwtManager.Generator.GenerateAccessToken(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	if refreshToken == "" {
		refreshToken, refreshJTI, err = s.jwtManager.Generator.GenerateRefreshToken(user.ID, user.Email, user.Role)
		if err != nil {
			return nil, fmt.Errorf("failed to generate refresh token: %w", err)
		}
		if err := s.sessions.RegisterRefreshToken(ctx, user.ID, refreshJTI, s.jwtManager.Generator.RefreshTTL); err != nil {
			return nil, fmt.Errorf("failed to register refresh token: %w", err)
		}
	}

	now := time.Now()
	expiresAt := now.Add(s.jwtManager.Generator.AccessTTL)

	data := &session.Data{
		JTI:            accessJTI,
		RefreshJTI:     refreshJTI,
		UserID:         user.ID,
		Email:          user.Email,
		Role:           user.Role,
		LoginAt:        now,
		LastActivityAt: now,
		ExpiresAt:      expiresAt,
		IsActive:       true,
	}

	if err := s.sessions.CreateSession(ctx, data); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &auth.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.jwtManager.Generator.AccessTTL.Seconds()),
		ExpiresAt:    expiresAt,
		User:         user.Info(),
	}, nil
}

// ========== Refresh ==========

// Refresh rotates the access token using a refresh-type token. The refresh
// token survives rotation but dies with its registration: logout, logout-all
// and password reset revoke it, and a revoked token can never mint again.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*auth.LoginResponse, error) {
	claims, err := s.jwtManager.Verifier.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	blacklisted, err := s.sessions.IsTokenBlacklisted(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check blacklist: %w", err)
	}
	if blacklisted {
		return nil, authcode.New(authcode.CodeGenericAuthError, fmt.Errorf("refresh token revoked"))
	}

	live, err := s.sessions.IsRefreshTokenLive(ctx, claims.UserID, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check refresh token: %w", err)
	}
	if !live {
		return nil, authcode.New(authcode.CodeGenericAuthError, fmt.Errorf("refresh token revoked"))
	}

	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, authcode.New(authcode.CodeGenericAuthError, fmt.Errorf("user not found"))
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if !user.IsActive {
		return nil, authcode.New(authcode.CodeAccountDisabled, nil)
	}
	if err := s.denyIfMaintenance(ctx, user.Role); err != nil {
		return nil, err
	}

	// Only the access credential rotates; the original refresh token is
	// handed back and its registration keeps its remaining TTL.
	return s.issueSession(ctx, user, refreshToken, claims.ID)
}

// ========== Logout ==========

// Logout invalidates the current session and blacklists its jti. Server-side
// markers are cleared best-effort; the caller is never blocked on failure.
func (s *AuthService) Logout(ctx context.Context, userID int64, jti string) error {
	if jti == "" {
		return nil
	}

	// The session record carries the refresh jti; revoke it first so the
	// pair dies together.
	if data, err := s.sessions.GetSession(ctx, userID, jti); err == nil && data.RefreshJTI != "" {
		if err := s.sessions.InvalidateRefreshToken(ctx, userID, data.RefreshJTI); err != nil {
			s.logger.Error("failed to invalidate refresh token", zap.Int64("user_id", userID), zap.Error(err))
		}
	}

	if err := s.sessions.InvalidateSession(ctx, userID, jti); err != nil {
		s.logger.Error("failed to invalidate session", zap.Int64("user_id", userID), zap.Error(err))
	}

	if err := s.sessions.BlacklistToken(ctx, jti, s.jwtManager.Generator.AccessTTL); err != nil {
		s.logger.Error("failed to blacklist token", zap.String("jti", jti), zap.Error(err))
	}

	s.notifier.ForceLogout(userID, jti, "User logged out")
	return nil
}

// LogoutAllSessions invalidates every session for a user.
func (s *AuthService) LogoutAllSessions(ctx context.Context, userID int64) error {
	if err := s.sessions.InvalidateAllUserSessions(ctx, userID); err != nil {
		return fmt.Errorf("failed to invalidate sessions: %w", err)
	}

	s.notifier.ForceLogout(userID, "", "All sessions logged out")
	return nil
}

// ========== Token Validation (Request Gate backend) ==========

// ValidateToken validates a bearer credential for request admission. Every
// failure is classified; the middleware maps the classification to a denial.
func (s *AuthService) ValidateToken(ctx context.Context, token string) (*jwt.Claims, error) {
	claims, err := s.jwtManager.Verifier.VerifyAccessToken(token)
	if err != nil {
		return nil, err
	}

	blacklisted, err := s.sessions.IsTokenBlacklisted(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check blacklist: %w", err)
	}
	if blacklisted {
		return nil, authcode.New(authcode.CodeGenericAuthError, fmt.Errorf("token has been revoked"))
	}

	if _, err := s.sessions.GetSession(ctx, claims.UserID, claims.ID); err != nil {
		return nil, authcode.New(authcode.CodeGenericAuthError, fmt.Errorf("session not found or expired: %w", err))
	}

	if err := s.sessions.TouchSession(ctx, claims.UserID, claims.ID); err != nil {
		s.logger.Warn("failed to touch session", zap.String("jti", claims.ID), zap.Error(err))
	}

	// Account state is re-checked on every request so deactivation takes
	// effect even while the token is still cryptographically valid.
	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, authcode.New(authcode.CodeAccountDisabled, nil)
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if !user.IsActive {
		return nil, authcode.New(authcode.CodeAccountDisabled, nil)
	}

	locked, remaining, err := s.rateLimiter.IsAccountTemporarilyLocked(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check lockout: %w", err)
	}
	if locked {
		return nil, authcode.Locked(remainingHours(remaining))
	}

	if err := s.denyIfMaintenance(ctx, user.Role); err != nil {
		return nil, err
	}

	return claims, nil
}

// ========== Password Reset ==========

// ForgotPassword initiates the reset flow. Unknown emails are silently
// accepted to avoid account enumeration.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = NormalizeEmail(email)

	allowed, err := s.rateLimiter.CheckPasswordResetAttempt(ctx, email)
	if err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}
	if !allowed {
		return fmt.Errorf("too many password reset attempts, please try again later")
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		// Don't reveal if email exists
		return nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}
	resetToken := base64.URLEncoding.EncodeToString(tokenBytes)

	if err := s.resetRepo.Create(ctx, &auth.ResetToken{
		UserID:    user.ID,
		Token:     resetToken,
		ExpiresAt: time.Now().Add(1 * time.Hour),
	}); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	s.emailHelper.SendPasswordResetEmail(ctx, user.Email, user.FullName, resetToken)
	return nil
}

// ResetPassword completes the reset flow using a token from the reset mail.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}

	resetToken, err := s.resetRepo.Find(ctx, token)
	if err != nil {
		return fmt.Errorf("invalid or expired token")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.userRepo.UpdatePassword(ctx, resetToken.UserID, string(hashedPassword)); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	if err := s.resetRepo.MarkUsed(ctx, resetToken.ID); err != nil {
		s.logger.Error("failed to mark token as used", zap.Error(err))
	}

	// Every outstanding session dies with the old password.
	if err := s.LogoutAllSessions(ctx, resetToken.UserID); err != nil {
		return fmt.Errorf("failed to invalidate sessions: %w", err)
	}

	return nil
}

// ========== Profile / Admin ==========

// GetProfile retrieves the current user snapshot.
func (s *AuthService) GetProfile(ctx context.Context, userID int64) (*auth.UserInfo, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	info := user.Info()
	return &info, nil
}

// DeactivateUser disables an account and revokes all of its sessions.
func (s *AuthService) DeactivateUser(ctx context.Context, userID int64) error {
	if err := s.userRepo.SetActive(ctx, userID, false); err != nil {
		return fmt.Errorf("failed to deactivate user: %w", err)
	}

	if err := s.LogoutAllSessions(ctx, userID); err != nil {
		return fmt.Errorf("failed to invalidate sessions: %w", err)
	}

	s.notifier.ForceLogout(userID, "", "Account deactivated")
	return nil
}

// UnlockAccount clears a temporary lockout ahead of its expiry.
func (s *AuthService) UnlockAccount(ctx context.Context, userID int64) error {
	if err := s.rateLimiter.UnlockAccount(ctx, userID); err != nil {
		return fmt.Errorf("failed to unlock account: %w", err)
	}
	if err := s.rateLimiter.ResetLoginAttempts(ctx, userID); err != nil {
		s.logger.Error("failed to reset login attempts", zap.Int64("user_id", userID), zap.Error(err))
	}
	return nil
}

// ListUserSessions returns a user's live sessions.
func (s *AuthService) ListUserSessions(ctx context.Context, userID int64) ([]*session.Data, error) {
	sessions, err := s.sessions.GetUserActiveSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// SetMaintenance flips the maintenance flag. While set, non-admin logins and
// request admissions are denied; the logout route stays open.
func (s *AuthService) SetMaintenance(ctx context.Context, on bool) error {
	if err := s.sessions.SetMaintenanceMode(ctx, on); err != nil {
		return fmt.Errorf("failed to set maintenance mode: %w", err)
	}
	s.logger.Info("maintenance mode changed", zap.Bool("enabled", on))
	return nil
}

// ========== Helpers ==========

func (s *AuthService) denyIfMaintenance(ctx context.Context, role string) error {
	if role == auth.RoleAdmin {
		return nil
	}
	maintenance, err := s.sessions.IsMaintenanceMode(ctx)
	if err != nil {
		return fmt.Errorf("failed to check maintenance flag: %w", err)
	}
	if maintenance {
		return authcode.New(authcode.CodeMaintenanceMode, nil)
	}
	return nil
}

func remainingHours(d time.Duration) int {
	return int(math.Ceil(d.Hours()))
}
