// internal/service/auth/email.go
package auth

import (
	"context"
	"fmt"

	"carelink-service/internal/service/email"

	"go.uber.org/zap"
)

// EmailHelper builds and sends the auth-flow emails. Sending is best-effort:
// failures are logged, never surfaced to the flow that triggered them.
type EmailHelper struct {
	sender  *email.EmailSender
	logger  *zap.Logger
	baseURL string
}

func NewEmailHelper(sender *email.EmailSender, logger *zap.Logger, baseURL string) *EmailHelper {
	return &EmailHelper{
		sender:  sender,
		logger:  logger,
		baseURL: baseURL,
	}
}

// SendPasswordResetEmail sends the reset link mail.
func (h *EmailHelper) SendPasswordResetEmail(ctx context.Context, to, fullName, token string) {
	if h == nil || h.sender == nil {
		return
	}

	resetURL := fmt.Sprintf("%s/reset-password?token=%s", h.baseURL, token)
	body := fmt.Sprintf(`
		<h2>Password Reset Request</h2>
		<p>Hello %s,</p>
		<p>We received a request to reset the password for your CareLink account.</p>
		<p><a href="%s" class="button">Reset Password</a></p>
		<p>This link expires in 1 hour. If you didn't request a reset, you can ignore this email.</p>
	`, fullName, resetURL)

	if err := h.sender.Send(to, "Reset your CareLink password", body); err != nil {
		h.logger.Error("failed to send password reset email",
			zap.String("email", to),
			zap.Error(err),
		)
	}
}

// SendWelcomeEmail greets a newly registered user.
func (h *EmailHelper) SendWelcomeEmail(ctx context.Context, to, fullName string) {
	if h == nil || h.sender == nil {
		return
	}

	body := fmt.Sprintf(`
		<h2>Welcome to CareLink</h2>
		<p>Hello %s,</p>
		<p>Your account has been created. You can now book appointments and manage your visits online.</p>
	`, fullName)

	if err := h.sender.Send(to, "Welcome to CareLink", body); err != nil {
		h.logger.Error("failed to send welcome email",
			zap.String("email", to),
			zap.Error(err),
		)
	}
}
