// internal/pkg/authcode/authcode.go
package authcode

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies why an authentication attempt or a token validation failed.
type Code string

const (
	CodeInvalidCredentials    Code = "invalid_credentials"
	CodeAccountDisabled       Code = "account_disabled"
	CodeMaintenanceMode       Code = "maintenance_mode"
	CodeTemporarilyLocked     Code = "temporarily_locked"
	CodePasswordResetRequired Code = "password_reset_required"
	CodeMissingToken          Code = "missing_token"
	CodeTokenExpired          Code = "token_expired"
	CodeTokenMalformed        Code = "token_malformed"
	CodeTokenTypeInvalid      Code = "token_type_invalid"
	CodeGenericAuthError      Code = "auth_error"
	CodeNetworkUnreachable    Code = "network_unreachable"
	CodeUnknown               Code = "unknown"
)

// Error is a classified authentication error. Handlers and the request gate
// switch on Code instead of matching message text; variant data such as the
// remaining lockout time travels in typed fields.
type Error struct {
	Code Code

	// RemainingHours is set for CodeTemporarilyLocked: whole hours (rounded
	// up, minimum 1) until the lockout expires.
	RemainingHours int

	cause error
}

func (e *Error) Error() string {
	if e.Code == CodeTemporarilyLocked {
		return fmt.Sprintf("account temporarily locked, try again in %d hour(s)", e.RemainingHours)
	}
	if e.cause != nil {
		return string(e.Code) + ": " + e.cause.Error()
	}
	return Message(e.Code)
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is match two classified errors by code alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New creates a classified error, optionally wrapping a cause.
func New(code Code, cause error) *Error {
	return &Error{Code: code, cause: cause}
}

// Locked creates a temporarily-locked error carrying the remaining hours.
func Locked(remainingHours int) *Error {
	if remainingHours < 1 {
		remainingHours = 1
	}
	return &Error{Code: CodeTemporarilyLocked, RemainingHours: remainingHours}
}

// CodeOf extracts the classification of err, or CodeUnknown for anything
// that is not a classified error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// Message returns the user-facing message for a code. Unclassified codes
// collapse to a generic message so internals never leak to the caller.
func Message(code Code) string {
	switch code {
	case CodeInvalidCredentials:
		return "invalid email or password"
	case CodeAccountDisabled:
		return "account is disabled"
	case CodeMaintenanceMode:
		return "service is under maintenance, please try again later"
	case CodeTemporarilyLocked:
		return "account is temporarily locked"
	case CodePasswordResetRequired:
		return "password reset required before signing in"
	case CodeMissingToken:
		return "missing authorization token"
	case CodeTokenExpired:
		return "token has expired"
	case CodeTokenMalformed:
		return "token is malformed"
	case CodeTokenTypeInvalid:
		return "token cannot be used for this purpose"
	case CodeNetworkUnreachable:
		return "server unreachable"
	default:
		return "authentication failed"
	}
}

// HTTPStatus maps a code to the response status the handlers use.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidCredentials, CodeMissingToken, CodeTokenExpired,
		CodeTokenMalformed, CodeTokenTypeInvalid, CodeGenericAuthError:
		return http.StatusUnauthorized
	case CodeAccountDisabled, CodePasswordResetRequired:
		return http.StatusForbidden
	case CodeTemporarilyLocked:
		return http.StatusLocked
	case CodeMaintenanceMode:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}
