// Package auth provides cookie session authentication for Vidsnag.
package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prn-tf/vidsnag/internal/domain"
)

// Authentication errors.
var (
	// ErrUnauthorized indicates a missing, unknown, expired or stale session.
	ErrUnauthorized = domain.ErrUnauthenticated

	// ErrBanned indicates the session belongs to a banned user.
	ErrBanned = domain.ErrUserBanned

	// ErrForbidden indicates the user lacks the admin role.
	ErrForbidden = errors.New("admin only")
)

// Response messages.
const (
	MessageUnauthorized = "Unauthorized"
	MessageBanned       = "Banned"
	MessageForbidden    = "Admin only"
	MessageInternal     = "Internal server error"
)

// AuthError is an authentication failure ready to be written as a response.
type AuthError struct {
	// Message is the client-facing message.
	Message string

	// HTTPStatus is the HTTP status code.
	HTTPStatus int

	// Err is the underlying error.
	Err error
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError maps an error from session validation to a response.
func NewAuthError(err error) *AuthError {
	switch {
	case errors.Is(err, ErrBanned):
		return &AuthError{Message: MessageBanned, HTTPStatus: http.StatusUnauthorized, Err: err}

	case errors.Is(err, ErrForbidden):
		return &AuthError{Message: MessageForbidden, HTTPStatus: http.StatusForbidden, Err: err}

	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrSessionExpired),
		errors.Is(err, domain.ErrUserNotFound):
		return &AuthError{Message: MessageUnauthorized, HTTPStatus: http.StatusUnauthorized, Err: err}

	default:
		return &AuthError{Message: MessageInternal, HTTPStatus: http.StatusInternalServerError, Err: err}
	}
}

// writeAuthError writes a JSON error body {"message": ...}.
func writeAuthError(w http.ResponseWriter, err error) {
	authErr := NewAuthError(err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(authErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": authErr.Message})
}
