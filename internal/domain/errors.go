// Package domain contains the core business entities for Vidsnag.
package domain

import (
	"errors"
	"fmt"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (database, network, etc.).

var (
	// ===========================================
	// User Errors
	// ===========================================

	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates a user with the same username exists.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrUserBanned indicates the user account is banned.
	ErrUserBanned = errors.New("user account is banned")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ===========================================
	// Session Errors
	// ===========================================

	// ErrSessionNotFound indicates the session token is unknown.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired indicates the session lifetime has passed.
	ErrSessionExpired = errors.New("session has expired")

	// ErrUnauthenticated indicates the request carries no usable session.
	ErrUnauthenticated = errors.New("not authenticated")

	// ===========================================
	// Quota Errors
	// ===========================================

	// ErrQuotaExceeded indicates the user has no analyze calls left.
	ErrQuotaExceeded = errors.New("daily limit reached")
)

// DomainError wraps a domain error with additional context.
type DomainError struct {
	// Err is the underlying domain error.
	Err error

	// Message provides additional context.
	Message string

	// Resource identifies the affected resource (e.g., username, user id).
	Resource string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Message, e.Resource)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError with context.
func NewDomainError(err error, message, resource string) *DomainError {
	return &DomainError{
		Err:      err,
		Message:  message,
		Resource: resource,
	}
}
