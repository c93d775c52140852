// Package service provides business logic services for Vidsnag.
package service

import (
	"errors"

	"github.com/prn-tf/vidsnag/internal/domain"
)

// Common service errors.
var (
	// User errors
	ErrUserNotFound       = domain.ErrUserNotFound
	ErrUserAlreadyExists  = domain.ErrUserAlreadyExists
	ErrUserBanned         = domain.ErrUserBanned
	ErrInvalidCredentials = domain.ErrInvalidCredentials
	ErrInvalidUsername    = errors.New("invalid username: must be 1-255 characters")
	ErrInvalidPassword    = errors.New("invalid password: must not be empty")
	ErrInvalidRole        = errors.New("invalid role: must be admin or user")
	ErrInvalidDailyLimit  = errors.New("invalid daily limit: must be zero or greater")

	// Session errors
	ErrUnauthenticated = domain.ErrUnauthenticated

	// Analyze errors
	ErrInvalidURL         = errors.New("invalid url: must be an http or https URL")
	ErrQuotaExceeded      = domain.ErrQuotaExceeded
	ErrAnalysisInProgress = errors.New("another analysis is already running for this user")
	ErrExtractionFailed   = errors.New("failed to process video")
	ErrRecordFailed       = errors.New("failed to record download")

	// General errors
	ErrInvalidInput  = errors.New("invalid input")
	ErrInternalError = errors.New("internal server error")
)
