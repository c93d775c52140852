package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/prn-tf/vidsnag/internal/service"
)

// Client-facing messages.
const (
	msgInvalidCredentials = "Invalid credentials"
	msgAccountBanned      = "Account banned"
	msgDailyLimit         = "Daily limit reached."
	msgProcessFailed      = "Failed to process video."
	msgRecordFailed       = "Failed to record download."
	msgInProgress         = "Another analysis is already running."
	msgRateLimited        = "Too many requests"
	msgUserNotFound       = "User not found"
	msgUserExists         = "Username already exists"
	msgInternal           = "Internal server error"
	msgInvalidBody        = "Invalid request body"
)

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// APIError is an error with its HTTP rendering.
type APIError struct {
	Status  int
	Message string
	Field   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func badRequest(message, field string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Message: message, Field: field}
}

// writeJSON writes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		_, _ = w.Write([]byte("null\n"))
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err. Service errors are mapped to their status and message;
// unexpected errors are logged and answered with 500.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	apiErr := mapError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", apiErr.Status).Msg("request failed")
	}
	writeJSON(w, apiErr.Status, ErrorResponse{Message: apiErr.Message, Field: apiErr.Field})
}

// mapError translates an error into an APIError.
func mapError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return &APIError{Status: http.StatusUnauthorized, Message: msgInvalidCredentials}
	case errors.Is(err, service.ErrUserBanned):
		return &APIError{Status: http.StatusUnauthorized, Message: msgAccountBanned}
	case errors.Is(err, service.ErrUnauthenticated):
		return &APIError{Status: http.StatusUnauthorized, Message: "Unauthorized"}

	case errors.Is(err, service.ErrQuotaExceeded):
		return &APIError{Status: http.StatusForbidden, Message: msgDailyLimit}
	case errors.Is(err, service.ErrAnalysisInProgress):
		return &APIError{Status: http.StatusTooManyRequests, Message: msgInProgress}
	case errors.Is(err, service.ErrExtractionFailed):
		return &APIError{Status: http.StatusBadRequest, Message: msgProcessFailed}
	case errors.Is(err, service.ErrRecordFailed):
		return &APIError{Status: http.StatusInternalServerError, Message: msgRecordFailed}

	case errors.Is(err, service.ErrInvalidURL):
		return badRequest("A valid http or https URL is required", "url")
	case errors.Is(err, service.ErrInvalidUsername):
		return badRequest("Username is required", "username")
	case errors.Is(err, service.ErrInvalidPassword):
		return badRequest("Password is required", "password")
	case errors.Is(err, service.ErrInvalidRole):
		return badRequest("Role must be admin or user", "role")
	case errors.Is(err, service.ErrInvalidDailyLimit):
		return badRequest("Daily limit must be zero or greater", "dailyLimit")
	case errors.Is(err, service.ErrInvalidInput):
		return badRequest("Username and password are required", "")

	case errors.Is(err, service.ErrUserNotFound):
		return &APIError{Status: http.StatusNotFound, Message: msgUserNotFound}
	case errors.Is(err, service.ErrUserAlreadyExists):
		return &APIError{Status: http.StatusConflict, Message: msgUserExists, Field: "username"}

	default:
		return &APIError{Status: http.StatusInternalServerError, Message: msgInternal}
	}
}

// decodeJSON reads a JSON body of at most maxBytes into v.
// An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) error {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &APIError{Status: http.StatusRequestEntityTooLarge, Message: "Request body too large"}
		}
		return badRequest(msgInvalidBody, "")
	}
	return nil
}
