package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/vidsnag/internal/service"
)

// banUntilDateLayout is the date-only form accepted for banUntil.
const banUntilDateLayout = "2006-01-02"

// AdminHandler serves user management.
type AdminHandler struct {
	users       *service.UserService
	maxBodySize int64
	logger      zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(users *service.UserService, maxBodySize int64, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		users:       users,
		maxBodySize: maxBodySize,
		logger:      logger.With().Str("handler", "admin").Logger(),
	}
}

// ListUsers handles GET /api/admin/users.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

type createUserRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	Role       string `json:"role"`
	DailyLimit *int   `json:"dailyLimit"`
}

// CreateUser handles POST /api/admin/users.
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, h.maxBodySize, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.users.Create(r.Context(), service.CreateUserInput{
		Username:   req.Username,
		Password:   req.Password,
		Role:       req.Role,
		DailyLimit: req.DailyLimit,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// UpdateUser handles PATCH /api/admin/users/{id}.
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var raw map[string]json.RawMessage
	if err := decodeJSON(w, r, h.maxBodySize, &raw); err != nil {
		writeError(w, h.logger, err)
		return
	}

	input, err := parseUpdateUser(raw)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.users.Update(r.Context(), id, input)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// DeleteUser handles DELETE /api/admin/users/{id}.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.users.Delete(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func userIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("Invalid user id", "id")
	}
	return id, nil
}

// parseUpdateUser reads the patchable fields. Absent keys are left alone;
// banUntil set to null or "" clears the date.
func parseUpdateUser(raw map[string]json.RawMessage) (service.UpdateUserInput, error) {
	var input service.UpdateUserInput

	if v, ok := raw["isBanned"]; ok {
		var banned bool
		if err := json.Unmarshal(v, &banned); err != nil {
			return input, badRequest("isBanned must be a boolean", "isBanned")
		}
		input.IsBanned = &banned
	}

	if v, ok := raw["dailyLimit"]; ok {
		var limit int
		if err := json.Unmarshal(v, &limit); err != nil {
			return input, badRequest("dailyLimit must be an integer", "dailyLimit")
		}
		input.DailyLimit = &limit
	}

	if v, ok := raw["banUntil"]; ok {
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			input.ClearBanUntil = true
			return input, nil
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return input, badRequest("banUntil must be a date string or null", "banUntil")
		}
		if s == "" {
			input.ClearBanUntil = true
			return input, nil
		}
		t, err := parseBanUntil(s)
		if err != nil {
			return input, badRequest("banUntil must be RFC 3339 or YYYY-MM-DD", "banUntil")
		}
		input.BanUntil = &t
	}

	return input, nil
}

func parseBanUntil(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(banUntilDateLayout, s)
}
