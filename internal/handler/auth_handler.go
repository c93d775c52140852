package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/prn-tf/vidsnag/internal/auth"
	"github.com/prn-tf/vidsnag/internal/service"
)

// AuthHandler serves login, logout and the current user.
type AuthHandler struct {
	sessions    *service.SessionService
	auth        auth.Config
	maxBodySize int64
	logger      zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(sessions *service.SessionService, authConfig auth.Config, maxBodySize int64, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		sessions:    sessions,
		auth:        authConfig,
		maxBodySize: maxBodySize,
		logger:      logger.With().Str("handler", "auth").Logger(),
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /api/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.maxBodySize, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	out, err := h.sessions.Login(r.Context(), service.LoginInput{
		Username:  req.Username,
		Password:  req.Password,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.auth.SetSessionCookie(w, out.Session.Token, out.Session.ExpiresAt)
	writeJSON(w, http.StatusOK, out.User)
}

// Logout handles POST /api/logout. It always succeeds.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := h.auth.Token(r); token != "" {
		if err := h.sessions.Logout(r.Context(), token); err != nil {
			h.logger.Warn().Err(err).Msg("logout failed")
		}
	}

	h.auth.ClearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Me handles GET /api/me. Anonymous callers get null.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := h.sessions.CurrentUser(r.Context(), h.auth.Token(r))
	if user == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
