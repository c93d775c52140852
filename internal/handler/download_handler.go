package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/prn-tf/vidsnag/internal/auth"
	"github.com/prn-tf/vidsnag/internal/service"
)

// DownloadHandler serves analyze and history.
type DownloadHandler struct {
	downloads   *service.DownloadService
	maxBodySize int64
	logger      zerolog.Logger
}

// NewDownloadHandler creates a new DownloadHandler.
func NewDownloadHandler(downloads *service.DownloadService, maxBodySize int64, logger zerolog.Logger) *DownloadHandler {
	return &DownloadHandler{
		downloads:   downloads,
		maxBodySize: maxBodySize,
		logger:      logger.With().Str("handler", "download").Logger(),
	}
}

type analyzeRequest struct {
	URL string `json:"url"`
}

// Analyze handles POST /api/analyze.
func (h *DownloadHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeJSON(w, r, h.maxBodySize, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	out, err := h.downloads.Analyze(r.Context(), service.AnalyzeInput{
		User: auth.UserFromContext(r.Context()),
		URL:  req.URL,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, out)
}

// History handles GET /api/history.
func (h *DownloadHandler) History(w http.ResponseWriter, r *http.Request) {
	downloads, err := h.downloads.History(r.Context(), auth.UserFromContext(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, downloads)
}
