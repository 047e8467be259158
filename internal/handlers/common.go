// Package handlers is the thin HTTP wrapper over the session core: multipart
// parsing, JSON framing and status-code mapping, nothing else.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/picsort/renamer/internal/apperr"
	"github.com/picsort/renamer/internal/renaming"
)

type Handler struct {
	service      *renaming.Service
	maxFileBytes int64
}

func New(service *renaming.Service, maxFileBytes int64) *Handler {
	return &Handler{
		service:      service,
		maxFileBytes: maxFileBytes,
	}
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	slog.Error(message)
	http.Error(w, message, code)
}

// writeAppError maps a core error onto its HTTP status.
func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	appErr := apperr.From(err)
	slog.Error("Request failed", "kind", appErr.Kind, "err", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus())
	if encErr := json.NewEncoder(w).Encode(map[string]string{
		"error": appErr.Message,
		"kind":  string(appErr.Kind),
	}); encErr != nil {
		slog.Error("Unable to encode error response", "err", encErr)
	}
}
