package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
)

func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		h.writeJSON(w, h.service.List())
	default:
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleSessionDetail routes /api/sessions/{id} and the per-session actions
// /api/sessions/{id}/analyze, /rename and /download.
func (h *Handler) HandleSessionDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	sessionID, action, _ := strings.Cut(rest, "/")
	if sessionID == "" {
		h.writeError(w, "Missing session id", http.StatusBadRequest)
		return
	}

	switch action {
	case "":
		h.handleSession(w, r, sessionID)
	case "analyze":
		h.handleAnalyze(w, r, sessionID)
	case "rename":
		h.handleRename(w, r, sessionID)
	case "download":
		h.handleDownload(w, r, sessionID)
	default:
		h.writeError(w, "Unknown action: "+action, http.StatusNotFound)
	}
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	switch r.Method {
	case "GET":
		session, err := h.service.Get(sessionID)
		if err != nil {
			h.writeAppError(w, err)
			return
		}
		h.writeJSON(w, session)
	case "DELETE":
		// Always succeeds, even if the session is already gone.
		h.service.Delete(sessionID)
		h.writeJSON(w, map[string]string{"message": "Session deleted"})
	default:
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != "POST" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	session, err := h.service.Analyze(r.Context(), sessionID)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, session)
}

func (h *Handler) handleRename(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != "POST" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request struct {
		Images []struct {
			ID      string `json:"id"`
			NewName string `json:"new_name"`
		} `json:"images"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	desired := make(map[string]string, len(request.Images))
	for _, img := range request.Images {
		desired[img.ID] = img.NewName
	}

	session, err := h.service.Rename(r.Context(), sessionID, desired)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, session)
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != "GET" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="renamed_images.zip"`)
	if err := h.service.Download(sessionID, w); err != nil {
		// State and existence checks fail before the first byte is
		// written, so the error status still reaches the client. A
		// mid-stream storage failure just truncates the archive.
		h.writeAppError(w, err)
	}
}
