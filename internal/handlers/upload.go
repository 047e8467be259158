package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/picsort/renamer/internal/renaming"
)

func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.writeError(w, "Failed to parse multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		h.writeError(w, "No files in upload", http.StatusBadRequest)
		return
	}

	var files []renaming.UploadFile
	for _, header := range headers {
		part, err := header.Open()
		if err != nil {
			slog.Warn("Failed to open uploaded file", "filename", header.Filename, "err", err)
			continue
		}
		data, err := io.ReadAll(io.LimitReader(part, h.maxFileBytes+1))
		part.Close()
		if err != nil {
			slog.Warn("Failed to read uploaded file", "filename", header.Filename, "err", err)
			continue
		}
		if int64(len(data)) > h.maxFileBytes {
			slog.Warn("Skipping oversized file", "filename", header.Filename, "limit", h.maxFileBytes)
			continue
		}
		files = append(files, renaming.UploadFile{Name: header.Filename, Data: data})
	}

	session, err := h.service.Upload(files)
	if err != nil {
		h.writeAppError(w, err)
		return
	}

	h.writeJSON(w, map[string]any{
		"session_id":  session.ID,
		"images":      session.Images,
		"total_count": len(session.Images),
	})
}
