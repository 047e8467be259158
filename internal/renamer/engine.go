// Package renamer applies user-approved names to a session's images:
// sanitization, deterministic collision suffixing in upload order, and the
// actual store renames.
package renamer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/picsort/renamer/internal/imagestore"
	"github.com/picsort/renamer/internal/models"
)

type Engine struct {
	files      *imagestore.Store
	maxNameLen int
	workers    int
}

func NewEngine(files *imagestore.Store, maxNameLen, workers int) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		files:      files,
		maxNameLen: maxNameLen,
		workers:    workers,
	}
}

// RenameBatch resolves final names for every image and renames the stored
// files. Individual failures mark the image as errored and never abort the
// rest of the batch. desired maps image id to a caller-chosen base name;
// images absent from the map fall back to the AI suggestion, then to the
// original base name.
func (e *Engine) RenameBatch(ctx context.Context, session *models.RenameSession, desired map[string]string) {
	finals := e.resolveFinalNames(session.Images, desired)

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, e.workers)

	for i, record := range session.Images {
		wg.Add(1)
		go func(record *models.ImageRecord, finalName string) {
			defer wg.Done()
			semaphore <- struct{}{}        // Acquire
			defer func() { <-semaphore }() // Release

			if ctx.Err() != nil {
				return
			}
			e.renameOne(record, finalName)
		}(record, finals[i])
	}
	wg.Wait()
}

func (e *Engine) renameOne(record *models.ImageRecord, finalName string) {
	newRef, err := e.files.ReplaceName(record.StorageRef, finalName)
	if err != nil {
		slog.Error("Failed to rename image", "image_id", record.ID, "target", finalName, "err", err)
		record.Status = models.ImageError
		record.Error = "rename failed: " + err.Error()
		return
	}
	record.StorageRef = newRef
	record.FinalName = finalName
	slog.Info("Image renamed", "image_id", record.ID, "name", finalName)
}

// resolveFinalNames computes the full final filename (base plus normalized
// original extension) for every image, in upload order. When two images
// resolve to the same name, the first keeps it and later ones get the lowest
// unused " (n)" suffix, so results do not depend on worker scheduling.
func (e *Engine) resolveFinalNames(images []*models.ImageRecord, desired map[string]string) []string {
	used := make(map[string]bool, len(images))
	finals := make([]string, len(images))

	for i, record := range images {
		base := desired[record.ID]
		if base == "" {
			base = record.SuggestedName
		}
		if base == "" {
			base = strings.TrimSuffix(record.OriginalName, filepath.Ext(record.OriginalName))
		}
		base = Sanitize(base, e.maxNameLen)
		if base == "" {
			base = record.ID
		}

		ext := strings.ToLower(filepath.Ext(record.OriginalName))
		finals[i] = disambiguate(base, ext, used)
		used[finals[i]] = true
	}
	return finals
}

func disambiguate(base, ext string, used map[string]bool) string {
	candidate := base + ext
	for n := 1; used[candidate]; n++ {
		candidate = fmt.Sprintf("%s (%d)%s", base, n, ext)
	}
	return candidate
}
