// Package analyzer dispatches per-image describe calls to the configured
// vision provider with bounded concurrency. A failed image never aborts the
// rest of the batch; partial success is a normal outcome.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/picsort/renamer/internal/imagestore"
	"github.com/picsort/renamer/internal/models"
	"github.com/picsort/renamer/internal/providers"
	"github.com/picsort/renamer/internal/renamer"
)

// namingPrompt asks the model for a bare keyword filename, no extension.
const namingPrompt = `Analyze this image in detail.
Generate a descriptive image filename using only these rules:
* Relevant keywords describing the image, separated by underscores.
* Lowercase letters only.
* No special characters.
* Keep it short and accurate (max 5-6 words).
Respond ONLY with the image filename (no extension).
Example: child_running_in_the_rain`

type Analyzer struct {
	provider    providers.Provider
	files       *imagestore.Store
	model       string
	temperature float64
	workers     int
	timeout     time.Duration
	maxNameLen  int
}

func New(provider providers.Provider, files *imagestore.Store, model string, workers int, timeout time.Duration, maxNameLen int) *Analyzer {
	if workers < 1 {
		workers = 1
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Analyzer{
		provider:    provider,
		files:       files,
		model:       model,
		temperature: 0.1,
		workers:     workers,
		timeout:     timeout,
		maxNameLen:  maxNameLen,
	}
}

// AnalyzeBatch runs one describe call per image, at most workers in flight at
// once. It returns once every image has reached completed or error. If ctx is
// canceled (session deleted mid-analysis) outstanding work is abandoned and
// results are discarded rather than written back.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, session *models.RenameSession) {
	slog.Info("Starting analysis", "session_id", session.ID, "images", len(session.Images), "workers", a.workers)

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, a.workers)

	for i, record := range session.Images {
		wg.Add(1)
		go func(idx int, record *models.ImageRecord) {
			defer wg.Done()
			semaphore <- struct{}{}        // Acquire
			defer func() { <-semaphore }() // Release

			if ctx.Err() != nil {
				return
			}
			slog.Info("Analyzing image", "session_id", session.ID, "image_id", record.ID,
				"progress", fmt.Sprintf("%d/%d", idx+1, len(session.Images)))
			a.analyzeOne(ctx, record)
		}(i, record)
	}
	wg.Wait()
}

// analyzeOne mutates only its own record; workers never share records, so no
// locking is needed on the fields.
func (a *Analyzer) analyzeOne(ctx context.Context, record *models.ImageRecord) {
	record.Status = models.ImageAnalyzing

	data, err := a.files.Get(record.StorageRef)
	if err != nil {
		a.fail(record, fmt.Errorf("failed to load image: %w", err))
		return
	}

	// The provider call enforces its own network timeout, but bound it here
	// too so a hung worker can never stall the batch join.
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	description, err := a.provider.DescribeImage(callCtx, providers.Config{
		Model:       a.model,
		Temperature: a.temperature,
		Prompt:      namingPrompt,
	}, data, record.ContentType)

	if ctx.Err() != nil {
		// Session was deleted while the call was in flight; discard.
		return
	}
	if err != nil {
		a.fail(record, err)
		return
	}

	suggested := renamer.Sanitize(description, a.maxNameLen)
	if suggested == "" {
		a.fail(record, fmt.Errorf("provider returned no usable name: %q", description))
		return
	}

	record.SuggestedName = suggested
	record.Error = ""
	record.Status = models.ImageCompleted
	slog.Info("Analysis complete", "image_id", record.ID, "suggested_name", suggested)
}

func (a *Analyzer) fail(record *models.ImageRecord, err error) {
	slog.Error("Analysis failed", "image_id", record.ID, "err", err)
	record.SuggestedName = ""
	record.Error = err.Error()
	record.Status = models.ImageError
}
