// Package renaming composes the session registry, image store, analyzer,
// rename engine and packager behind the boundary operations
// (upload/analyze/rename/download/delete) and enforces the session state
// machine. Operations on one session are serialized; different sessions never
// block each other.
package renaming

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/picsort/renamer/internal/analyzer"
	"github.com/picsort/renamer/internal/apperr"
	"github.com/picsort/renamer/internal/archiver"
	"github.com/picsort/renamer/internal/imagestore"
	"github.com/picsort/renamer/internal/models"
	"github.com/picsort/renamer/internal/renamer"
	"github.com/picsort/renamer/internal/storage"
)

// UploadFile is one submitted file, transport framing already stripped.
type UploadFile struct {
	Name string
	Data []byte
}

type Service struct {
	sessions *storage.SessionStore
	files    *imagestore.Store
	analyzer *analyzer.Analyzer
	engine   *renamer.Engine
	packager *archiver.Packager

	mu       sync.Mutex
	opLocks  map[string]*sync.Mutex
	inflight map[string]context.CancelFunc
}

func NewService(sessions *storage.SessionStore, files *imagestore.Store, an *analyzer.Analyzer, engine *renamer.Engine, packager *archiver.Packager) *Service {
	return &Service{
		sessions: sessions,
		files:    files,
		analyzer: an,
		engine:   engine,
		packager: packager,
		opLocks:  make(map[string]*sync.Mutex),
		inflight: make(map[string]context.CancelFunc),
	}
}

// Upload validates each submitted file as an image, stores the accepted ones
// and creates a session in state uploaded. Non-image entries are dropped
// silently; an upload with no acceptable files is rejected.
func (s *Service) Upload(files []UploadFile) (*models.RenameSession, error) {
	type accepted struct {
		file        UploadFile
		contentType string
		width       int
		height      int
	}

	var ok []accepted
	for _, f := range files {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(f.Data))
		if err != nil {
			slog.Warn("Skipping non-image file", "filename", f.Name, "err", err)
			continue
		}
		ok = append(ok, accepted{
			file:        f,
			contentType: http.DetectContentType(f.Data),
			width:       cfg.Width,
			height:      cfg.Height,
		})
	}
	if len(ok) == 0 {
		return nil, apperr.Validation("no valid image files in upload")
	}

	session := s.sessions.Create()
	for _, a := range ok {
		id := uuid.NewString()
		ext := storedExtension(a.file.Name, a.contentType)

		ref, err := s.files.Put(session.ID, id+ext, a.file.Data)
		if err != nil {
			// Structural storage failure: no partial sessions, tear down.
			s.sessions.Delete(session.ID)
			return nil, apperr.Storage("failed to store uploaded image", err)
		}

		session.Images = append(session.Images, &models.ImageRecord{
			ID:           id,
			OriginalName: a.file.Name,
			ContentType:  a.contentType,
			Size:         int64(len(a.file.Data)),
			ImageWidth:   a.width,
			ImageHeight:  a.height,
			Status:       models.ImagePending,
			StorageRef:   ref,
		})
	}

	slog.Info("Upload completed", "session_id", session.ID, "images", len(session.Images))
	return session, nil
}

// Analyze runs the describe-capability over every image in the session and
// transitions uploaded -> analyzing -> analyzed. Per-image failures are
// recorded on the image; the session still reaches analyzed.
func (s *Service) Analyze(ctx context.Context, id string) (*models.RenameSession, error) {
	session, err := s.sessions.Get(id)
	if err != nil {
		return nil, err
	}

	lock := s.opLock(id)
	lock.Lock()
	defer lock.Unlock()

	if session.Status != models.SessionUploaded {
		return nil, apperr.InvalidState("analyze requires state uploaded, session is " + string(session.Status))
	}
	session.Status = models.SessionAnalyzing

	runCtx, cancel := context.WithCancel(ctx)
	s.registerInflight(id, cancel)
	s.analyzer.AnalyzeBatch(runCtx, session)
	s.clearInflight(id)
	cancel()

	if runCtx.Err() != nil {
		// Deleted (or abandoned) mid-analysis: per-image results were
		// discarded, the aggregate is no longer usable.
		session.Status = models.SessionError
		return nil, apperr.NotFound("session no longer available: " + id)
	}

	session.Status = models.SessionAnalyzed
	s.sessions.Touch(id)
	return session, nil
}

// Rename applies the caller's name overrides (falling back to suggestions,
// then original names) and transitions analyzed -> renaming -> completed.
func (s *Service) Rename(ctx context.Context, id string, desired map[string]string) (*models.RenameSession, error) {
	session, err := s.sessions.Get(id)
	if err != nil {
		return nil, err
	}

	lock := s.opLock(id)
	lock.Lock()
	defer lock.Unlock()

	if session.Status != models.SessionAnalyzed {
		return nil, apperr.InvalidState("rename requires state analyzed, session is " + string(session.Status))
	}
	session.Status = models.SessionRenaming

	runCtx, cancel := context.WithCancel(ctx)
	s.registerInflight(id, cancel)
	s.engine.RenameBatch(runCtx, session, desired)
	s.clearInflight(id)
	cancel()

	if runCtx.Err() != nil {
		session.Status = models.SessionError
		return nil, apperr.NotFound("session no longer available: " + id)
	}

	session.Status = models.SessionCompleted
	s.sessions.Touch(id)
	return session, nil
}

// Download streams the session's archive to w. Valid once analysis has
// finished; repeat downloads are fine, the operation is read-only.
func (s *Service) Download(id string, w io.Writer) error {
	session, err := s.sessions.Get(id)
	if err != nil {
		return err
	}

	lock := s.opLock(id)
	lock.Lock()
	defer lock.Unlock()

	if session.Status != models.SessionAnalyzed && session.Status != models.SessionCompleted {
		return apperr.InvalidState("download requires state analyzed or completed, session is " + string(session.Status))
	}
	if err := s.packager.WriteArchive(w, session); err != nil {
		return err
	}
	s.sessions.Touch(id)
	return nil
}

// Get returns the current session state, refreshing its idle timer.
func (s *Service) Get(id string) (*models.RenameSession, error) {
	session, err := s.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	s.sessions.Touch(id)
	return session, nil
}

// List returns all live sessions.
func (s *Service) List() []*models.RenameSession {
	return s.sessions.GetAll()
}

// Delete tears the session down: in-flight analysis for it is canceled (its
// results are discarded) and stored files are removed. Idempotent.
func (s *Service) Delete(id string) {
	s.cancelInflight(id)
	s.sessions.Delete(id)

	s.mu.Lock()
	delete(s.opLocks, id)
	s.mu.Unlock()
}

// SweepExpired deletes every session idle past the TTL.
func (s *Service) SweepExpired(now time.Time) int {
	ids := s.sessions.SweepExpired(now)
	for _, id := range ids {
		s.cancelInflight(id)
		s.mu.Lock()
		delete(s.opLocks, id)
		s.mu.Unlock()
	}
	return len(ids)
}

// StartSweeper runs the expiry sweep every interval until ctx is done.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := s.SweepExpired(now); n > 0 {
					slog.Info("Expired sessions swept", "count", n)
				}
			}
		}
	}()
}

func (s *Service) opLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.opLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.opLocks[id] = lock
	}
	return lock
}

func (s *Service) registerInflight(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[id] = cancel
}

func (s *Service) clearInflight(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

func (s *Service) cancelInflight(id string) {
	s.mu.Lock()
	cancel, ok := s.inflight[id]
	delete(s.inflight, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// storedExtension derives the on-disk extension for an uploaded file from its
// claimed name, falling back to the sniffed content type. The original name
// is untrusted; only a normalized extension of it ever reaches the filesystem.
func storedExtension(name, contentType string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp":
		return ext
	}
	switch contentType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
