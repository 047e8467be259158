package renaming

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/picsort/renamer/internal/analyzer"
	"github.com/picsort/renamer/internal/apperr"
	"github.com/picsort/renamer/internal/archiver"
	"github.com/picsort/renamer/internal/imagestore"
	"github.com/picsort/renamer/internal/models"
	"github.com/picsort/renamer/internal/providers"
	"github.com/picsort/renamer/internal/renamer"
	"github.com/picsort/renamer/internal/storage"
)

// pngBytes returns a valid PNG with the given width, so tests can tell
// uploaded images apart by decoding them.
func pngBytes(t *testing.T, width int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, 1))); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

// widthProvider answers describe calls based on the decoded image width.
type widthProvider struct {
	byWidth map[int]string
	errors  map[int]error
}

func (p *widthProvider) DescribeImage(ctx context.Context, config providers.Config, img []byte, contentType string) (string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return "", err
	}
	if err, ok := p.errors[cfg.Width]; ok {
		return "", err
	}
	if desc, ok := p.byWidth[cfg.Width]; ok {
		return desc, nil
	}
	return "", errors.New("unexpected image")
}

func newTestService(t *testing.T, provider providers.Provider) *Service {
	t.Helper()
	files, err := imagestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("imagestore.New: %v", err)
	}
	sessions := storage.New(files, time.Hour)
	return NewService(
		sessions,
		files,
		analyzer.New(provider, files, "test-model", 3, time.Second, 64),
		renamer.NewEngine(files, 64, 3),
		archiver.NewPackager(files),
	)
}

func TestUploadCreatesSession(t *testing.T) {
	service := newTestService(t, &widthProvider{})

	session, err := service.Upload([]UploadFile{
		{Name: "a.png", Data: pngBytes(t, 10)},
		{Name: "b.png", Data: pngBytes(t, 20)},
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if session.Status != models.SessionUploaded {
		t.Errorf("status = %q, want uploaded", session.Status)
	}
	if len(session.Images) != 2 {
		t.Fatalf("image count = %d, want 2", len(session.Images))
	}
	for i, record := range session.Images {
		if record.Status != models.ImagePending {
			t.Errorf("image %d status = %q, want pending", i, record.Status)
		}
		if record.Size == 0 {
			t.Errorf("image %d size not recorded", i)
		}
	}
	if session.Images[0].ImageWidth != 10 || session.Images[1].ImageWidth != 20 {
		t.Errorf("upload order not preserved: widths %d, %d",
			session.Images[0].ImageWidth, session.Images[1].ImageWidth)
	}
}

func TestUploadDropsNonImagesSilently(t *testing.T) {
	service := newTestService(t, &widthProvider{})

	session, err := service.Upload([]UploadFile{
		{Name: "real.png", Data: pngBytes(t, 10)},
		{Name: "notes.txt", Data: []byte("not an image")},
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(session.Images) != 1 {
		t.Errorf("image count = %d, want 1", len(session.Images))
	}
}

func TestUploadWithNoValidFiles(t *testing.T) {
	service := newTestService(t, &widthProvider{})

	_, err := service.Upload([]UploadFile{
		{Name: "notes.txt", Data: []byte("not an image")},
	})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestAnalyzeRequiresUploadedState(t *testing.T) {
	service := newTestService(t, &widthProvider{byWidth: map[int]string{10: "a cat"}})

	session, err := service.Upload([]UploadFile{{Name: "a.png", Data: pngBytes(t, 10)}})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := service.Analyze(context.Background(), session.ID); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	// Second analyze is out of order.
	_, err = service.Analyze(context.Background(), session.ID)
	if !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Errorf("expected invalid_state, got %v", err)
	}
}

func TestRenameBeforeAnalyzeFails(t *testing.T) {
	service := newTestService(t, &widthProvider{})

	session, err := service.Upload([]UploadFile{{Name: "a.png", Data: pngBytes(t, 10)}})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	_, err = service.Rename(context.Background(), session.ID, nil)
	if !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Errorf("expected invalid_state, got %v", err)
	}
	// Session and its images are untouched.
	got, err := service.Get(session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.SessionUploaded {
		t.Errorf("status = %q, want uploaded", got.Status)
	}
	for i, record := range got.Images {
		if record.Status != models.ImagePending || record.FinalName != "" {
			t.Errorf("image %d was mutated: %+v", i, record)
		}
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	service := newTestService(t, &widthProvider{})

	session, err := service.Upload([]UploadFile{{Name: "a.png", Data: pngBytes(t, 10)}})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	service.Delete(session.ID)
	service.Delete(session.ID) // no error the second time

	if _, err := service.Get(session.ID); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("expected not_found after delete, got %v", err)
	}
}

func TestDownloadBeforeAnalyzeFails(t *testing.T) {
	service := newTestService(t, &widthProvider{})

	session, err := service.Upload([]UploadFile{{Name: "a.png", Data: pngBytes(t, 10)}})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	var buf bytes.Buffer
	if err := service.Download(session.ID, &buf); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Errorf("expected invalid_state, got %v", err)
	}
}

// TestFullScenario runs the complete batch lifecycle: three uploads, analysis
// with one failure and two identical descriptions, rename with defaults, and
// a download whose entries carry the deterministic collision suffixes.
func TestFullScenario(t *testing.T) {
	provider := &widthProvider{
		byWidth: map[int]string{
			10: "a red car", // a.png
			30: "a red car", // c.png, same text as a.png
		},
		errors: map[int]error{
			20: errors.New("model overloaded"), // b.png
		},
	}
	service := newTestService(t, provider)

	session, err := service.Upload([]UploadFile{
		{Name: "a.png", Data: pngBytes(t, 10)},
		{Name: "b.png", Data: pngBytes(t, 20)},
		{Name: "c.png", Data: pngBytes(t, 30)},
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	session, err = service.Analyze(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if session.Status != models.SessionAnalyzed {
		t.Errorf("status after analyze = %q, want analyzed", session.Status)
	}
	if s := session.Images[0]; s.Status != models.ImageCompleted || s.SuggestedName != "a-red-car" {
		t.Errorf("a.png: status=%q suggestion=%q", s.Status, s.SuggestedName)
	}
	if s := session.Images[1]; s.Status != models.ImageError || s.Error == "" {
		t.Errorf("b.png: status=%q error=%q, want error with message", s.Status, s.Error)
	}
	if s := session.Images[2]; s.Status != models.ImageCompleted || s.SuggestedName != "a-red-car" {
		t.Errorf("c.png: status=%q suggestion=%q", s.Status, s.SuggestedName)
	}

	// Rename with defaults: suggestion where present, original base otherwise.
	session, err = service.Rename(context.Background(), session.ID, nil)
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if session.Status != models.SessionCompleted {
		t.Errorf("status after rename = %q, want completed", session.Status)
	}
	wantFinals := []string{"a-red-car.png", "b.png", "a-red-car (1).png"}
	for i, want := range wantFinals {
		if got := session.Images[i].FinalName; got != want {
			t.Errorf("image %d final name = %q, want %q", i, got, want)
		}
	}

	var buf bytes.Buffer
	if err := service.Download(session.ID, &buf); err != nil {
		t.Fatalf("Download: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("zip.NewReader: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	// All three images are included, errored ones under their own name.
	for _, want := range wantFinals {
		if !names[want] {
			t.Errorf("archive missing %q, has %v", want, names)
		}
	}
	if !names["manifest.yaml"] {
		t.Error("archive missing manifest.yaml")
	}
}

func TestDeleteCancelsInflightAnalysis(t *testing.T) {
	files, err := imagestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("imagestore.New: %v", err)
	}
	sessions := storage.New(files, time.Hour)

	started := make(chan struct{})
	release := make(chan struct{})
	provider := &blockingProvider{started: started, release: release}

	service := NewService(
		sessions,
		files,
		analyzer.New(provider, files, "test-model", 1, 5*time.Second, 64),
		renamer.NewEngine(files, 64, 1),
		archiver.NewPackager(files),
	)

	session, err := service.Upload([]UploadFile{{Name: "a.png", Data: pngBytes(t, 10)}})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	analyzeDone := make(chan error, 1)
	go func() {
		_, err := service.Analyze(context.Background(), session.ID)
		analyzeDone <- err
	}()

	<-started
	service.Delete(session.ID)
	close(release)

	select {
	case err := <-analyzeDone:
		if !apperr.IsKind(err, apperr.KindNotFound) {
			t.Errorf("expected not_found from aborted analyze, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("analyze did not return after session deletion")
	}

	if _, err := service.Get(session.ID); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("session should be gone, got %v", err)
	}
}

// blockingProvider parks the first describe call until released, so a test
// can delete the session mid-analysis.
type blockingProvider struct {
	started chan struct{}
	release chan struct{}
}

func (p *blockingProvider) DescribeImage(ctx context.Context, config providers.Config, img []byte, contentType string) (string, error) {
	select {
	case <-p.started:
	default:
		close(p.started)
	}
	select {
	case <-p.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "should be discarded", nil
}

func TestSweepExpiredRemovesIdleSessions(t *testing.T) {
	files, err := imagestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("imagestore.New: %v", err)
	}
	sessions := storage.New(files, 30*time.Minute)

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	sessions.SetClock(func() time.Time { return now })

	service := NewService(
		sessions,
		files,
		analyzer.New(&widthProvider{}, files, "test-model", 1, time.Second, 64),
		renamer.NewEngine(files, 64, 1),
		archiver.NewPackager(files),
	)

	session, err := service.Upload([]UploadFile{{Name: "a.png", Data: pngBytes(t, 10)}})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if n := service.SweepExpired(now.Add(10 * time.Minute)); n != 0 {
		t.Errorf("premature sweep removed %d sessions", n)
	}
	if n := service.SweepExpired(now.Add(45 * time.Minute)); n != 1 {
		t.Errorf("sweep removed %d sessions, want 1", n)
	}
	if _, err := service.Get(session.ID); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("expected not_found after sweep, got %v", err)
	}
}

func TestRenameHonorsOverrides(t *testing.T) {
	provider := &widthProvider{byWidth: map[int]string{10: "some suggestion"}}
	service := newTestService(t, provider)

	session, err := service.Upload([]UploadFile{{Name: "a.png", Data: pngBytes(t, 10)}})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := service.Analyze(context.Background(), session.ID); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	imageID := session.Images[0].ID
	session, err = service.Rename(context.Background(), session.ID, map[string]string{
		imageID: "my holiday photo",
	})
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if got := session.Images[0].FinalName; got != "my-holiday-photo.png" {
		t.Errorf("final name = %q, want my-holiday-photo.png", got)
	}
}
