package archiver

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/picsort/renamer/internal/apperr"
	"github.com/picsort/renamer/internal/imagestore"
	"github.com/picsort/renamer/internal/models"
)

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("zip.NewReader: %v", err)
	}
	entries := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry %s: %v", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read entry %s: %v", f.Name, err)
		}
		entries[f.Name] = content
	}
	return entries
}

func TestEmptySessionRejected(t *testing.T) {
	files, _ := imagestore.New(t.TempDir())
	packager := NewPackager(files)

	session := &models.RenameSession{ID: "sess-1", Status: models.SessionCompleted}
	var buf bytes.Buffer
	err := packager.WriteArchive(&buf, session)
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("expected validation error for empty session, got %v", err)
	}
}

func TestArchiveUsesFinalNames(t *testing.T) {
	files, err := imagestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("imagestore.New: %v", err)
	}
	packager := NewPackager(files)

	session := &models.RenameSession{ID: "sess-1", Status: models.SessionCompleted}
	for _, spec := range []struct{ final, content string }{
		{"a-red-car.png", "aaa"},
		{"a-red-car (1).png", "ccc"},
	} {
		ref, err := files.Put(session.ID, spec.final, []byte(spec.content))
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		session.Images = append(session.Images, &models.ImageRecord{
			ID:           spec.final,
			OriginalName: "orig.png",
			Status:       models.ImageCompleted,
			FinalName:    spec.final,
			StorageRef:   ref,
		})
	}

	var buf bytes.Buffer
	if err := packager.WriteArchive(&buf, session); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}

	entries := readArchive(t, buf.Bytes())
	if string(entries["a-red-car.png"]) != "aaa" {
		t.Errorf("a-red-car.png content = %q", entries["a-red-car.png"])
	}
	if string(entries["a-red-car (1).png"]) != "ccc" {
		t.Errorf("a-red-car (1).png content = %q", entries["a-red-car (1).png"])
	}
	if _, ok := entries["manifest.yaml"]; !ok {
		t.Error("archive missing manifest.yaml")
	}
}

func TestErroredImageIncludedUnderOriginalName(t *testing.T) {
	files, err := imagestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("imagestore.New: %v", err)
	}
	packager := NewPackager(files)

	session := &models.RenameSession{ID: "sess-1", Status: models.SessionCompleted}

	okRef, _ := files.Put(session.ID, "sunset.png", []byte("ok"))
	session.Images = append(session.Images, &models.ImageRecord{
		ID: "1", OriginalName: "a.png", Status: models.ImageCompleted,
		FinalName: "sunset.png", StorageRef: okRef,
	})

	// Analysis failed for this one; it was never renamed.
	errRef, _ := files.Put(session.ID, "id-2.png", []byte("raw"))
	session.Images = append(session.Images, &models.ImageRecord{
		ID: "2", OriginalName: "b holiday.png", Status: models.ImageError,
		Error: "model overloaded", StorageRef: errRef,
	})

	var buf bytes.Buffer
	if err := packager.WriteArchive(&buf, session); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}

	entries := readArchive(t, buf.Bytes())
	if len(entries) != 3 { // two images plus manifest
		t.Fatalf("archive has %d entries, want 3: %v", len(entries), keys(entries))
	}
	if string(entries["sunset.png"]) != "ok" {
		t.Errorf("sunset.png content = %q", entries["sunset.png"])
	}
	if string(entries["b-holiday.png"]) != "raw" {
		t.Errorf("errored image should appear under sanitized original name, entries: %v", keys(entries))
	}

	var manifest []struct {
		ArchivedName string `yaml:"archived_name"`
		OriginalName string `yaml:"original_name"`
		Status       string `yaml:"status"`
		Error        string `yaml:"error"`
	}
	if err := yaml.Unmarshal(entries["manifest.yaml"], &manifest); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	if len(manifest) != 2 {
		t.Fatalf("manifest has %d entries, want 2", len(manifest))
	}
	if manifest[1].Status != "error" || manifest[1].Error == "" {
		t.Errorf("manifest should record the failure: %+v", manifest[1])
	}
}

func TestMissingFileSkipped(t *testing.T) {
	files, err := imagestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("imagestore.New: %v", err)
	}
	packager := NewPackager(files)

	session := &models.RenameSession{ID: "sess-1", Status: models.SessionCompleted}
	ref, _ := files.Put(session.ID, "keep.png", []byte("keep"))
	session.Images = append(session.Images,
		&models.ImageRecord{ID: "1", OriginalName: "keep.png", Status: models.ImageCompleted, FinalName: "keep.png", StorageRef: ref},
		&models.ImageRecord{ID: "2", OriginalName: "gone.png", Status: models.ImageCompleted, FinalName: "gone.png", StorageRef: "sess-1/gone.png"},
	)

	var buf bytes.Buffer
	if err := packager.WriteArchive(&buf, session); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}

	entries := readArchive(t, buf.Bytes())
	if _, ok := entries["keep.png"]; !ok {
		t.Error("keep.png missing from archive")
	}
	if _, ok := entries["gone.png"]; ok {
		t.Error("gone.png should have been skipped")
	}
}

func TestDownloadIsRepeatable(t *testing.T) {
	files, err := imagestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("imagestore.New: %v", err)
	}
	packager := NewPackager(files)

	session := &models.RenameSession{ID: "sess-1", Status: models.SessionCompleted}
	ref, _ := files.Put(session.ID, "x.png", []byte("x"))
	session.Images = append(session.Images, &models.ImageRecord{
		ID: "1", OriginalName: "x.png", Status: models.ImageCompleted, FinalName: "x.png", StorageRef: ref,
	})

	var first, second bytes.Buffer
	if err := packager.WriteArchive(&first, session); err != nil {
		t.Fatalf("first WriteArchive: %v", err)
	}
	if err := packager.WriteArchive(&second, session); err != nil {
		t.Fatalf("second WriteArchive: %v", err)
	}

	a, b := readArchive(t, first.Bytes()), readArchive(t, second.Bytes())
	if len(a) != len(b) {
		t.Errorf("repeat download differs: %d vs %d entries", len(a), len(b))
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
