// Package archiver bundles a session's current files into a single ZIP
// stream. It is read-only with respect to session and store state, so a
// download can be repeated at any point after analysis.
package archiver

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/picsort/renamer/internal/apperr"
	"github.com/picsort/renamer/internal/imagestore"
	"github.com/picsort/renamer/internal/models"
	"github.com/picsort/renamer/internal/renamer"
)

const manifestName = "manifest.yaml"

type Packager struct {
	files *imagestore.Store
}

func NewPackager(files *imagestore.Store) *Packager {
	return &Packager{files: files}
}

// manifestEntry describes one archived image in the manifest written at the
// end of every archive.
type manifestEntry struct {
	ArchivedName  string `yaml:"archived_name"`
	OriginalName  string `yaml:"original_name"`
	SuggestedName string `yaml:"suggested_name,omitempty"`
	Status        string `yaml:"status"`
	Error         string `yaml:"error,omitempty"`
}

// WriteArchive streams a ZIP of every image still present in the store.
// Images that errored during analysis or rename are included under their last
// successful name (the original base name if no rename ever succeeded); the
// manifest records their status. Fails if the session holds no images.
func (p *Packager) WriteArchive(w io.Writer, session *models.RenameSession) error {
	if len(session.Images) == 0 {
		return apperr.Validation("session has no images to package")
	}

	zw := zip.NewWriter(w)
	used := make(map[string]bool, len(session.Images)+1)
	used[manifestName] = true
	manifest := make([]manifestEntry, 0, len(session.Images))

	for _, record := range session.Images {
		entryName := p.entryName(record, used)
		used[entryName] = true

		rc, err := p.files.Open(record.StorageRef)
		if err != nil {
			// Stale reference; the file is gone, skip it but keep going.
			slog.Warn("Skipping missing image in archive", "image_id", record.ID, "err", err)
			continue
		}

		header := &zip.FileHeader{
			Name:     entryName,
			Method:   zip.Deflate,
			Modified: time.Now(),
		}
		entry, err := zw.CreateHeader(header)
		if err != nil {
			rc.Close()
			return apperr.Storage("failed to create archive entry", err)
		}
		if _, err := io.Copy(entry, rc); err != nil {
			rc.Close()
			return apperr.Storage("failed to write archive entry", err)
		}
		rc.Close()

		manifest = append(manifest, manifestEntry{
			ArchivedName:  entryName,
			OriginalName:  record.OriginalName,
			SuggestedName: record.SuggestedName,
			Status:        string(record.Status),
			Error:         record.Error,
		})
	}

	if err := p.writeManifest(zw, manifest); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return apperr.Storage("failed to finalize archive", err)
	}
	return nil
}

// entryName picks the name an image appears under inside the archive: the
// resolved final name when a rename succeeded, otherwise the sanitized
// original name. A numeric suffix keeps entries unique within the archive.
func (p *Packager) entryName(record *models.ImageRecord, used map[string]bool) string {
	if record.FinalName != "" {
		return disambiguate(record.FinalName, used)
	}

	ext := strings.ToLower(filepath.Ext(record.OriginalName))
	base := renamer.Sanitize(strings.TrimSuffix(record.OriginalName, filepath.Ext(record.OriginalName)), 0)
	if base == "" {
		base = record.ID
	}
	return disambiguate(base+ext, used)
}

func disambiguate(name string, used map[string]bool) string {
	if !used[name] {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
		if !used[candidate] {
			return candidate
		}
	}
}

func (p *Packager) writeManifest(zw *zip.Writer, manifest []manifestEntry) error {
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return apperr.Internal("failed to marshal archive manifest", err)
	}
	entry, err := zw.Create(manifestName)
	if err != nil {
		return apperr.Storage("failed to create manifest entry", err)
	}
	if _, err := entry.Write(data); err != nil {
		return apperr.Storage("failed to write manifest entry", err)
	}
	return nil
}
