// Package imagestore owns the raw bytes of uploaded images. Files live under
// <root>/<sessionID>/<filename> and are addressed by an opaque reference.
// Sessions hold references only, never copies of the data.
package imagestore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/picsort/renamer/internal/apperr"
)

type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}
	return &Store{
		root:  dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// refLock returns the mutex serializing operations on a single reference.
// Distinct references proceed concurrently.
func (s *Store) refLock(ref string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[ref]
	if !ok {
		l = &sync.Mutex{}
		s.locks[ref] = l
	}
	return l
}

func (s *Store) moveLock(oldRef, newRef string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[oldRef]; ok {
		delete(s.locks, oldRef)
		s.locks[newRef] = l
	}
}

func (s *Store) dropLock(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, ref)
}

// path resolves a reference to an absolute path, rejecting anything that
// escapes the store root. Filenames are untrusted input upstream.
func (s *Store) path(ref string) (string, error) {
	clean := filepath.Clean(ref)
	if clean == "." || strings.Contains(clean, "..") || filepath.IsAbs(clean) {
		return "", apperr.Validation("invalid storage reference")
	}
	return filepath.Join(s.root, clean), nil
}

// Put writes data under the session's directory and returns the reference.
func (s *Store) Put(sessionID, filename string, data []byte) (string, error) {
	ref := filepath.ToSlash(filepath.Join(sessionID, filename))
	p, err := s.path(ref)
	if err != nil {
		return "", err
	}

	l := s.refLock(ref)
	l.Lock()
	defer l.Unlock()

	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", apperr.Storage("failed to create session directory", err)
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return "", apperr.Storage("failed to save image", err)
	}
	return ref, nil
}

// Get returns the stored bytes for a reference.
func (s *Store) Get(ref string) ([]byte, error) {
	p, err := s.path(ref)
	if err != nil {
		return nil, err
	}

	l := s.refLock(ref)
	l.Lock()
	defer l.Unlock()

	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, apperr.NotFound("image no longer present: " + ref)
	}
	if err != nil {
		return nil, apperr.Storage("failed to read image", err)
	}
	return data, nil
}

// Open returns a reader over the stored bytes, for streaming consumers.
func (s *Store) Open(ref string) (io.ReadCloser, error) {
	p, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, apperr.NotFound("image no longer present: " + ref)
	}
	if err != nil {
		return nil, apperr.Storage("failed to open image", err)
	}
	return f, nil
}

// ReplaceName renames the stored artifact within its session directory
// without touching the bytes, and returns the new reference.
func (s *Store) ReplaceName(ref, newName string) (string, error) {
	if strings.ContainsAny(newName, `/\`) || newName == "" {
		return "", apperr.Validation("invalid target filename")
	}
	p, err := s.path(ref)
	if err != nil {
		return "", err
	}
	newRef := filepath.ToSlash(filepath.Join(filepath.Dir(filepath.FromSlash(ref)), newName))
	newPath, err := s.path(newRef)
	if err != nil {
		return "", err
	}

	l := s.refLock(ref)
	l.Lock()
	defer l.Unlock()

	if _, err := os.Stat(p); os.IsNotExist(err) {
		return "", apperr.NotFound("image no longer present: " + ref)
	}
	if err := os.Rename(p, newPath); err != nil {
		return "", apperr.Storage("failed to rename image", err)
	}
	s.moveLock(ref, newRef)
	return newRef, nil
}

// Delete removes a stored image. Deleting a missing reference is not an error.
func (s *Store) Delete(ref string) error {
	p, err := s.path(ref)
	if err != nil {
		return err
	}

	l := s.refLock(ref)
	l.Lock()
	defer l.Unlock()

	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return apperr.Storage("failed to delete image", err)
	}
	s.dropLock(ref)
	return nil
}

// DeleteSession removes a session's directory and everything in it.
func (s *Store) DeleteSession(sessionID string) error {
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) {
		return apperr.Validation("invalid session id")
	}
	if err := os.RemoveAll(filepath.Join(s.root, sessionID)); err != nil {
		return apperr.Storage("failed to remove session directory", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := sessionID + "/"
	for ref := range s.locks {
		if strings.HasPrefix(ref, prefix) {
			delete(s.locks, ref)
		}
	}
	return nil
}
