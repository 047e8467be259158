// Package storage holds the in-memory session registry. Sessions live only
// for the lifetime of the process; expiry is idle-time based and enforced
// both on access and by a periodic sweep.
package storage

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/picsort/renamer/internal/apperr"
	"github.com/picsort/renamer/internal/imagestore"
	"github.com/picsort/renamer/internal/models"
)

type SessionStore struct {
	sessions map[string]*models.RenameSession
	mu       sync.RWMutex
	files    *imagestore.Store
	ttl      time.Duration
	now      func() time.Time
}

// New creates a registry backed by the given image store. Deleting a session
// cascades to the store. ttl is the idle time after which a session expires.
func New(files *imagestore.Store, ttl time.Duration) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*models.RenameSession),
		files:    files,
		ttl:      ttl,
		now:      time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (s *SessionStore) SetClock(now func() time.Time) {
	s.now = now
}

// Create registers a new empty session in state uploaded. IDs are opaque and
// never reused.
func (s *SessionStore) Create() *models.RenameSession {
	now := s.now()
	session := &models.RenameSession{
		ID:         uuid.NewString(),
		Status:     models.SessionUploaded,
		Images:     []*models.ImageRecord{},
		CreatedAt:  now,
		LastActive: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return session
}

// Get returns the session for id. An idle session past its TTL is torn down
// on access and reported as not found.
func (s *SessionStore) Get(id string) (*models.RenameSession, error) {
	s.mu.RLock()
	session, exists := s.sessions[id]
	s.mu.RUnlock()
	if !exists {
		return nil, apperr.NotFound("session not found: " + id)
	}
	if s.expired(session, s.now()) {
		s.Delete(id)
		return nil, apperr.NotFound("session expired: " + id)
	}
	return session, nil
}

// Touch refreshes a session's idle timer.
func (s *SessionStore) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, exists := s.sessions[id]; exists {
		session.LastActive = s.now()
	}
}

// GetAll returns a snapshot of all live sessions.
func (s *SessionStore) GetAll() []*models.RenameSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*models.RenameSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		result = append(result, session)
	}
	return result
}

// Delete removes a session and its stored images. Deleting an unknown id is
// not an error.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	_, exists := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !exists {
		return
	}
	if err := s.files.DeleteSession(id); err != nil {
		slog.Error("Failed to remove session files", "session_id", id, "err", err)
	}
}

// SweepExpired deletes every session idle past the TTL and returns their ids.
func (s *SessionStore) SweepExpired(now time.Time) []string {
	s.mu.RLock()
	var expired []string
	for id, session := range s.sessions {
		if s.expired(session, now) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range expired {
		slog.Info("Sweeping expired session", "session_id", id)
		s.Delete(id)
	}
	return expired
}

func (s *SessionStore) expired(session *models.RenameSession, now time.Time) bool {
	return s.ttl > 0 && now.Sub(session.LastActive) > s.ttl
}
