package parlor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// ============================================================================
// Session Store
// ============================================================================

// SessionStore persists a user identity and auxiliary cached attributes
// scoped to a logical session. A store backed by a file survives process
// restarts; a store with an empty path is memory-only. One active session
// per store.
type SessionStore struct {
	path string

	mu   sync.RWMutex
	data sessionData
}

type sessionData struct {
	SessionID string                     `json:"sessionId"`
	UserID    string                     `json:"userId"`
	Items     map[string]json.RawMessage `json:"items,omitempty"`
}

// NewSessionStore opens the store at path, loading any persisted session.
// An empty path creates a memory-only store.
func NewSessionStore(path string) (*SessionStore, error) {
	s := &SessionStore{path: path}

	if path == "" {
		return s, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("cannot read session file: %w", err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("cannot parse session file: %w", err)
	}
	return s, nil
}

// CreateSession binds userID to the session scope, generating the scope id
// on first login if none exists.
func (s *SessionStore) CreateSession(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.SessionID == "" {
		s.data.SessionID = uuid.NewString()
	}
	s.data.UserID = userID
	return s.persist()
}

// UserID returns the persisted user id, or "" when no session is active.
// Absence routes the caller to the authentication flow.
func (s *SessionStore) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data.SessionID == "" {
		return ""
	}
	return s.data.UserID
}

// SessionID returns the current session scope id, or "".
func (s *SessionStore) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.SessionID
}

// SetItem stores a JSON-serializable attribute under the session scope.
// Without an active session this is a no-op.
func (s *SessionStore) SetItem(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.SessionID == "" {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cannot marshal session item %q: %w", key, err)
	}
	if s.data.Items == nil {
		s.data.Items = make(map[string]json.RawMessage)
	}
	s.data.Items[key] = raw
	return s.persist()
}

// GetItem unmarshals the attribute stored under key into out. It reports
// whether the key was present.
func (s *SessionStore) GetItem(key string, out any) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.data.Items[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("cannot unmarshal session item %q: %w", key, err)
	}
	return true, nil
}

// RemoveItem deletes the attribute stored under key.
func (s *SessionStore) RemoveItem(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Items[key]; !ok {
		return nil
	}
	delete(s.data.Items, key)
	return s.persist()
}

// Clear removes the session scope and all items. Idempotent.
func (s *SessionStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = sessionData{}
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove session file: %w", err)
	}
	return nil
}

// persist is called with the write lock held.
func (s *SessionStore) persist() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("cannot create session directory: %w", err)
	}
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal session: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("cannot write session file: %w", err)
	}
	return nil
}
