package sso

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

// SessionCookieName is the HTTP cookie correlating the browser with a pending
// username-mapping session.
const SessionCookieName = "username_mapping_session"

// PickerPath is the surface the browser is sent to when the user must pick a
// username.
const PickerPath = "/sso/pick_username"

// SessionValidity is how long a username-mapping session remains usable.
// Expiry doubles as the timeout on the human interaction: there is no
// long-lived task to cancel, the session just stops resolving.
const SessionValidity = 15 * time.Minute

// sessionIDBytes is the entropy of a session id before encoding.
const sessionIDBytes = 16

// SessionStore is an in-memory, TTL-bounded table of pending username-mapping
// sessions keyed by opaque session id. It is shared mutable state accessed by
// any request goroutine; all operations hold the store lock. Expired entries
// are swept lazily on each access rather than by a background timer - picker
// traffic is low and a stale session only wastes a bounded amount of memory
// until the next access.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*MappingSession
	validity time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// NewSessionStore creates an empty session store with the default validity.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*MappingSession),
		validity: SessionValidity,
		now:      time.Now,
	}
}

// Create stores a new session and returns its opaque id, for the caller to
// hand to the browser as a cookie value. The session's expiry time is set
// here.
func (s *SessionStore) Create(session *MappingSession) (string, error) {
	id, err := newSessionID()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session.ExpiresAt = s.now().Add(s.validity)
	s.sessions[id] = session
	return id, nil
}

// Get sweeps expired sessions and returns the session with the given id, if
// it is still live.
func (s *SessionStore) Get(id string) (*MappingSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked()
	session, ok := s.sessions[id]
	return session, ok
}

// Delete removes a session. Deleting an unknown id is a no-op.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Pending sweeps expired sessions and returns the number remaining.
func (s *SessionStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked()
	return len(s.sessions)
}

// expireLocked removes every session whose expiry time has been reached.
// Callers must hold s.mu.
func (s *SessionStore) expireLocked() {
	now := s.now()
	for id, session := range s.sessions {
		if !session.ExpiresAt.After(now) {
			delete(s.sessions, id)
		}
	}
}

// newSessionID returns an opaque random token with sessionIDBytes of entropy,
// rendered as URL-safe ASCII.
func newSessionID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
