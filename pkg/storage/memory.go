package storage

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and development. All state is
// lost on process exit.
type MemoryStore struct {
	mu sync.Mutex

	domain string

	// accounts maps lowercased localpart to the canonical user id.
	accounts map[string]string

	// links maps providerID -> externalID -> user id.
	links map[string]map[string]string

	audit []LoginAuditEntry
}

// NewMemoryStore creates an empty in-memory store. domain qualifies
// localparts into full user ids.
func NewMemoryStore(domain string) *MemoryStore {
	return &MemoryStore{
		domain:   domain,
		accounts: make(map[string]string),
		links:    make(map[string]map[string]string),
	}
}

// CreateAccount registers an account, enforcing case-insensitive localpart
// uniqueness.
func (s *MemoryStore) CreateAccount(ctx context.Context, localpart, displayName string, emails []string, userAgent, ipAddress string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(localpart)
	if _, exists := s.accounts[key]; exists {
		return "", ErrLocalpartTaken
	}

	userID := "@" + localpart + ":" + s.domain
	s.accounts[key] = userID
	return userID, nil
}

// LookupExternalID resolves an external identity to a local user id.
func (s *MemoryStore) LookupExternalID(ctx context.Context, providerID, externalID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.links[providerID][externalID], nil
}

// RecordExternalID links an external identity to a local user id.
func (s *MemoryStore) RecordExternalID(ctx context.Context, providerID, externalID, localUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byExternal, ok := s.links[providerID]
	if !ok {
		byExternal = make(map[string]string)
		s.links[providerID] = byExternal
	}
	byExternal[externalID] = localUserID
	return nil
}

// IsLocalIDTaken reports whether a full user id is registered, ignoring case.
func (s *MemoryStore) IsLocalIDTaken(ctx context.Context, localUserID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := strings.ToLower(localUserID)
	for _, userID := range s.accounts {
		if strings.ToLower(userID) == want {
			return true, nil
		}
	}
	return false, nil
}

// RecordLoginAudit appends a login audit entry.
func (s *MemoryStore) RecordLoginAudit(ctx context.Context, entry LoginAuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	s.audit = append(s.audit, entry)
	return nil
}

// AuditEntries returns a copy of the recorded audit log, oldest first.
func (s *MemoryStore) AuditEntries() []LoginAuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LoginAuditEntry(nil), s.audit...)
}

// CountAccounts returns the number of registered accounts.
func (s *MemoryStore) CountAccounts(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.accounts)), nil
}

// CountExternalIDs returns the number of external identity links.
func (s *MemoryStore) CountExternalIDs(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, byExternal := range s.links {
		total += int64(len(byExternal))
	}
	return total, nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
