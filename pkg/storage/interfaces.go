package storage

import (
	"context"
	"errors"
	"time"
)

// ErrLocalpartTaken is returned by CreateAccount when the requested localpart
// already belongs to an account. Comparison is case-insensitive.
var ErrLocalpartTaken = errors.New("localpart is already in use")

// AccountStore creates local user accounts.
type AccountStore interface {
	// CreateAccount registers a new account and returns its fully-qualified
	// user id. userAgent and ipAddress record the provenance of the request
	// for abuse-mitigation bookkeeping. Fails with ErrLocalpartTaken if the
	// localpart is already claimed.
	CreateAccount(ctx context.Context, localpart, displayName string, emails []string, userAgent, ipAddress string) (string, error)
}

// LinkStore records and resolves links between external identities and local
// user ids.
type LinkStore interface {
	// LookupExternalID returns the local user id linked to the external
	// identity, or "" if the identity has not been seen.
	LookupExternalID(ctx context.Context, providerID, externalID string) (string, error)

	// RecordExternalID durably links an external identity to a local user
	// id. At most one local user per (providerID, externalID).
	RecordExternalID(ctx context.Context, providerID, externalID, localUserID string) error

	// IsLocalIDTaken reports whether a fully-qualified local user id is
	// already registered. Comparison is case-insensitive.
	IsLocalIDTaken(ctx context.Context, localUserID string) (bool, error)
}

// AuditStore persists records of completed SSO logins.
type AuditStore interface {
	RecordLoginAudit(ctx context.Context, entry LoginAuditEntry) error
}

// LoginAuditEntry is one completed SSO login.
type LoginAuditEntry struct {
	UserID     string
	ProviderID string
	ExternalID string
	UserAgent  string
	IPAddress  string
	At         time.Time
}

// StatsStore exposes aggregate counts for business metrics.
type StatsStore interface {
	// CountAccounts returns the number of registered accounts.
	CountAccounts(ctx context.Context) (int64, error)

	// CountExternalIDs returns the number of external identity links.
	CountExternalIDs(ctx context.Context) (int64, error)
}

// Store is the full persistence surface the service relies on.
type Store interface {
	AccountStore
	LinkStore
	AuditStore
	StatsStore

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
