package sso

import (
	"strings"
	"time"
)

// UserAttributes is the result of mapping an external identity assertion onto
// local account attributes. An empty Localpart means the mapper could not
// decide on a username and the user should be prompted to pick one.
type UserAttributes struct {
	Localpart   string
	DisplayName string
	Emails      []string
}

// MappingSession tracks a pending "choose your username" interaction. It is
// created when the attribute mapper declines to pick a localpart and lives
// only in process memory until the user submits a username or the session
// expires.
type MappingSession struct {
	// ProviderID identifies the SSO provider, e.g. "oidc" or "saml".
	ProviderID string

	// RemoteUserID is the user's ID on the IdP.
	RemoteUserID string

	// Attributes returned by the mapper, minus the undecided localpart.
	DisplayName string
	Emails      []string

	// ExtraLoginAttributes are passed through to the client in the login
	// response, if the provider supplied any.
	ExtraLoginAttributes map[string]interface{}

	// ClientRedirectURL is where to send the browser once login completes.
	ClientRedirectURL string

	// ExpiresAt is the absolute expiry time of the session.
	ExpiresAt time.Time
}

// Requestor carries request provenance handed to account creation for
// downstream abuse-mitigation bookkeeping.
type Requestor struct {
	UserAgent string
	IPAddress string
}

// UserID is a fully-qualified local user identifier of the form
// "@localpart:domain".
type UserID struct {
	Localpart string
	Domain    string
}

// NewUserID builds a UserID from a localpart and server domain.
func NewUserID(localpart, domain string) UserID {
	return UserID{Localpart: localpart, Domain: domain}
}

func (u UserID) String() string {
	return "@" + u.Localpart + ":" + u.Domain
}

// localpartAllowed is the set of characters permitted in a localpart.
const localpartAllowed = "abcdefghijklmnopqrstuvwxyz0123456789._=-/"

// ValidLocalpart reports whether s is a non-empty string containing only
// characters permitted in a local identifier. Localparts may come from an
// untrusted mapper or a human-entered username, so callers must check this
// before registering an account.
func ValidLocalpart(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(localpartAllowed, r) {
			return false
		}
	}
	return true
}

// SanitizeLocalpart lowercases s, strips any e-mail style domain suffix, and
// drops characters not permitted in a localpart. Returns "" if nothing
// usable remains.
func SanitizeLocalpart(s string) string {
	if at := strings.IndexByte(s, '@'); at >= 0 {
		s = s[:at]
	}
	s = strings.ToLower(s)

	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(localpartAllowed, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
