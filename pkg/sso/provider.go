package sso

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
)

// IdPPickerPath is the surface the browser is sent to when more than one
// identity provider is configured.
const IdPPickerPath = "/sso/pick_idp"

// IdentityProvider is the contract implemented by each configured SSO
// provider. The provider authenticates the user out-of-band and calls back
// into the Flow with the asserted (provider id, remote user id).
type IdentityProvider interface {
	// ID returns the unique identifier for this provider, e.g. "oidc" or
	// "saml".
	ID() string

	// DisplayName returns the user-facing name for this provider.
	DisplayName() string

	// BeginAuth returns the URI to redirect the user's browser to for an
	// initial login attempt. clientRedirectURL is where the client wants to
	// end up after login; the provider must carry it through the round trip.
	BeginAuth(r *http.Request, clientRedirectURL string) (string, error)
}

// CallbackProvider is implemented by providers whose authentication callback
// is handled by this service's own HTTP surface.
type CallbackProvider interface {
	IdentityProvider

	// CompleteAuth validates the provider callback and returns the asserted
	// identity.
	CompleteAuth(r *http.Request) (*Assertion, error)
}

// Assertion is the identity a provider asserts after a successful
// authentication round trip.
type Assertion struct {
	// RemoteUserID is the unique, immutable user ID on the IdP. It might be
	// an e-mail address, a GUID, or some other form.
	RemoteUserID string

	PreferredUsername string
	DisplayName       string
	Emails            []string

	// Claims holds the raw attributes from the provider.
	Claims map[string]interface{}

	// ClientRedirectURL is the redirect target carried through the round
	// trip from BeginAuth.
	ClientRedirectURL string
}

// Registry holds the set of registered identity providers. Providers are
// registered exactly once at service start; a duplicate id is a programming
// error.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]IdentityProvider
	order     []string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]IdentityProvider)}
}

// Register adds a provider to the registry. It fails if a provider with the
// same id is already registered.
func (reg *Registry) Register(p IdentityProvider) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	id := p.ID()
	if _, exists := reg.providers[id]; exists {
		return fmt.Errorf("identity provider %q is already registered", id)
	}
	reg.providers[id] = p
	reg.order = append(reg.order, id)
	return nil
}

// MustRegister is like Register but panics on a duplicate id. Registration
// happens once at startup, so a duplicate is a configuration bug, not a
// runtime condition.
func (reg *Registry) MustRegister(p IdentityProvider) {
	if err := reg.Register(p); err != nil {
		panic(err)
	}
}

// Get returns the provider with the given id.
func (reg *Registry) Get(id string) (IdentityProvider, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	p, ok := reg.providers[id]
	return p, ok
}

// All returns the registered providers in registration order.
func (reg *Registry) All() []IdentityProvider {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make([]IdentityProvider, 0, len(reg.order))
	for _, id := range reg.order {
		out = append(out, reg.providers[id])
	}
	return out
}

// Len returns the number of registered providers.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.providers)
}

// BeginLogin dispatches an initial login attempt. With no providers
// registered it fails with ErrNotConfigured; with exactly one it delegates to
// that provider; with several it returns a redirect to the provider picker,
// carrying the client redirect target as a query parameter.
func (reg *Registry) BeginLogin(r *http.Request, clientRedirectURL string) (string, error) {
	providers := reg.All()

	switch len(providers) {
	case 0:
		return "", ErrNotConfigured
	case 1:
		return providers[0].BeginAuth(r, clientRedirectURL)
	default:
		q := url.Values{}
		q.Set("redirectUrl", clientRedirectURL)
		return IdPPickerPath + "?" + q.Encode(), nil
	}
}
