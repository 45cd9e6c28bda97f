package sso

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/platinummonkey/idlink/pkg/httputil"
	"github.com/platinummonkey/idlink/pkg/observability"
	"github.com/platinummonkey/idlink/pkg/storage"
)

// LoginCompleter finishes the HTTP turn once a login has resolved to a local
// user id, typically by issuing a login token and redirecting the browser to
// the client redirect URL.
type LoginCompleter interface {
	CompleteLogin(w http.ResponseWriter, r *http.Request, userID, clientRedirectURL string, extra map[string]interface{}) error
}

// GrandfatherFunc may find a pre-existing local account for an external
// identity by other means, e.g. a prior password-based account with a
// matching verified e-mail. It returns "" when no account matches. It must
// not have side effects beyond the lookup; the link is recorded by the flow
// after it returns.
type GrandfatherFunc func(ctx context.Context) (string, error)

// LoginAuditor records completed SSO logins. Implementations must not block
// the login path.
type LoginAuditor interface {
	RecordLogin(userID, providerID, remoteUserID string, requestor Requestor)
}

// Flow is the top-level login completion state machine: it checks for an
// existing external-identity link, tries grandfathering, falls back to
// attribute mapping plus registration (or the username picker), and finally
// hands off to login-token issuance.
type Flow struct {
	registry  *Registry
	links     storage.LinkStore
	registrar *Registrar
	sessions  *SessionStore
	completer LoginCompleter
	domain    string
	logger    *observability.Logger
	metrics   *observability.Metrics
	auditor   LoginAuditor

	// locks serializes login completion per provider id. This is a
	// deliberately coarse grain: it closes the check-then-act race where two
	// concurrent logins for the same external identity both miss the link
	// lookup and both register, at the cost of queueing unrelated users on a
	// busy provider. SSO completion already follows a round trip to an
	// external IdP, so the added latency is acceptable.
	locks *keyedMutex
}

// FlowConfig carries the collaborators of a Flow.
type FlowConfig struct {
	Registry  *Registry
	Links     storage.LinkStore
	Registrar *Registrar
	Sessions  *SessionStore
	Completer LoginCompleter
	Domain    string
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Auditor   LoginAuditor
}

// NewFlow creates a login completion flow.
func NewFlow(cfg FlowConfig) *Flow {
	return &Flow{
		registry:  cfg.Registry,
		links:     cfg.Links,
		registrar: cfg.Registrar,
		sessions:  cfg.Sessions,
		completer: cfg.Completer,
		domain:    cfg.Domain,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		auditor:   cfg.Auditor,
		locks:     newKeyedMutex(),
	}
}

// Registry returns the provider registry this flow dispatches on.
func (f *Flow) Registry() *Registry {
	return f.registry
}

// Sessions returns the username-mapping session store.
func (f *Flow) Sessions() *SessionStore {
	return f.sessions
}

// GetUserByRemoteID maps a remote IdP user id to a previously seen local user
// id. It is a pure read; "" means the external identity has not been seen.
func (f *Flow) GetUserByRemoteID(ctx context.Context, providerID, remoteUserID string) (string, error) {
	f.logger.Debugf("looking for existing mapping for user %s/%s", providerID, remoteUserID)

	userID, err := f.links.LookupExternalID(ctx, providerID, remoteUserID)
	if err != nil {
		return "", fmt.Errorf("looking up external id %s/%s: %w", providerID, remoteUserID, err)
	}
	if userID != "" {
		f.logger.WithField("provider", providerID).
			Infof("found existing mapping for remote user %s: %s", remoteUserID, userID)
	}
	return userID, nil
}

// CompleteLogin resolves an authenticated external identity to a local user
// id and finishes the login.
//
// The resolution steps - link lookup, grandfathering, attribute mapping, and
// registration - run under the per-provider lock, which is held across every
// suspension point inside them. If the mapper cannot decide on a localpart,
// a username-mapping session is created and a *RedirectError to the picker is
// returned; the current request ends there and a fresh request resumes via
// SubmitUsername. Login-token issuance happens outside the lock.
func (f *Flow) CompleteLogin(w http.ResponseWriter, r *http.Request, providerID, remoteUserID, clientRedirectURL string, mapper AttributeMapper, grandfather GrandfatherFunc, extra map[string]interface{}) error {
	ctx := r.Context()
	requestor := RequestorFromRequest(r)

	f.locks.lock(providerID)
	userID, outcome, err := f.resolveUser(ctx, providerID, remoteUserID, clientRedirectURL, mapper, grandfather, extra, requestor)
	f.locks.unlock(providerID)

	if f.metrics != nil {
		f.metrics.LoginCompletionsTotal.WithLabelValues(providerID, outcome).Inc()
	}
	if err != nil {
		return err
	}

	if f.auditor != nil {
		f.auditor.RecordLogin(userID, providerID, remoteUserID, requestor)
	}
	return f.completer.CompleteLogin(w, r, userID, clientRedirectURL, extra)
}

// resolveUser runs steps 2-4 of the login completion state machine. Callers
// must hold the provider lock.
func (f *Flow) resolveUser(ctx context.Context, providerID, remoteUserID, clientRedirectURL string, mapper AttributeMapper, grandfather GrandfatherFunc, extra map[string]interface{}, requestor Requestor) (string, string, error) {
	userID, err := f.GetUserByRemoteID(ctx, providerID, remoteUserID)
	if err != nil {
		return "", "error", err
	}
	if userID != "" {
		return userID, "existing", nil
	}

	if grandfather != nil {
		userID, err = grandfather(ctx)
		if err != nil {
			return "", "error", fmt.Errorf("grandfathering existing users for %s/%s: %w", providerID, remoteUserID, err)
		}
		if userID != "" {
			// Future logins should also match this user id.
			if err := f.links.RecordExternalID(ctx, providerID, remoteUserID, userID); err != nil {
				return "", "error", fmt.Errorf("recording grandfathered link for %s/%s: %w", providerID, remoteUserID, err)
			}
			f.logger.WithField("provider", providerID).
				Infof("grandfathered remote user %s onto %s", remoteUserID, userID)
			return userID, "grandfathered", nil
		}
	}

	attrs, err := f.mapAttributes(ctx, providerID, mapper)
	if err != nil {
		return "", "error", err
	}

	if attrs.Localpart == "" {
		// The mapper declined to pick a username; bail out with a redirect
		// to the username picker.
		redirect, err := f.redirectToUsernamePicker(providerID, remoteUserID, attrs, clientRedirectURL, extra)
		if err != nil {
			return "", "error", err
		}
		return "", "picker", redirect
	}

	userID, err = f.registrar.RegisterMappedUser(ctx, attrs, providerID, remoteUserID, requestor)
	if err != nil {
		return "", "error", err
	}
	return userID, "registered", nil
}

// redirectToUsernamePicker records a username-mapping session and builds the
// *RedirectError that sends the browser to the picker, with the session id in
// a correlation cookie.
func (f *Flow) redirectToUsernamePicker(providerID, remoteUserID string, attrs *UserAttributes, clientRedirectURL string, extra map[string]interface{}) (*RedirectError, error) {
	sessionID, err := f.sessions.Create(&MappingSession{
		ProviderID:           providerID,
		RemoteUserID:         remoteUserID,
		DisplayName:          attrs.DisplayName,
		Emails:               attrs.Emails,
		ExtraLoginAttributes: extra,
		ClientRedirectURL:    clientRedirectURL,
	})
	if err != nil {
		return nil, err
	}

	f.logger.WithField("session", sessionID).Info("recorded username mapping session")
	if f.metrics != nil {
		f.metrics.PickerSessionsCreated.Inc()
	}

	return &RedirectError{
		Location: PickerPath,
		Cookies: []*http.Cookie{{
			Name:  SessionCookieName,
			Value: sessionID,
			Path:  "/",
		}},
	}, nil
}

// CheckUsernameAvailability reports whether the user id derived from
// localpart is free. It requires a live username-mapping session, both to
// correlate with the pending login and to stop dictionary scans for
// accounts. It has no side effect beyond the read: checking never reserves
// the name.
func (f *Flow) CheckUsernameAvailability(ctx context.Context, localpart, sessionID string) (bool, error) {
	session, ok := f.sessions.Get(sessionID)
	if !ok {
		f.logger.Infof("no username mapping session with id %s", sessionID)
		return false, ErrUnknownSession
	}

	f.logger.WithField("session", sessionID).
		Debugf("checking availability of localpart %s for provider %s", localpart, session.ProviderID)

	if !ValidLocalpart(localpart) {
		return false, NewError(http.StatusBadRequest, CodeInvalidUsername,
			fmt.Sprintf("localpart is invalid: %q", localpart))
	}

	taken, err := f.links.IsLocalIDTaken(ctx, NewUserID(localpart, f.domain).String())
	if err != nil {
		return false, fmt.Errorf("checking availability of %q: %w", localpart, err)
	}
	return !taken, nil
}

// SubmitUsername completes a pending username-mapping session with the
// localpart the user chose: it registers the account, records the link,
// destroys the session, clears the correlation cookie, and finishes the
// login with the session's original redirect target.
func (f *Flow) SubmitUsername(w http.ResponseWriter, r *http.Request, localpart, sessionID string) error {
	ctx := r.Context()

	session, ok := f.sessions.Get(sessionID)
	if !ok {
		f.logger.Infof("no username mapping session with id %s", sessionID)
		return ErrUnknownSession
	}

	f.logger.WithField("session", sessionID).Infof("registering localpart %s", localpart)

	attrs := &UserAttributes{
		Localpart:   localpart,
		DisplayName: session.DisplayName,
		Emails:      session.Emails,
	}

	requestor := RequestorFromRequest(r)

	// Fails with USER_IN_USE if the name was taken in the meantime; the
	// session survives so the picker can re-prompt.
	userID, err := f.registrar.RegisterMappedUser(ctx, attrs, session.ProviderID, session.RemoteUserID, requestor)
	if err != nil {
		return err
	}

	f.logger.WithField("session", sessionID).Infof("registered user id %s", userID)

	f.sessions.Delete(sessionID)
	http.SetCookie(w, &http.Cookie{
		Name:    SessionCookieName,
		Value:   "",
		Path:    "/",
		Expires: time.Unix(0, 0),
		MaxAge:  -1,
	})

	if f.auditor != nil {
		f.auditor.RecordLogin(userID, session.ProviderID, session.RemoteUserID, requestor)
	}
	return f.completer.CompleteLogin(w, r, userID, session.ClientRedirectURL, session.ExtraLoginAttributes)
}

// RequestorFromRequest extracts request provenance for abuse-mitigation
// bookkeeping.
func RequestorFromRequest(r *http.Request) Requestor {
	return Requestor{
		UserAgent: r.UserAgent(),
		IPAddress: httputil.ClientIP(r),
	}
}

// keyedMutex hands out one mutex per key. Entries are never removed; the key
// space is the set of provider ids, which is fixed at startup.
type keyedMutex struct {
	mu   sync.Mutex
	keys map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{keys: make(map[string]*sync.Mutex)}
}

func (km *keyedMutex) lock(key string) {
	km.mu.Lock()
	m, ok := km.keys[key]
	if !ok {
		m = &sync.Mutex{}
		km.keys[key] = m
	}
	km.mu.Unlock()
	m.Lock()
}

func (km *keyedMutex) unlock(key string) {
	km.mu.Lock()
	m := km.keys[key]
	km.mu.Unlock()
	m.Unlock()
}
