package sso

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/idlink/pkg/observability"
	"github.com/platinummonkey/idlink/pkg/storage"
)

// completedLogin records one call to the fake login completer.
type completedLogin struct {
	userID      string
	redirectURL string
	extra       map[string]interface{}
}

type fakeCompleter struct {
	mu    sync.Mutex
	calls []completedLogin
}

func (c *fakeCompleter) CompleteLogin(w http.ResponseWriter, r *http.Request, userID, clientRedirectURL string, extra map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, completedLogin{userID: userID, redirectURL: clientRedirectURL, extra: extra})
	return nil
}

func (c *fakeCompleter) completed() []completedLogin {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]completedLogin(nil), c.calls...)
}

type auditRecord struct {
	userID, providerID, remoteUserID string
}

type fakeAuditor struct {
	mu      sync.Mutex
	records []auditRecord
}

func (a *fakeAuditor) RecordLogin(userID, providerID, remoteUserID string, requestor Requestor) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, auditRecord{userID, providerID, remoteUserID})
}

type flowFixture struct {
	flow      *Flow
	store     *storage.MemoryStore
	completer *fakeCompleter
	auditor   *fakeAuditor
}

func newTestFlow(t *testing.T) *flowFixture {
	t.Helper()

	store := storage.NewMemoryStore("example.org")
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	completer := &fakeCompleter{}
	auditor := &fakeAuditor{}

	flow := NewFlow(FlowConfig{
		Registry:  NewRegistry(),
		Links:     store,
		Registrar: NewRegistrar(store, store, "example.org", logger, nil),
		Sessions:  NewSessionStore(),
		Completer: completer,
		Domain:    "example.org",
		Logger:    logger,
		Auditor:   auditor,
	})

	return &flowFixture{flow: flow, store: store, completer: completer, auditor: auditor}
}

// fixedMapper always returns the same localpart.
func fixedMapper(localpart string) AttributeMapper {
	return func(ctx context.Context, attempt int) (*UserAttributes, error) {
		return &UserAttributes{Localpart: localpart}, nil
	}
}

func TestFlow_CompleteLogin_ExistingMapping(t *testing.T) {
	fx := newTestFlow(t)
	ctx := context.Background()
	require.NoError(t, fx.store.RecordExternalID(ctx, "oidc", "remote-1", "@alice:example.org"))

	// The mapper must not run when the link lookup already resolves.
	mapper := func(ctx context.Context, attempt int) (*UserAttributes, error) {
		t.Fatal("mapper must not be called for an existing mapping")
		return nil, nil
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/sso/callback/oidc", nil)
	err := fx.flow.CompleteLogin(w, r, "oidc", "remote-1", "https://client.example.com", mapper, nil, nil)
	require.NoError(t, err)

	calls := fx.completer.completed()
	require.Len(t, calls, 1)
	assert.Equal(t, "@alice:example.org", calls[0].userID)
	assert.Equal(t, "https://client.example.com", calls[0].redirectURL)
}

func TestFlow_CompleteLogin_RegistersNewUser(t *testing.T) {
	fx := newTestFlow(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/sso/callback/oidc", nil)
	err := fx.flow.CompleteLogin(w, r, "oidc", "remote-1", "", fixedMapper("alice"), nil, nil)
	require.NoError(t, err)

	calls := fx.completer.completed()
	require.Len(t, calls, 1)
	assert.Equal(t, "@alice:example.org", calls[0].userID)

	// The link is durable: a second login resolves without the mapper.
	userID, err := fx.flow.GetUserByRemoteID(context.Background(), "oidc", "remote-1")
	require.NoError(t, err)
	assert.Equal(t, "@alice:example.org", userID)

	require.Len(t, fx.auditor.records, 1)
	assert.Equal(t, auditRecord{"@alice:example.org", "oidc", "remote-1"}, fx.auditor.records[0])
}

func TestFlow_CompleteLogin_Grandfathered(t *testing.T) {
	fx := newTestFlow(t)

	grandfather := func(ctx context.Context) (string, error) {
		return "@old-alice:example.org", nil
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/sso/callback/oidc", nil)
	err := fx.flow.CompleteLogin(w, r, "oidc", "remote-1", "", fixedMapper("alice"), grandfather, nil)
	require.NoError(t, err)

	calls := fx.completer.completed()
	require.Len(t, calls, 1)
	assert.Equal(t, "@old-alice:example.org", calls[0].userID)

	// The grandfathered match is recorded so future logins skip it.
	userID, err := fx.flow.GetUserByRemoteID(context.Background(), "oidc", "remote-1")
	require.NoError(t, err)
	assert.Equal(t, "@old-alice:example.org", userID)
}

func TestFlow_CompleteLogin_PickerDetour(t *testing.T) {
	fx := newTestFlow(t)

	// Mapper declines to pick a localpart.
	mapper := func(ctx context.Context, attempt int) (*UserAttributes, error) {
		return &UserAttributes{DisplayName: "Alice", Emails: []string{"alice@example.org"}}, nil
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/sso/callback/oidc", nil)
	err := fx.flow.CompleteLogin(w, r, "oidc", "remote-1", "https://client.example.com", mapper, nil, nil)

	var redirect *RedirectError
	require.ErrorAs(t, err, &redirect)
	assert.Equal(t, PickerPath, redirect.Location)
	require.Len(t, redirect.Cookies, 1)
	assert.Equal(t, SessionCookieName, redirect.Cookies[0].Name)

	// The session holds everything needed to resume the login later.
	session, ok := fx.flow.Sessions().Get(redirect.Cookies[0].Value)
	require.True(t, ok)
	assert.Equal(t, "oidc", session.ProviderID)
	assert.Equal(t, "remote-1", session.RemoteUserID)
	assert.Equal(t, "Alice", session.DisplayName)
	assert.Equal(t, "https://client.example.com", session.ClientRedirectURL)

	// No account exists and no login completed.
	assert.Empty(t, fx.completer.completed())
	taken, err := fx.store.IsLocalIDTaken(context.Background(), "@alice:example.org")
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestFlow_CompleteLogin_AtMostOneRegistration(t *testing.T) {
	fx := newTestFlow(t)

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			w := httptest.NewRecorder()
			r := httptest.NewRequest("GET", "/sso/callback/oidc", nil)
			return fx.flow.CompleteLogin(w, r, "oidc", "remote-1", "", fixedMapper("alice"), nil, nil)
		})
	}
	require.NoError(t, g.Wait())

	// Every concurrent login resolved to the same single account.
	calls := fx.completer.completed()
	require.Len(t, calls, 16)
	for _, call := range calls {
		assert.Equal(t, "@alice:example.org", call.userID)
	}
}

func TestFlow_CheckUsernameAvailability(t *testing.T) {
	fx := newTestFlow(t)
	ctx := context.Background()

	sessionID, err := fx.flow.Sessions().Create(&MappingSession{ProviderID: "oidc", RemoteUserID: "remote-1"})
	require.NoError(t, err)

	available, err := fx.flow.CheckUsernameAvailability(ctx, "alice", sessionID)
	require.NoError(t, err)
	assert.True(t, available)

	// Checking does not reserve: the same name is still available, from this
	// session or any other.
	available, err = fx.flow.CheckUsernameAvailability(ctx, "alice", sessionID)
	require.NoError(t, err)
	assert.True(t, available)

	_, err = fx.store.CreateAccount(ctx, "alice", "", nil, "", "")
	require.NoError(t, err)

	available, err = fx.flow.CheckUsernameAvailability(ctx, "alice", sessionID)
	require.NoError(t, err)
	assert.False(t, available)
}

func TestFlow_CheckUsernameAvailability_UnknownSession(t *testing.T) {
	fx := newTestFlow(t)

	_, err := fx.flow.CheckUsernameAvailability(context.Background(), "alice", "no-such-session")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestFlow_CheckUsernameAvailability_InvalidLocalpart(t *testing.T) {
	fx := newTestFlow(t)

	sessionID, err := fx.flow.Sessions().Create(&MappingSession{})
	require.NoError(t, err)

	_, err = fx.flow.CheckUsernameAvailability(context.Background(), "Not Valid!", sessionID)

	var ssoErr *Error
	require.ErrorAs(t, err, &ssoErr)
	assert.Equal(t, CodeInvalidUsername, ssoErr.Code)
	assert.Equal(t, http.StatusBadRequest, ssoErr.StatusCode)
}

func TestFlow_SubmitUsername(t *testing.T) {
	fx := newTestFlow(t)

	sessionID, err := fx.flow.Sessions().Create(&MappingSession{
		ProviderID:           "oidc",
		RemoteUserID:         "remote-1",
		DisplayName:          "Alice",
		Emails:               []string{"alice@example.org"},
		ClientRedirectURL:    "https://client.example.com",
		ExtraLoginAttributes: map[string]interface{}{"idp": "oidc"},
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/sso/username", nil)
	err = fx.flow.SubmitUsername(w, r, "alice", sessionID)
	require.NoError(t, err)

	// The login completed with the session's original redirect and extras.
	calls := fx.completer.completed()
	require.Len(t, calls, 1)
	assert.Equal(t, "@alice:example.org", calls[0].userID)
	assert.Equal(t, "https://client.example.com", calls[0].redirectURL)
	assert.Equal(t, map[string]interface{}{"idp": "oidc"}, calls[0].extra)

	// The external identity is linked.
	userID, err := fx.flow.GetUserByRemoteID(context.Background(), "oidc", "remote-1")
	require.NoError(t, err)
	assert.Equal(t, "@alice:example.org", userID)

	// The session is gone and the cookie cleared.
	_, ok := fx.flow.Sessions().Get(sessionID)
	assert.False(t, ok)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.Empty(t, cookies[0].Value)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestFlow_SubmitUsername_UnknownSession(t *testing.T) {
	fx := newTestFlow(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/sso/username", nil)
	err := fx.flow.SubmitUsername(w, r, "alice", "no-such-session")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestFlow_SubmitUsername_UserInUse(t *testing.T) {
	fx := newTestFlow(t)
	ctx := context.Background()

	_, err := fx.store.CreateAccount(ctx, "alice", "", nil, "", "")
	require.NoError(t, err)

	sessionID, err := fx.flow.Sessions().Create(&MappingSession{ProviderID: "oidc", RemoteUserID: "remote-1"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/sso/username", nil)
	err = fx.flow.SubmitUsername(w, r, "alice", sessionID)

	var ssoErr *Error
	require.ErrorAs(t, err, &ssoErr)
	assert.Equal(t, CodeUserInUse, ssoErr.Code)

	// The session survives so the picker can re-prompt.
	_, ok := fx.flow.Sessions().Get(sessionID)
	assert.True(t, ok)
	assert.Empty(t, fx.completer.completed())
}

func TestFlow_CompleteLogin_StorageError(t *testing.T) {
	fx := newTestFlow(t)

	mapper := func(ctx context.Context, attempt int) (*UserAttributes, error) {
		return nil, errors.New("mapper exploded")
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/sso/callback/oidc", nil)
	err := fx.flow.CompleteLogin(w, r, "oidc", "remote-1", "", mapper, nil, nil)

	var mappingErr *MappingError
	require.ErrorAs(t, err, &mappingErr)
	assert.Empty(t, fx.completer.completed())
}
