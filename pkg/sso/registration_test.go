package sso

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/idlink/pkg/observability"
	"github.com/platinummonkey/idlink/pkg/storage"
)

func newTestRegistrar(t *testing.T) (*Registrar, *storage.MemoryStore) {
	t.Helper()

	store := storage.NewMemoryStore("example.org")
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewRegistrar(store, store, "example.org", logger, nil), store
}

func TestRegistrar_RegisterMappedUser(t *testing.T) {
	reg, store := newTestRegistrar(t)
	ctx := context.Background()

	attrs := &UserAttributes{
		Localpart:   "alice",
		DisplayName: "Alice",
		Emails:      []string{"alice@example.org"},
	}
	userID, err := reg.RegisterMappedUser(ctx, attrs, "oidc", "remote-1", Requestor{UserAgent: "ua", IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "@alice:example.org", userID)

	linked, err := store.LookupExternalID(ctx, "oidc", "remote-1")
	require.NoError(t, err)
	assert.Equal(t, userID, linked)
}

func TestRegistrar_RegisterMappedUser_InvalidLocalpart(t *testing.T) {
	reg, _ := newTestRegistrar(t)

	_, err := reg.RegisterMappedUser(context.Background(), &UserAttributes{Localpart: "Not Valid!"}, "oidc", "remote-1", Requestor{})

	var mappingErr *MappingError
	require.ErrorAs(t, err, &mappingErr)
	assert.Contains(t, mappingErr.Message, "localpart is invalid")
}

func TestRegistrar_RegisterMappedUser_EmptyLocalpart(t *testing.T) {
	reg, _ := newTestRegistrar(t)

	_, err := reg.RegisterMappedUser(context.Background(), &UserAttributes{}, "oidc", "remote-1", Requestor{})

	var mappingErr *MappingError
	assert.ErrorAs(t, err, &mappingErr)
}

func TestRegistrar_RegisterMappedUser_UserInUse(t *testing.T) {
	reg, store := newTestRegistrar(t)
	ctx := context.Background()

	_, err := store.CreateAccount(ctx, "alice", "", nil, "", "")
	require.NoError(t, err)

	_, err = reg.RegisterMappedUser(ctx, &UserAttributes{Localpart: "alice"}, "oidc", "remote-1", Requestor{})

	var ssoErr *Error
	require.ErrorAs(t, err, &ssoErr)
	assert.Equal(t, http.StatusBadRequest, ssoErr.StatusCode)
	assert.Equal(t, CodeUserInUse, ssoErr.Code)
	assert.Contains(t, ssoErr.Message, "@alice:example.org")

	// No link must exist after a failed registration.
	linked, err := store.LookupExternalID(ctx, "oidc", "remote-1")
	require.NoError(t, err)
	assert.Empty(t, linked)
}
