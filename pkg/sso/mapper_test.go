package sso

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapAttributes_FirstAttemptFree(t *testing.T) {
	fx := newTestFlow(t)

	calls := 0
	mapper := func(ctx context.Context, attempt int) (*UserAttributes, error) {
		calls++
		return &UserAttributes{Localpart: "alice"}, nil
	}

	attrs, err := fx.flow.mapAttributes(context.Background(), "oidc", mapper)
	require.NoError(t, err)
	assert.Equal(t, "alice", attrs.Localpart)
	assert.Equal(t, 1, calls)
}

func TestMapAttributes_CollisionThenSuccess(t *testing.T) {
	fx := newTestFlow(t)
	ctx := context.Background()

	_, err := fx.store.CreateAccount(ctx, "alice", "", nil, "", "")
	require.NoError(t, err)

	mapper := DefaultAttributeMapper(&Assertion{PreferredUsername: "alice"})

	attrs, err := fx.flow.mapAttributes(ctx, "oidc", mapper)
	require.NoError(t, err)
	assert.Equal(t, "alice1", attrs.Localpart)
}

func TestMapAttributes_ExactlyMaxAttempts(t *testing.T) {
	fx := newTestFlow(t)
	ctx := context.Background()

	_, err := fx.store.CreateAccount(ctx, "alice", "", nil, "", "")
	require.NoError(t, err)

	// Every attempt yields the same taken name, so the loop must run its
	// full budget and then give up.
	calls := 0
	mapper := func(ctx context.Context, attempt int) (*UserAttributes, error) {
		calls++
		return &UserAttributes{Localpart: "alice"}, nil
	}

	_, err = fx.flow.mapAttributes(ctx, "oidc", mapper)

	var mappingErr *MappingError
	require.ErrorAs(t, err, &mappingErr)
	assert.Contains(t, mappingErr.Message, "unable to generate a user ID")
	assert.Equal(t, MaxMappingAttempts, calls)
}

func TestMapAttributes_CaseInsensitiveCollision(t *testing.T) {
	fx := newTestFlow(t)
	ctx := context.Background()

	_, err := fx.store.CreateAccount(ctx, "alice", "", nil, "", "")
	require.NoError(t, err)

	calls := 0
	mapper := func(ctx context.Context, attempt int) (*UserAttributes, error) {
		calls++
		if attempt == 0 {
			return &UserAttributes{Localpart: "aLiCe"}, nil
		}
		return &UserAttributes{Localpart: "bob"}, nil
	}

	attrs, err := fx.flow.mapAttributes(ctx, "oidc", mapper)
	require.NoError(t, err)
	assert.Equal(t, "bob", attrs.Localpart)
	assert.Equal(t, 2, calls)
}

func TestMapAttributes_MappingErrorPassesThrough(t *testing.T) {
	fx := newTestFlow(t)

	want := &MappingError{Message: "required attribute missing"}
	mapper := func(ctx context.Context, attempt int) (*UserAttributes, error) {
		return nil, want
	}

	_, err := fx.flow.mapAttributes(context.Background(), "oidc", mapper)
	assert.Same(t, want, err)
}

func TestMapAttributes_RedirectErrorPassesThrough(t *testing.T) {
	fx := newTestFlow(t)

	want := &RedirectError{Location: "/consent"}
	mapper := func(ctx context.Context, attempt int) (*UserAttributes, error) {
		return nil, want
	}

	_, err := fx.flow.mapAttributes(context.Background(), "oidc", mapper)
	assert.Same(t, want, err)
}

func TestMapAttributes_UnexpectedErrorIsWrapped(t *testing.T) {
	fx := newTestFlow(t)

	mapper := func(ctx context.Context, attempt int) (*UserAttributes, error) {
		return nil, errors.New("connection reset by peer")
	}

	_, err := fx.flow.mapAttributes(context.Background(), "oidc", mapper)

	var mappingErr *MappingError
	require.ErrorAs(t, err, &mappingErr)
	// Internal detail must not leak into the user-visible message.
	assert.NotContains(t, mappingErr.Message, "connection reset")
}

func TestMapAttributes_NilAttributesBecomeMappingError(t *testing.T) {
	fx := newTestFlow(t)

	mapper := func(ctx context.Context, attempt int) (*UserAttributes, error) {
		return nil, nil
	}

	_, err := fx.flow.mapAttributes(context.Background(), "oidc", mapper)

	var mappingErr *MappingError
	require.ErrorAs(t, err, &mappingErr)
	assert.Contains(t, mappingErr.Message, "could not extract user attributes")
}

func TestMapAttributes_EmptyLocalpartShortCircuits(t *testing.T) {
	fx := newTestFlow(t)

	calls := 0
	mapper := func(ctx context.Context, attempt int) (*UserAttributes, error) {
		calls++
		return &UserAttributes{DisplayName: "Alice"}, nil
	}

	attrs, err := fx.flow.mapAttributes(context.Background(), "oidc", mapper)
	require.NoError(t, err)
	assert.Empty(t, attrs.Localpart)
	assert.Equal(t, "Alice", attrs.DisplayName)
	assert.Equal(t, 1, calls)
}

func TestDefaultAttributeMapper_PreferredUsername(t *testing.T) {
	mapper := DefaultAttributeMapper(&Assertion{
		PreferredUsername: "Alice",
		DisplayName:       "Alice Liddell",
		Emails:            []string{"alice@example.org"},
	})

	attrs, err := mapper(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "alice", attrs.Localpart)
	assert.Equal(t, "Alice Liddell", attrs.DisplayName)
	assert.Equal(t, []string{"alice@example.org"}, attrs.Emails)
}

func TestDefaultAttributeMapper_EmailFallback(t *testing.T) {
	mapper := DefaultAttributeMapper(&Assertion{Emails: []string{"Bob@idp.example.com"}})

	attrs, err := mapper(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "bob", attrs.Localpart)
}

func TestDefaultAttributeMapper_NumericSuffixOnRetry(t *testing.T) {
	mapper := DefaultAttributeMapper(&Assertion{PreferredUsername: "alice"})

	attrs, err := mapper(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "alice3", attrs.Localpart)
}

func TestDefaultAttributeMapper_DeclinesWithoutUsableBase(t *testing.T) {
	mapper := DefaultAttributeMapper(&Assertion{DisplayName: "无名"})

	attrs, err := mapper(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, attrs.Localpart)
}
