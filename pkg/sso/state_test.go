package sso

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayState_RoundTrip(t *testing.T) {
	state, err := encodeRelayState("https://client.example.com/after-login?x=1")
	require.NoError(t, err)
	assert.NotEmpty(t, state)

	redirectURL, err := decodeRelayState(state)
	require.NoError(t, err)
	assert.Equal(t, "https://client.example.com/after-login?x=1", redirectURL)
}

func TestRelayState_DistinctPerRoundTrip(t *testing.T) {
	a, err := encodeRelayState("https://client.example.com")
	require.NoError(t, err)
	b, err := encodeRelayState("https://client.example.com")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestDecodeRelayState_Garbage(t *testing.T) {
	_, err := decodeRelayState("%%% not base64")
	assert.Error(t, err)

	_, err = decodeRelayState("bm90IGpzb24")
	assert.Error(t, err)
}
