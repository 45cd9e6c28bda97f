package sso

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// relayState is the value threaded through a provider's authentication round
// trip as the OAuth2 state / SAML RelayState parameter. It carries the client
// redirect target so that providers need no server-side state of their own,
// plus a nonce so two round trips never share a state value.
type relayState struct {
	Nonce       string `json:"n"`
	RedirectURL string `json:"u"`
}

// encodeRelayState packs a client redirect target into an opaque state value.
func encodeRelayState(clientRedirectURL string) (string, error) {
	raw, err := json.Marshal(relayState{
		Nonce:       uuid.NewString(),
		RedirectURL: clientRedirectURL,
	})
	if err != nil {
		return "", fmt.Errorf("encoding relay state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// decodeRelayState recovers the client redirect target from a state value.
func decodeRelayState(state string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(state)
	if err != nil {
		return "", fmt.Errorf("decoding relay state: %w", err)
	}
	var rs relayState
	if err := json.Unmarshal(raw, &rs); err != nil {
		return "", fmt.Errorf("decoding relay state: %w", err)
	}
	return rs.RedirectURL, nil
}
