package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/idlink/pkg/httputil"
	"github.com/platinummonkey/idlink/pkg/observability"
)

const (
	// TokenPrefix identifies idlink login tokens
	TokenPrefix = "idlink_"
	// TokenLength is the total length of random bytes (32 bytes = 256 bits)
	TokenLength = 32

	// TokenValidity is how long an unredeemed login token stays exchangeable.
	TokenValidity = 2 * time.Minute

	// maxPendingTokens bounds the token table; logins beyond this evict the
	// oldest unredeemed tokens first.
	maxPendingTokens = 4096
)

// loginGrant is what a redeemed token resolves to.
type loginGrant struct {
	userID string
	extra  map[string]interface{}
}

// TokenIssuer mints single-use login tokens and finishes SSO logins by
// redirecting the browser to the client with the token attached.
type TokenIssuer struct {
	tokens  *expirable.LRU[string, loginGrant]
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewTokenIssuer creates a token issuer. Tokens live in process memory; a
// restart invalidates unredeemed tokens, which only forces the affected
// users back through SSO.
func NewTokenIssuer(logger *observability.Logger, metrics *observability.Metrics) *TokenIssuer {
	return &TokenIssuer{
		tokens:  expirable.NewLRU[string, loginGrant](maxPendingTokens, nil, TokenValidity),
		logger:  logger,
		metrics: metrics,
	}
}

// newLoginToken returns an opaque token of the form idlink_<base64url>.
func newLoginToken() (string, error) {
	b := make([]byte, TokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating login token: %w", err)
	}
	return TokenPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// CompleteLogin issues a login token for userID and sends the browser to
// clientRedirectURL with the token in the loginToken query parameter. With
// no redirect target the token is returned in a JSON body instead.
func (ti *TokenIssuer) CompleteLogin(w http.ResponseWriter, r *http.Request, userID, clientRedirectURL string, extra map[string]interface{}) error {
	token, err := newLoginToken()
	if err != nil {
		return err
	}

	ti.tokens.Add(token, loginGrant{userID: userID, extra: extra})
	if ti.metrics != nil {
		ti.metrics.ActiveLoginTokens.Set(float64(ti.tokens.Len()))
	}
	ti.logger.WithField("user_id", userID).Debug("issued login token")

	if clientRedirectURL == "" {
		return httputil.WriteSuccess(w, map[string]interface{}{
			"user_id":     userID,
			"login_token": token,
		})
	}

	target, err := url.Parse(clientRedirectURL)
	if err != nil {
		return fmt.Errorf("invalid client redirect URL %q: %w", clientRedirectURL, err)
	}
	q := target.Query()
	q.Set("loginToken", token)
	target.RawQuery = q.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
	return nil
}

// ExchangeToken redeems a login token. A token resolves at most once;
// expired, unknown, and already-redeemed tokens all report false.
func (ti *TokenIssuer) ExchangeToken(token string) (string, map[string]interface{}, bool) {
	grant, ok := ti.tokens.Get(token)
	if !ok {
		return "", nil, false
	}
	// Remove returns true for exactly one caller, so concurrent redeems of
	// the same token cannot both succeed.
	if !ti.tokens.Remove(token) {
		return "", nil, false
	}
	if ti.metrics != nil {
		ti.metrics.ActiveLoginTokens.Set(float64(ti.tokens.Len()))
	}
	return grant.userID, grant.extra, true
}

// Pending returns the number of issued, unredeemed tokens.
func (ti *TokenIssuer) Pending() int {
	return ti.tokens.Len()
}

// HandleExchange is the POST /login/token endpoint: it redeems a login token
// for the user id it was issued for.
func (ti *TokenIssuer) HandleExchange(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteValidationError(w, "invalid form body")
		return
	}
	token := r.PostFormValue("token")
	if !httputil.RequireNonEmpty(w, token, "token") {
		return
	}

	userID, extra, ok := ti.ExchangeToken(token)
	if !ok {
		httputil.WriteErrorCode(w, http.StatusForbidden, "INVALID_TOKEN", "login token is invalid or expired")
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"user_id": userID,
		"extra":   extra,
	})
}
