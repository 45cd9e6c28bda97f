package sso

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// OAuth2ProviderConfig configures a plain OAuth2 identity provider for
// services that expose a userinfo endpoint but no OpenID Connect discovery.
type OAuth2ProviderConfig struct {
	ID           string
	DisplayName  string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	RedirectURL  string
	Scopes       []string

	// Attribute names looked up in the userinfo response. Defaults apply
	// when empty: "id", "username", "name", "email".
	SubjectAttribute  string
	UsernameAttribute string
	NameAttribute     string
	EmailAttribute    string
}

// Validate checks that the endpoints required for the code flow are set.
func (c *OAuth2ProviderConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("provider id is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client_secret is required")
	}
	if c.AuthURL == "" {
		return fmt.Errorf("auth_url is required")
	}
	if c.TokenURL == "" {
		return fmt.Errorf("token_url is required")
	}
	if c.UserInfoURL == "" {
		return fmt.Errorf("user_info_url is required")
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("redirect_url is required")
	}
	return nil
}

// OAuth2Provider implements IdentityProvider on the OAuth2 authorization
// code flow plus a userinfo fetch.
type OAuth2Provider struct {
	cfg          OAuth2ProviderConfig
	oauth2Config *oauth2.Config
}

// NewOAuth2Provider builds an OAuth2 identity provider.
func NewOAuth2Provider(cfg OAuth2ProviderConfig) (*OAuth2Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid OAuth2 provider %q: %w", cfg.ID, err)
	}

	if cfg.SubjectAttribute == "" {
		cfg.SubjectAttribute = "id"
	}
	if cfg.UsernameAttribute == "" {
		cfg.UsernameAttribute = "username"
	}
	if cfg.NameAttribute == "" {
		cfg.NameAttribute = "name"
	}
	if cfg.EmailAttribute == "" {
		cfg.EmailAttribute = "email"
	}

	return &OAuth2Provider{
		cfg: cfg,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
		},
	}, nil
}

// ID returns the provider id.
func (p *OAuth2Provider) ID() string {
	return p.cfg.ID
}

// DisplayName returns the user-facing provider name.
func (p *OAuth2Provider) DisplayName() string {
	return p.cfg.DisplayName
}

// BeginAuth returns the authorization endpoint URL to redirect the browser
// to.
func (p *OAuth2Provider) BeginAuth(r *http.Request, clientRedirectURL string) (string, error) {
	state, err := encodeRelayState(clientRedirectURL)
	if err != nil {
		return "", err
	}
	return p.oauth2Config.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// CompleteAuth exchanges the authorization code, fetches the userinfo
// document, and builds the identity assertion.
func (p *OAuth2Provider) CompleteAuth(r *http.Request) (*Assertion, error) {
	ctx := r.Context()

	code := r.URL.Query().Get("code")
	if code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}
	clientRedirectURL, err := decodeRelayState(r.URL.Query().Get("state"))
	if err != nil {
		return nil, err
	}

	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	client := p.oauth2Config.Client(ctx, token)
	resp, err := client.Get(p.cfg.UserInfoURL)
	if err != nil {
		return nil, fmt.Errorf("fetching user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("user info request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var userInfo map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return nil, fmt.Errorf("decoding user info: %w", err)
	}

	assertion := &Assertion{
		RemoteUserID:      attributeString(userInfo, p.cfg.SubjectAttribute),
		PreferredUsername: attributeString(userInfo, p.cfg.UsernameAttribute),
		DisplayName:       attributeString(userInfo, p.cfg.NameAttribute),
		Claims:            userInfo,
		ClientRedirectURL: clientRedirectURL,
	}
	if email := attributeString(userInfo, p.cfg.EmailAttribute); email != "" {
		assertion.Emails = []string{email}
	}

	if assertion.RemoteUserID == "" {
		return nil, fmt.Errorf("missing %q attribute in user info", p.cfg.SubjectAttribute)
	}
	return assertion, nil
}

// attributeString extracts an attribute from a userinfo document, rendering
// numeric subjects as their JSON text.
func attributeString(userInfo map[string]interface{}, name string) string {
	switch v := userInfo[name].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		b, _ := json.Marshal(v)
		return string(b)
	default:
		return ""
	}
}
