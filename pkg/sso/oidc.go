package sso

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCProviderConfig configures an OpenID Connect identity provider.
type OIDCProviderConfig struct {
	ID           string
	DisplayName  string
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// Claim names used to build the assertion. Sensible defaults apply when
	// empty: "sub", "preferred_username", "name", "email".
	SubjectClaim  string
	UsernameClaim string
	NameClaim     string
	EmailClaim    string
}

// Validate checks the configuration for the fields discovery cannot supply.
func (c *OIDCProviderConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("provider id is required")
	}
	if c.IssuerURL == "" {
		return fmt.Errorf("issuer_url is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client_secret is required")
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("redirect_url is required")
	}
	for _, scope := range c.Scopes {
		if scope == oidc.ScopeOpenID {
			return nil
		}
	}
	return fmt.Errorf("%q scope is required for OIDC", oidc.ScopeOpenID)
}

// OIDCProvider implements IdentityProvider on OpenID Connect.
type OIDCProvider struct {
	cfg          OIDCProviderConfig
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewOIDCProvider discovers the issuer and builds an OIDC identity provider.
func NewOIDCProvider(ctx context.Context, cfg OIDCProviderConfig) (*OIDCProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid OIDC provider %q: %w", cfg.ID, err)
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering OIDC issuer %q: %w", cfg.IssuerURL, err)
	}

	if cfg.SubjectClaim == "" {
		cfg.SubjectClaim = "sub"
	}
	if cfg.UsernameClaim == "" {
		cfg.UsernameClaim = "preferred_username"
	}
	if cfg.NameClaim == "" {
		cfg.NameClaim = "name"
	}
	if cfg.EmailClaim == "" {
		cfg.EmailClaim = "email"
	}

	return &OIDCProvider{
		cfg:      cfg,
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
		},
	}, nil
}

// ID returns the provider id.
func (p *OIDCProvider) ID() string {
	return p.cfg.ID
}

// DisplayName returns the user-facing provider name.
func (p *OIDCProvider) DisplayName() string {
	return p.cfg.DisplayName
}

// BeginAuth returns the authorization endpoint URL to redirect the browser
// to. The client redirect target travels inside the state parameter.
func (p *OIDCProvider) BeginAuth(r *http.Request, clientRedirectURL string) (string, error) {
	state, err := encodeRelayState(clientRedirectURL)
	if err != nil {
		return "", err
	}
	return p.oauth2Config.AuthCodeURL(state), nil
}

// CompleteAuth exchanges the authorization code, verifies the ID token, and
// builds the identity assertion.
func (p *OIDCProvider) CompleteAuth(r *http.Request) (*Assertion, error) {
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

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("missing id_token in token response")
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verifying ID token: %w", err)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parsing ID token claims: %w", err)
	}

	assertion := &Assertion{
		RemoteUserID:      claimString(claims, p.cfg.SubjectClaim),
		PreferredUsername: claimString(claims, p.cfg.UsernameClaim),
		DisplayName:       claimString(claims, p.cfg.NameClaim),
		Claims:            claims,
		ClientRedirectURL: clientRedirectURL,
	}
	if assertion.RemoteUserID == "" {
		assertion.RemoteUserID = idToken.Subject
	}
	if email := claimString(claims, p.cfg.EmailClaim); email != "" {
		assertion.Emails = []string{email}
	}

	if assertion.RemoteUserID == "" {
		return nil, fmt.Errorf("missing subject in ID token")
	}
	return assertion, nil
}

// claimString extracts a string claim, returning "" for absent or non-string
// values.
func claimString(claims map[string]interface{}, name string) string {
	if v, ok := claims[name].(string); ok {
		return v
	}
	return ""
}
