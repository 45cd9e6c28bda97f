package sso

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validOIDCConfig() OIDCProviderConfig {
	return OIDCProviderConfig{
		ID:           "oidc",
		DisplayName:  "Corporate OIDC",
		IssuerURL:    "https://issuer.example.com",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://idlink.example.org/sso/callback/oidc",
		Scopes:       []string{"openid", "profile", "email"},
	}
}

func TestOIDCProviderConfig_Validate(t *testing.T) {
	cfg := validOIDCConfig()
	assert.NoError(t, cfg.Validate())
}

func TestOIDCProviderConfig_Validate_MissingFields(t *testing.T) {
	for _, mutate := range []func(*OIDCProviderConfig){
		func(c *OIDCProviderConfig) { c.ID = "" },
		func(c *OIDCProviderConfig) { c.IssuerURL = "" },
		func(c *OIDCProviderConfig) { c.ClientID = "" },
		func(c *OIDCProviderConfig) { c.ClientSecret = "" },
		func(c *OIDCProviderConfig) { c.RedirectURL = "" },
	} {
		cfg := validOIDCConfig()
		mutate(&cfg)
		assert.Error(t, cfg.Validate())
	}
}

func TestOIDCProviderConfig_Validate_RequiresOpenIDScope(t *testing.T) {
	cfg := validOIDCConfig()
	cfg.Scopes = []string{"profile", "email"}

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "openid")
}

func TestClaimString(t *testing.T) {
	claims := map[string]interface{}{
		"sub":    "remote-1",
		"groups": []string{"eng"},
	}
	assert.Equal(t, "remote-1", claimString(claims, "sub"))
	assert.Empty(t, claimString(claims, "groups"))
	assert.Empty(t, claimString(claims, "absent"))
}
