package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/idlink/pkg/sso"
)

// ProviderCatalog is the YAML identity provider catalog. Each section
// lists providers of one protocol family.
type ProviderCatalog struct {
	OIDC   []OIDCProviderSpec   `yaml:"oidc"`
	OAuth2 []OAuth2ProviderSpec `yaml:"oauth2"`
	SAML   []SAMLProviderSpec   `yaml:"saml"`
}

// OIDCProviderSpec configures one OpenID Connect provider
type OIDCProviderSpec struct {
	ID           string   `yaml:"id"`
	DisplayName  string   `yaml:"display_name"`
	IssuerURL    string   `yaml:"issuer_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`

	SubjectClaim  string `yaml:"subject_claim"`
	UsernameClaim string `yaml:"username_claim"`
	NameClaim     string `yaml:"name_claim"`
	EmailClaim    string `yaml:"email_claim"`
}

// OAuth2ProviderSpec configures one plain OAuth2 provider
type OAuth2ProviderSpec struct {
	ID           string   `yaml:"id"`
	DisplayName  string   `yaml:"display_name"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	UserInfoURL  string   `yaml:"userinfo_url"`
	Scopes       []string `yaml:"scopes"`

	SubjectAttribute  string `yaml:"subject_attribute"`
	UsernameAttribute string `yaml:"username_attribute"`
	NameAttribute     string `yaml:"name_attribute"`
	EmailAttribute    string `yaml:"email_attribute"`
}

// SAMLProviderSpec configures one SAML identity provider. Certificate
// may be given inline as PEM or via a file path.
type SAMLProviderSpec struct {
	ID              string `yaml:"id"`
	DisplayName     string `yaml:"display_name"`
	EntityID        string `yaml:"entity_id"`
	SSOURL          string `yaml:"sso_url"`
	Certificate     string `yaml:"certificate"`
	CertificateFile string `yaml:"certificate_file"`
	SPEntityID      string `yaml:"sp_entity_id"`
	AudienceURI     string `yaml:"audience_uri"`
	NameIDFormat    string `yaml:"name_id_format"`

	// Optional SP signing material; AuthnRequests are signed when a
	// private key is configured.
	SPPrivateKey      string `yaml:"sp_private_key"`
	SPPrivateKeyFile  string `yaml:"sp_private_key_file"`
	SPCertificate     string `yaml:"sp_certificate"`
	SPCertificateFile string `yaml:"sp_certificate_file"`

	SubjectAttribute  string `yaml:"subject_attribute"`
	UsernameAttribute string `yaml:"username_attribute"`
	NameAttribute     string `yaml:"name_attribute"`
	EmailAttribute    string `yaml:"email_attribute"`
}

// LoadProviderCatalog reads and parses the provider catalog YAML file
func LoadProviderCatalog(path string) (*ProviderCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading provider catalog %s: %w", path, err)
	}

	return ParseProviderCatalog(data)
}

// ParseProviderCatalog parses provider catalog YAML
func ParseProviderCatalog(data []byte) (*ProviderCatalog, error) {
	var catalog ProviderCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parsing provider catalog: %w", err)
	}
	return &catalog, nil
}

// BuildRegistry constructs the identity provider registry from the
// catalog. Callback URLs are derived from publicBaseURL. OIDC issuer
// discovery runs against the network, so the context should carry a
// timeout.
func (c *ProviderCatalog) BuildRegistry(ctx context.Context, publicBaseURL string) (*sso.Registry, error) {
	registry := sso.NewRegistry()

	for _, spec := range c.OIDC {
		provider, err := sso.NewOIDCProvider(ctx, sso.OIDCProviderConfig{
			ID:            spec.ID,
			DisplayName:   spec.DisplayName,
			IssuerURL:     spec.IssuerURL,
			ClientID:      spec.ClientID,
			ClientSecret:  spec.ClientSecret,
			RedirectURL:   callbackURL(publicBaseURL, spec.ID),
			Scopes:        spec.Scopes,
			SubjectClaim:  spec.SubjectClaim,
			UsernameClaim: spec.UsernameClaim,
			NameClaim:     spec.NameClaim,
			EmailClaim:    spec.EmailClaim,
		})
		if err != nil {
			return nil, fmt.Errorf("configuring OIDC provider %q: %w", spec.ID, err)
		}
		if err := registry.Register(provider); err != nil {
			return nil, err
		}
	}

	for _, spec := range c.OAuth2 {
		provider, err := sso.NewOAuth2Provider(sso.OAuth2ProviderConfig{
			ID:                spec.ID,
			DisplayName:       spec.DisplayName,
			ClientID:          spec.ClientID,
			ClientSecret:      spec.ClientSecret,
			AuthURL:           spec.AuthURL,
			TokenURL:          spec.TokenURL,
			UserInfoURL:       spec.UserInfoURL,
			RedirectURL:       callbackURL(publicBaseURL, spec.ID),
			Scopes:            spec.Scopes,
			SubjectAttribute:  spec.SubjectAttribute,
			UsernameAttribute: spec.UsernameAttribute,
			NameAttribute:     spec.NameAttribute,
			EmailAttribute:    spec.EmailAttribute,
		})
		if err != nil {
			return nil, fmt.Errorf("configuring OAuth2 provider %q: %w", spec.ID, err)
		}
		if err := registry.Register(provider); err != nil {
			return nil, err
		}
	}

	for _, spec := range c.SAML {
		certPEM, err := inlineOrFile(spec.Certificate, spec.CertificateFile)
		if err != nil {
			return nil, fmt.Errorf("reading certificate for SAML provider %q: %w", spec.ID, err)
		}
		spKeyPEM, err := inlineOrFile(spec.SPPrivateKey, spec.SPPrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading SP private key for SAML provider %q: %w", spec.ID, err)
		}
		spCertPEM, err := inlineOrFile(spec.SPCertificate, spec.SPCertificateFile)
		if err != nil {
			return nil, fmt.Errorf("reading SP certificate for SAML provider %q: %w", spec.ID, err)
		}

		provider, err := sso.NewSAMLProvider(sso.SAMLProviderConfig{
			ID:                spec.ID,
			DisplayName:       spec.DisplayName,
			EntityID:          spec.EntityID,
			SSOURL:            spec.SSOURL,
			CertificatePEM:    certPEM,
			SPEntityID:        spec.SPEntityID,
			CallbackURL:       callbackURL(publicBaseURL, spec.ID),
			AudienceURI:       spec.AudienceURI,
			NameIDFormat:      spec.NameIDFormat,
			SPPrivateKeyPEM:   spKeyPEM,
			SPCertificatePEM:  spCertPEM,
			SubjectAttribute:  spec.SubjectAttribute,
			UsernameAttribute: spec.UsernameAttribute,
			NameAttribute:     spec.NameAttribute,
			EmailAttribute:    spec.EmailAttribute,
		})
		if err != nil {
			return nil, fmt.Errorf("configuring SAML provider %q: %w", spec.ID, err)
		}
		if err := registry.Register(provider); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// inlineOrFile returns the inline PEM when set, otherwise the file's
// contents, otherwise "".
func inlineOrFile(inline, path string) (string, error) {
	if inline != "" || path == "" {
		return inline, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func callbackURL(publicBaseURL, providerID string) string {
	return fmt.Sprintf("%s/sso/callback/%s", strings.TrimSuffix(publicBaseURL, "/"), providerID)
}
