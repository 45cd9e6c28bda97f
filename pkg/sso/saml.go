package sso

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"

	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"
)

// SAMLProviderConfig configures a SAML 2.0 identity provider.
type SAMLProviderConfig struct {
	ID          string
	DisplayName string

	// IdP metadata.
	EntityID       string
	SSOURL         string
	CertificatePEM string

	// Service provider identity.
	SPEntityID  string
	CallbackURL string
	AudienceURI string

	// Optional SP signing material. When a private key is set, outgoing
	// AuthnRequests are signed with it.
	SPPrivateKeyPEM  string
	SPCertificatePEM string

	NameIDFormat string

	// Attribute names looked up in the assertion. SubjectAttribute falls
	// back to the NameID when empty or absent.
	SubjectAttribute  string
	UsernameAttribute string
	NameAttribute     string
	EmailAttribute    string
}

// Validate checks the configuration fields that cannot be defaulted.
func (c *SAMLProviderConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("provider id is required")
	}
	if c.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if c.SSOURL == "" {
		return fmt.Errorf("sso_url is required")
	}
	if c.CertificatePEM == "" {
		return fmt.Errorf("certificate is required")
	}
	if c.SPEntityID == "" {
		return fmt.Errorf("sp_entity_id is required")
	}
	if c.CallbackURL == "" {
		return fmt.Errorf("callback_url is required")
	}
	if c.SPCertificatePEM != "" && c.SPPrivateKeyPEM == "" {
		return fmt.Errorf("sp_certificate requires sp_private_key")
	}
	return nil
}

// SAMLProvider implements IdentityProvider on SAML 2.0 with the HTTP-POST
// binding for assertions.
type SAMLProvider struct {
	cfg SAMLProviderConfig
	sp  *saml2.SAMLServiceProvider
}

// NewSAMLProvider parses the IdP signing certificate and builds a SAML
// identity provider.
func NewSAMLProvider(cfg SAMLProviderConfig) (*SAMLProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SAML provider %q: %w", cfg.ID, err)
	}

	certBlock, _ := pem.Decode([]byte(cfg.CertificatePEM))
	if certBlock == nil {
		return nil, fmt.Errorf("invalid SAML provider %q: decoding certificate PEM", cfg.ID)
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("invalid SAML provider %q: parsing certificate: %w", cfg.ID, err)
	}

	if cfg.AudienceURI == "" {
		cfg.AudienceURI = cfg.SPEntityID
	}
	if cfg.UsernameAttribute == "" {
		cfg.UsernameAttribute = "uid"
	}
	if cfg.NameAttribute == "" {
		cfg.NameAttribute = "displayName"
	}
	if cfg.EmailAttribute == "" {
		cfg.EmailAttribute = "email"
	}

	keyStore, err := samlSPKeyStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid SAML provider %q: %w", cfg.ID, err)
	}

	sp := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL: cfg.SSOURL,
		IdentityProviderIssuer: cfg.EntityID,
		ServiceProviderIssuer:  cfg.SPEntityID,

		AssertionConsumerServiceURL: cfg.CallbackURL,
		AudienceURI:                 cfg.AudienceURI,
		IDPCertificateStore: &dsig.MemoryX509CertificateStore{
			Roots: []*x509.Certificate{cert},
		},
		SignAuthnRequests: keyStore != nil,
		SPKeyStore:        keyStore,
	}
	if cfg.NameIDFormat != "" {
		sp.NameIdFormat = cfg.NameIDFormat
	}

	return &SAMLProvider{cfg: cfg, sp: sp}, nil
}

// samlSPKeyStore parses the SP private key (PKCS1 or PKCS8) into a signing
// keystore. It returns nil when no key is configured.
func samlSPKeyStore(cfg SAMLProviderConfig) (dsig.X509KeyStore, error) {
	if cfg.SPPrivateKeyPEM == "" {
		return nil, nil
	}

	keyBlock, _ := pem.Decode([]byte(cfg.SPPrivateKeyPEM))
	if keyBlock == nil {
		return nil, fmt.Errorf("decoding SP private key PEM")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		pkcs8Key, pkcs8Err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
		if pkcs8Err != nil {
			return nil, fmt.Errorf("parsing SP private key: %w", pkcs8Err)
		}
		rsaKey, ok := pkcs8Key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("SP private key is not RSA")
		}
		privateKey = rsaKey
	}

	var chain [][]byte
	if cfg.SPCertificatePEM != "" {
		certBlock, _ := pem.Decode([]byte(cfg.SPCertificatePEM))
		if certBlock == nil {
			return nil, fmt.Errorf("decoding SP certificate PEM")
		}
		chain = append(chain, certBlock.Bytes)
	}

	return &dsig.TLSCertKeyStore{
		PrivateKey:  privateKey,
		Certificate: chain,
	}, nil
}

// ID returns the provider id.
func (p *SAMLProvider) ID() string {
	return p.cfg.ID
}

// DisplayName returns the user-facing provider name.
func (p *SAMLProvider) DisplayName() string {
	return p.cfg.DisplayName
}

// BeginAuth returns the IdP SSO URL carrying the AuthnRequest. The client
// redirect target travels in the RelayState.
func (p *SAMLProvider) BeginAuth(r *http.Request, clientRedirectURL string) (string, error) {
	relayState, err := encodeRelayState(clientRedirectURL)
	if err != nil {
		return "", err
	}
	authURL, err := p.sp.BuildAuthURL(relayState)
	if err != nil {
		return "", fmt.Errorf("building SAML auth URL: %w", err)
	}
	return authURL, nil
}

// CompleteAuth validates the posted SAMLResponse and builds the identity
// assertion.
func (p *SAMLProvider) CompleteAuth(r *http.Request) (*Assertion, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("parsing SAML callback form: %w", err)
	}
	samlResponse := r.FormValue("SAMLResponse")
	if samlResponse == "" {
		return nil, fmt.Errorf("missing SAMLResponse parameter")
	}
	clientRedirectURL, err := decodeRelayState(r.FormValue("RelayState"))
	if err != nil {
		return nil, err
	}

	info, err := p.sp.RetrieveAssertionInfo(samlResponse)
	if err != nil {
		return nil, fmt.Errorf("validating SAML assertion: %w", err)
	}
	if info.WarningInfo != nil {
		if info.WarningInfo.InvalidTime {
			return nil, fmt.Errorf("SAML assertion outside its validity window")
		}
		if info.WarningInfo.NotInAudience {
			return nil, fmt.Errorf("SAML assertion not addressed to this service")
		}
	}

	claims := make(map[string]interface{}, len(info.Values))
	for name, attr := range info.Values {
		if len(attr.Values) == 1 {
			claims[name] = attr.Values[0].Value
			continue
		}
		values := make([]string, 0, len(attr.Values))
		for _, v := range attr.Values {
			values = append(values, v.Value)
		}
		claims[name] = values
	}

	assertion := &Assertion{
		RemoteUserID:      info.NameID,
		PreferredUsername: samlAttribute(info, p.cfg.UsernameAttribute),
		DisplayName:       samlAttribute(info, p.cfg.NameAttribute),
		Claims:            claims,
		ClientRedirectURL: clientRedirectURL,
	}
	if p.cfg.SubjectAttribute != "" {
		if subject := samlAttribute(info, p.cfg.SubjectAttribute); subject != "" {
			assertion.RemoteUserID = subject
		}
	}
	if email := samlAttribute(info, p.cfg.EmailAttribute); email != "" {
		assertion.Emails = []string{email}
	}

	if assertion.RemoteUserID == "" {
		return nil, fmt.Errorf("missing NameID in SAML assertion")
	}
	return assertion, nil
}

// samlAttribute extracts the first value of an assertion attribute.
func samlAttribute(info *saml2.AssertionInfo, name string) string {
	attr, ok := info.Values[name]
	if !ok || len(attr.Values) == 0 {
		return ""
	}
	return attr.Values[0].Value
}
