// Package config provides application configuration management.
//
// # Overview
//
// Core settings load from environment variables with sensible defaults.
// The identity provider catalog is a separate YAML file because provider
// entries are structured and repeated, which environment variables
// express poorly.
//
// # Configuration Structure
//
// Server settings:
//
//	IDLINK_HOST="0.0.0.0"
//	IDLINK_PORT="8080"
//	IDLINK_HEALTH_PORT="9090"
//	IDLINK_READ_TIMEOUT="15s"
//	IDLINK_WRITE_TIMEOUT="15s"
//
// Identity settings:
//
//	IDLINK_SERVER_DOMAIN="example.org"
//	IDLINK_PUBLIC_BASE_URL="https://id.example.org"
//	IDLINK_PROVIDERS_FILE="providers.yaml"
//
// Storage settings:
//
//	IDLINK_STORAGE_TYPE="postgres"  # memory, sqlite, postgres
//	IDLINK_SQLITE_PATH="idlink.db"
//	IDLINK_POSTGRES_URL="postgres://localhost/idlink"
//	IDLINK_POSTGRES_MAX_CONNS="20"
//
// Redis settings (distributed rate limiting):
//
//	IDLINK_REDIS_ENABLED="true"
//	IDLINK_REDIS_ADDR="localhost:6379"
//	IDLINK_REDIS_POOL_SIZE="10"
//
// Observability settings:
//
//	IDLINK_LOG_LEVEL="info"  # debug, info, warn, error
//	IDLINK_METRICS_ENABLED="true"
//	IDLINK_OTEL_ENABLED="true"
//	IDLINK_OTEL_ENDPOINT="otel-collector:4317"
//
// # Provider Catalog
//
// providers.yaml lists the configured identity providers:
//
//	oidc:
//	  - id: corp
//	    display_name: Corp SSO
//	    issuer_url: https://login.corp.example.com
//	    client_id: idlink
//	    client_secret: hunter2
//	    scopes: [openid, profile, email]
//	saml:
//	  - id: legacy
//	    display_name: Legacy IdP
//	    entity_id: https://idp.example.com/metadata
//	    sso_url: https://idp.example.com/sso
//	    certificate_file: /etc/idlink/legacy-idp.pem
//	    sp_entity_id: https://id.example.org
//	    sp_private_key_file: /etc/idlink/sp.key
//	    sp_certificate_file: /etc/idlink/sp.pem
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	catalog, err := config.LoadProviderCatalog(cfg.Identity.ProvidersFile)
//	if err != nil {
//		log.Fatal(err)
//	}
//	registry, err := catalog.BuildRegistry(ctx, cfg.Identity.PublicBaseURL)
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/sso: Receives the built provider registry
//   - pkg/observability: Uses observability configuration
package config
