package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/idlink/pkg/observability"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("IDLINK_SERVER_DOMAIN", "example.org")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "example.org", cfg.Identity.ServerDomain)
	assert.Equal(t, "http://localhost:8080", cfg.Identity.PublicBaseURL)
	assert.Equal(t, "providers.yaml", cfg.Identity.ProvidersFile)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.False(t, cfg.Observability.OTelEnabled)
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("IDLINK_SERVER_DOMAIN", "example.org")
	t.Setenv("IDLINK_PORT", "9999")
	t.Setenv("IDLINK_STORAGE_TYPE", "postgres")
	t.Setenv("IDLINK_POSTGRES_URL", "postgres://localhost/idlink")
	t.Setenv("IDLINK_POSTGRES_MAX_CONNS", "50")
	t.Setenv("IDLINK_REDIS_ENABLED", "true")
	t.Setenv("IDLINK_LOG_LEVEL", "debug")
	t.Setenv("IDLINK_READ_TIMEOUT", "5s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, 50, cfg.Storage.PostgresMaxConns)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
}

func TestLoadConfig_MissingServerDomain(t *testing.T) {
	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server domain")
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:       "8080",
			HealthPort: "9090",
		},
		Identity: IdentityConfig{
			ServerDomain:  "example.org",
			PublicBaseURL: "https://id.example.org",
		},
		Storage: StorageConfig{
			Type:       "sqlite",
			SQLitePath: "idlink.db",
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing port",
			mutate:  func(c *Config) { c.Server.Port = "" },
			wantErr: "server port",
		},
		{
			name:    "port collision",
			mutate:  func(c *Config) { c.Server.HealthPort = "8080" },
			wantErr: "must be different",
		},
		{
			name:    "missing domain",
			mutate:  func(c *Config) { c.Identity.ServerDomain = "" },
			wantErr: "server domain",
		},
		{
			name:    "unknown storage type",
			mutate:  func(c *Config) { c.Storage.Type = "cassandra" },
			wantErr: "invalid storage type",
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.Storage.SQLitePath = "" },
			wantErr: "sqlite path",
		},
		{
			name: "postgres without URL",
			mutate: func(c *Config) {
				c.Storage.Type = "postgres"
				c.Storage.PostgresURL = ""
			},
			wantErr: "postgres URL",
		},
		{
			name:   "memory needs nothing",
			mutate: func(c *Config) { c.Storage.Type = "memory" },
		},
		{
			name: "otel enabled without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelServiceName = "idlink"
			},
			wantErr: "OpenTelemetry endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestStorageConfig_PostgresConfig(t *testing.T) {
	sc := StorageConfig{
		PostgresURL:      "postgres://localhost/idlink",
		PostgresMaxConns: 30,
		PostgresTimeout:  3 * time.Second,
	}

	pc := sc.PostgresConfig()
	assert.Equal(t, "postgres://localhost/idlink", pc.URL)
	assert.Equal(t, 30, pc.MaxConns)
	assert.Equal(t, 3*time.Second, pc.Timeout)
	// Unset fields keep pool defaults
	assert.Equal(t, 2, pc.MinConns)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, observability.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, observability.InfoLevel, parseLogLevel("info"))
	assert.Equal(t, observability.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, observability.ErrorLevel, parseLogLevel("ERROR"))
	assert.Equal(t, observability.InfoLevel, parseLogLevel("verbose"))
}
