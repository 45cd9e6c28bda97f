package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/idlink/pkg/observability"
	"github.com/platinummonkey/idlink/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Identity configuration
	Identity IdentityConfig

	// Storage configuration
	Storage StorageConfig

	// Redis configuration (distributed rate limiting)
	Redis RedisConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// IdentityConfig holds the identity namespace settings
type IdentityConfig struct {
	// ServerDomain is the domain half of every user ID this service
	// hands out, e.g. "example.org" in "@alice:example.org".
	ServerDomain string

	// PublicBaseURL is the externally reachable base URL, used to build
	// provider callback URLs.
	PublicBaseURL string

	// ProvidersFile is the path to the YAML identity provider catalog.
	ProvidersFile string
}

// StorageConfig holds account store settings
type StorageConfig struct {
	// Type selects the backend: "memory", "sqlite" or "postgres"
	Type string

	// SQLitePath is the database file path for the sqlite backend
	SQLitePath string

	// Postgres connection settings for the postgres backend
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration
}

// RedisConfig holds Redis settings
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Identity:      loadIdentityConfig(),
		Storage:       loadStorageConfig(),
		Redis:         loadRedisConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("IDLINK_HOST", "0.0.0.0"),
		Port:            getEnv("IDLINK_PORT", "8080"),
		ReadTimeout:     getEnvDuration("IDLINK_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("IDLINK_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("IDLINK_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("IDLINK_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("IDLINK_HEALTH_PORT", "9090"),
	}
}

// loadIdentityConfig loads identity configuration from environment
func loadIdentityConfig() IdentityConfig {
	return IdentityConfig{
		ServerDomain:  getEnv("IDLINK_SERVER_DOMAIN", ""),
		PublicBaseURL: getEnv("IDLINK_PUBLIC_BASE_URL", "http://localhost:8080"),
		ProvidersFile: getEnv("IDLINK_PROVIDERS_FILE", "providers.yaml"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Type:             getEnv("IDLINK_STORAGE_TYPE", "sqlite"),
		SQLitePath:       getEnv("IDLINK_SQLITE_PATH", "idlink.db"),
		PostgresURL:      getEnv("IDLINK_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("IDLINK_POSTGRES_MAX_CONNS", 20),
		PostgresMinConns: getEnvInt("IDLINK_POSTGRES_MIN_CONNS", 2),
		PostgresTimeout:  getEnvDuration("IDLINK_POSTGRES_TIMEOUT", 10*time.Second),
	}
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:  getEnvBool("IDLINK_REDIS_ENABLED", false),
		Addr:     getEnv("IDLINK_REDIS_ADDR", "localhost:6379"),
		Password: getEnv("IDLINK_REDIS_PASSWORD", ""),
		DB:       getEnvInt("IDLINK_REDIS_DB", 0),
		PoolSize: getEnvInt("IDLINK_REDIS_POOL_SIZE", 10),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("IDLINK_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("IDLINK_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("IDLINK_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("IDLINK_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("IDLINK_OTEL_SERVICE_NAME", "idlink"),
		OTelServiceVersion: getEnv("IDLINK_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("IDLINK_OTEL_INSECURE", true),
	}
}

// PostgresConfig builds the connection pool configuration for the
// postgres backend.
func (c *StorageConfig) PostgresConfig() storage.PostgresConfig {
	cfg := storage.DefaultPostgresConfig(c.PostgresURL)
	if c.PostgresMaxConns > 0 {
		cfg.MaxConns = c.PostgresMaxConns
	}
	if c.PostgresMinConns > 0 {
		cfg.MinConns = c.PostgresMinConns
	}
	if c.PostgresTimeout > 0 {
		cfg.Timeout = c.PostgresTimeout
	}
	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate identity config
	if c.Identity.ServerDomain == "" {
		return fmt.Errorf("server domain is required")
	}
	if c.Identity.PublicBaseURL == "" {
		return fmt.Errorf("public base URL is required")
	}

	// Validate storage config based on type
	switch c.Storage.Type {
	case "memory":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite storage")
		}
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory, sqlite, or postgres)", c.Storage.Type)
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
