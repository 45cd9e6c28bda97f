package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// DefaultPostgresConfig returns a connection pool configuration suitable for
// a single service instance.
func DefaultPostgresConfig(url string) PostgresConfig {
	return PostgresConfig{
		URL:         url,
		MaxConns:    20,
		MinConns:    2,
		Timeout:     10 * time.Second,
		MaxLifetime: time.Hour,
		MaxIdleTime: 10 * time.Minute,
	}
}

// PostgresStore is the production Store backed by PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	domain string
}

// NewPostgresStore opens a connection pool, verifies connectivity, and
// ensures the schema exists. domain qualifies localparts into full user ids.
func NewPostgresStore(config PostgresConfig, domain string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.URL)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConns)
	db.SetMaxIdleConns(config.MinConns)
	db.SetConnMaxLifetime(config.MaxLifetime)
	db.SetConnMaxIdleTime(config.MaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	store := &PostgresStore{db: db, domain: domain}
	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB wraps an existing connection, without schema
// bootstrap. Intended for tests.
func NewPostgresStoreWithDB(db *sql.DB, domain string) *PostgresStore {
	return &PostgresStore{db: db, domain: domain}
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id      TEXT PRIMARY KEY,
		localpart    TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		user_agent   TEXT NOT NULL DEFAULT '',
		ip_address   TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_localpart_lower_idx
		ON users (lower(localpart))`,
	`CREATE TABLE IF NOT EXISTS user_emails (
		user_id TEXT NOT NULL REFERENCES users(user_id),
		email   TEXT NOT NULL,
		PRIMARY KEY (user_id, email)
	)`,
	`CREATE TABLE IF NOT EXISTS user_external_ids (
		provider_id TEXT NOT NULL,
		external_id TEXT NOT NULL,
		user_id     TEXT NOT NULL REFERENCES users(user_id),
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (provider_id, external_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sso_login_audit (
		id          BIGSERIAL PRIMARY KEY,
		user_id     TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		external_id TEXT NOT NULL,
		user_agent  TEXT NOT NULL DEFAULT '',
		ip_address  TEXT NOT NULL DEFAULT '',
		logged_in_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

// CreateAccount registers an account in a single transaction. A unique
// violation on the localpart index maps to ErrLocalpartTaken.
func (s *PostgresStore) CreateAccount(ctx context.Context, localpart, displayName string, emails []string, userAgent, ipAddress string) (string, error) {
	userID := "@" + localpart + ":" + s.domain

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (user_id, localpart, display_name, user_agent, ip_address)
		 VALUES ($1, $2, $3, $4, $5)`,
		userID, localpart, displayName, userAgent, ipAddress)
	if err != nil {
		if isPostgresUniqueViolation(err) {
			return "", ErrLocalpartTaken
		}
		return "", fmt.Errorf("inserting user %q: %w", userID, err)
	}

	for _, email := range emails {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO user_emails (user_id, email) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			userID, email)
		if err != nil {
			return "", fmt.Errorf("inserting email for %q: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isPostgresUniqueViolation(err) {
			return "", ErrLocalpartTaken
		}
		return "", fmt.Errorf("committing account creation: %w", err)
	}
	return userID, nil
}

// LookupExternalID resolves an external identity to a local user id.
func (s *PostgresStore) LookupExternalID(ctx context.Context, providerID, externalID string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM user_external_ids WHERE provider_id = $1 AND external_id = $2`,
		providerID, externalID).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("looking up external id: %w", err)
	}
	return userID, nil
}

// RecordExternalID links an external identity to a local user id.
func (s *PostgresStore) RecordExternalID(ctx context.Context, providerID, externalID, localUserID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_external_ids (provider_id, external_id, user_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (provider_id, external_id) DO UPDATE SET user_id = EXCLUDED.user_id`,
		providerID, externalID, localUserID)
	if err != nil {
		return fmt.Errorf("recording external id link: %w", err)
	}
	return nil
}

// IsLocalIDTaken reports whether a full user id is registered, ignoring case.
func (s *PostgresStore) IsLocalIDTaken(ctx context.Context, localUserID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE lower(user_id) = lower($1))`,
		localUserID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking user id: %w", err)
	}
	return exists, nil
}

// RecordLoginAudit appends one login audit row.
func (s *PostgresStore) RecordLoginAudit(ctx context.Context, entry LoginAuditEntry) error {
	at := entry.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sso_login_audit (user_id, provider_id, external_id, user_agent, ip_address, logged_in_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.UserID, entry.ProviderID, entry.ExternalID, entry.UserAgent, entry.IPAddress, at)
	if err != nil {
		return fmt.Errorf("recording login audit: %w", err)
	}
	return nil
}

// CountAccounts returns the number of registered accounts.
func (s *PostgresStore) CountAccounts(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting accounts: %w", err)
	}
	return count, nil
}

// CountExternalIDs returns the number of external identity links.
func (s *PostgresStore) CountExternalIDs(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM user_external_ids`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting external ids: %w", err)
	}
	return count, nil
}

// HealthCheck pings the database.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying pool for connection gauges.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// isPostgresUniqueViolation reports whether err is a unique constraint
// violation (SQLSTATE 23505).
func isPostgresUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
