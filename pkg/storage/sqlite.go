package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a single-node Store backed by SQLite. Useful for small
// deployments that want durability without running a database server.
type SQLiteStore struct {
	db     *sql.DB
	domain string
}

// NewSQLiteStore opens (creating if necessary) the database at path and
// ensures the schema exists. domain qualifies localparts into full user ids.
func NewSQLiteStore(path, domain string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// churn under concurrent registrations.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, domain: domain}
	if err := store.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id      TEXT PRIMARY KEY,
		localpart    TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		user_agent   TEXT NOT NULL DEFAULT '',
		ip_address   TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
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
		created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (provider_id, external_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sso_login_audit (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id     TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		external_id TEXT NOT NULL,
		user_agent  TEXT NOT NULL DEFAULT '',
		ip_address  TEXT NOT NULL DEFAULT '',
		logged_in_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

// CreateAccount registers an account. A unique violation on the localpart
// index maps to ErrLocalpartTaken.
func (s *SQLiteStore) CreateAccount(ctx context.Context, localpart, displayName string, emails []string, userAgent, ipAddress string) (string, error) {
	userID := "@" + localpart + ":" + s.domain

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (user_id, localpart, display_name, user_agent, ip_address)
		 VALUES (?, ?, ?, ?, ?)`,
		userID, localpart, displayName, userAgent, ipAddress)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return "", ErrLocalpartTaken
		}
		return "", fmt.Errorf("inserting user %q: %w", userID, err)
	}

	for _, email := range emails {
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO user_emails (user_id, email) VALUES (?, ?)`,
			userID, email)
		if err != nil {
			return "", fmt.Errorf("inserting email for %q: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing account creation: %w", err)
	}
	return userID, nil
}

// LookupExternalID resolves an external identity to a local user id.
func (s *SQLiteStore) LookupExternalID(ctx context.Context, providerID, externalID string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM user_external_ids WHERE provider_id = ? AND external_id = ?`,
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
func (s *SQLiteStore) RecordExternalID(ctx context.Context, providerID, externalID, localUserID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_external_ids (provider_id, external_id, user_id)
		 VALUES (?, ?, ?)
		 ON CONFLICT (provider_id, external_id) DO UPDATE SET user_id = excluded.user_id`,
		providerID, externalID, localUserID)
	if err != nil {
		return fmt.Errorf("recording external id link: %w", err)
	}
	return nil
}

// IsLocalIDTaken reports whether a full user id is registered, ignoring case.
func (s *SQLiteStore) IsLocalIDTaken(ctx context.Context, localUserID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE lower(user_id) = lower(?))`,
		localUserID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking user id: %w", err)
	}
	return exists, nil
}

// RecordLoginAudit appends one login audit row.
func (s *SQLiteStore) RecordLoginAudit(ctx context.Context, entry LoginAuditEntry) error {
	at := entry.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sso_login_audit (user_id, provider_id, external_id, user_agent, ip_address, logged_in_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.UserID, entry.ProviderID, entry.ExternalID, entry.UserAgent, entry.IPAddress, at)
	if err != nil {
		return fmt.Errorf("recording login audit: %w", err)
	}
	return nil
}

// CountAccounts returns the number of registered accounts.
func (s *SQLiteStore) CountAccounts(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting accounts: %w", err)
	}
	return count, nil
}

// CountExternalIDs returns the number of external identity links.
func (s *SQLiteStore) CountExternalIDs(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM user_external_ids`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting external ids: %w", err)
	}
	return count, nil
}

// HealthCheck pings the database.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for connection gauges.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// isSQLiteUniqueViolation reports whether err is a unique constraint
// violation.
func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
