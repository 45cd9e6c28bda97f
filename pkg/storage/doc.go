// Package storage provides pluggable persistence backends for user accounts
// and external-identity links.
//
// Three backends are available:
//
//   - MemoryStore: process-local maps, for tests and development
//   - PostgresStore: production backend on database/sql with lib/pq
//   - SQLiteStore: single-node backend on mattn/go-sqlite3
//
// All backends implement AccountStore and LinkStore. Account creation and
// the uniqueness of (provider_id, external_id) links are enforced by the
// backend so that concurrent callers cannot observe a half-registered user.
// Localpart uniqueness is case-insensitive.
package storage
