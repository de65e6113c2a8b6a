package config

import (
	"fmt"
	"strings"
)

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS databases (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			backend TEXT NOT NULL,
			dsn TEXT NOT NULL,
			project TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key_hash TEXT UNIQUE NOT NULL,
			key_prefix TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			rate_limit INTEGER NOT NULL DEFAULT 0,
			rate_window INTEGER NOT NULL DEFAULT 0,
			expires_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_used DATETIME
		)`,

		`CREATE TABLE IF NOT EXISTS api_key_permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			api_key_id INTEGER NOT NULL REFERENCES api_keys(id) ON DELETE CASCADE,
			database_id INTEGER NOT NULL REFERENCES databases(id) ON DELETE CASCADE,
			table_name TEXT,
			can_read INTEGER NOT NULL DEFAULT 0,
			can_create INTEGER NOT NULL DEFAULT 0,
			can_update INTEGER NOT NULL DEFAULT 0,
			can_delete INTEGER NOT NULL DEFAULT 0,
			allowed_ips TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS api_rate_limits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			api_key_id INTEGER NOT NULL,
			endpoint TEXT NOT NULL,
			request_count INTEGER NOT NULL DEFAULT 0,
			window_start DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS api_cache (
			cache_key TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			expires_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			role_id INTEGER NOT NULL REFERENCES roles(id),
			group_id INTEGER REFERENCES groups(id),
			status INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			permissions TEXT NOT NULL DEFAULT '{}'
		)`,

		`CREATE TABLE IF NOT EXISTS groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			permissions TEXT NOT NULL DEFAULT '{}'
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(key_hash)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_key_perms_scope
			ON api_key_permissions(api_key_id, database_id, IFNULL(table_name, ''))`,
		`CREATE INDEX IF NOT EXISTS idx_rate_limits_lookup
			ON api_rate_limits(api_key_id, endpoint, window_start)`,
		`CREATE INDEX IF NOT EXISTS idx_api_cache_expiry ON api_cache(expires_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// SQLite ALTER TABLE ADD COLUMN fails if column already exists;
			// treat "duplicate column" as a no-op for idempotent migrations.
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
