package store

import (
	"context"
	"fmt"
	"strings"
)

// migrations is written in the subset of SQL shared by SQLite and PostgreSQL.
// Every statement is idempotent and is replayed on each start.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		frozen BOOLEAN NOT NULL DEFAULT FALSE,
		frozen_at BIGINT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS licenses (
		license_key TEXT PRIMARY KEY,
		hwid TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS license_products (
		license_key TEXT NOT NULL REFERENCES licenses(license_key) ON DELETE CASCADE,
		product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		duration BIGINT NOT NULL,
		started_at BIGINT NOT NULL,
		PRIMARY KEY (license_key, product_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_license_products_product ON license_products(product_id)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		license_key TEXT NOT NULL REFERENCES licenses(license_key) ON DELETE CASCADE,
		started BIGINT NOT NULL,
		ended BIGINT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_sessions_license ON sessions(license_key)`,

	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		banned BOOLEAN NOT NULL DEFAULT FALSE,
		license_key TEXT UNIQUE NOT NULL REFERENCES licenses(license_key),
		created_at BIGINT NOT NULL DEFAULT 0,
		updated_at BIGINT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS redemption_keys (
		key TEXT PRIMARY KEY,
		product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		duration BIGINT NOT NULL,
		created_at BIGINT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS banned_hwids (
		hwid TEXT PRIMARY KEY,
		reason TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS login_logs (
		id TEXT PRIMARY KEY,
		license_key TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		product_id TEXT NOT NULL DEFAULT '',
		hwid TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		time BIGINT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_login_logs_license ON login_logs(license_key, time)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
