// Package store wraps the Postgres pool backing the clients and config_kv
// tables, and owns schema creation for both.
package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store holds the pgx connection pool used by keymanager and configstore.
type Store struct {
	Pool *pgxpool.Pool
}

// New opens a pool against databaseURL and ensures the gateway's own
// schema exists.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	s := &Store{Pool: pool}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS clients (
			client_id         TEXT PRIMARY KEY,
			hashed_secret     TEXT NOT NULL,
			encrypted_secret  TEXT,
			client_type       TEXT NOT NULL DEFAULT 'api_user',
			tenant_code       TEXT NOT NULL DEFAULT '',
			allowed_actions   TEXT NOT NULL DEFAULT '',
			fingerprint       TEXT NOT NULL DEFAULT '',
			created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_used_at      TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_client_type ON clients(client_type)`,
		`CREATE INDEX IF NOT EXISTS idx_client_tenant ON clients(tenant_code)`,
		`CREATE TABLE IF NOT EXISTS config_kv (
			key            TEXT NOT NULL,
			tenant_code    TEXT NOT NULL DEFAULT '',
			value          TEXT NOT NULL,
			encrypted_flag BOOLEAN NOT NULL DEFAULT false,
			PRIMARY KEY (key, tenant_code)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_config_key_tenant ON config_kv(key, tenant_code)`,
		`CREATE TABLE IF NOT EXISTS fingerprint_events (
			id           BIGSERIAL PRIMARY KEY,
			fingerprint  TEXT NOT NULL,
			username     TEXT NOT NULL,
			tenant_code  TEXT NOT NULL DEFAULT '',
			action       TEXT NOT NULL,
			occurred_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			details      TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fingerprint_events_fp ON fingerprint_events(fingerprint)`,
	}

	for _, stmt := range stmts {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.Pool.Close()
}
