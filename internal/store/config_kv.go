package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// ErrAlreadyExists is returned by AddConfig when the (key, tenant) pair
// already has a row.
var ErrAlreadyExists = errors.New("store: already exists")

type ConfigRow struct {
	Key        string
	TenantCode string
	Value      string
	Encrypted  bool
}

func (s *Store) AddConfig(ctx context.Context, row *ConfigRow) error {
	query := `
		INSERT INTO config_kv (key, tenant_code, value, encrypted_flag)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.Pool.Exec(ctx, query, row.Key, row.TenantCode, row.Value, row.Encrypted)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *Store) GetConfig(ctx context.Context, key, tenantCode string) (*ConfigRow, error) {
	query := `
		SELECT key, tenant_code, value, encrypted_flag
		FROM config_kv
		WHERE key = $1 AND tenant_code = $2
	`
	var row ConfigRow
	err := s.Pool.QueryRow(ctx, query, key, tenantCode).Scan(&row.Key, &row.TenantCode, &row.Value, &row.Encrypted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Store) UpdateConfig(ctx context.Context, row *ConfigRow) (bool, error) {
	query := `
		UPDATE config_kv
		SET value = $3, encrypted_flag = $4
		WHERE key = $1 AND tenant_code = $2
	`
	tag, err := s.Pool.Exec(ctx, query, row.Key, row.TenantCode, row.Value, row.Encrypted)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) DeleteConfig(ctx context.Context, key, tenantCode string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM config_kv WHERE key = $1 AND tenant_code = $2`, key, tenantCode)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListConfig(ctx context.Context, tenantCode string) ([]ConfigRow, error) {
	query := `
		SELECT key, tenant_code, value, encrypted_flag
		FROM config_kv
		WHERE tenant_code = $1
		ORDER BY key
	`
	rows, err := s.Pool.Query(ctx, query, tenantCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConfigRow
	for rows.Next() {
		var row ConfigRow
		if err := rows.Scan(&row.Key, &row.TenantCode, &row.Value, &row.Encrypted); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
