package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned by the lookup helpers when no row matches.
var ErrNotFound = errors.New("store: not found")

// ClientRow is the raw row shape of the clients table.
type ClientRow struct {
	ClientID        string
	HashedSecret    string
	EncryptedSecret string
	ClientType      string
	TenantCode      string
	AllowedActions  string
	Fingerprint     string
	CreatedAt       time.Time
	LastUsedAt      *time.Time
}

func (s *Store) GetClient(ctx context.Context, clientID string) (*ClientRow, error) {
	query := `
		SELECT client_id, hashed_secret, encrypted_secret, client_type, tenant_code,
		       allowed_actions, fingerprint, created_at, last_used_at
		FROM clients
		WHERE client_id = $1
	`

	var row ClientRow
	err := s.Pool.QueryRow(ctx, query, clientID).Scan(
		&row.ClientID,
		&row.HashedSecret,
		&row.EncryptedSecret,
		&row.ClientType,
		&row.TenantCode,
		&row.AllowedActions,
		&row.Fingerprint,
		&row.CreatedAt,
		&row.LastUsedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Store) UpsertClient(ctx context.Context, row *ClientRow) error {
	query := `
		INSERT INTO clients (client_id, hashed_secret, encrypted_secret, client_type,
		                      tenant_code, allowed_actions, fingerprint)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (client_id) DO UPDATE
		SET hashed_secret = EXCLUDED.hashed_secret,
		    encrypted_secret = EXCLUDED.encrypted_secret,
		    client_type = EXCLUDED.client_type,
		    tenant_code = EXCLUDED.tenant_code,
		    allowed_actions = EXCLUDED.allowed_actions,
		    fingerprint = EXCLUDED.fingerprint
	`

	_, err := s.Pool.Exec(ctx, query,
		row.ClientID,
		row.HashedSecret,
		row.EncryptedSecret,
		row.ClientType,
		row.TenantCode,
		row.AllowedActions,
		row.Fingerprint,
	)
	return err
}

func (s *Store) DeleteClient(ctx context.Context, clientID string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM clients WHERE client_id = $1`, clientID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) TouchClient(ctx context.Context, clientID string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE clients SET last_used_at = now() WHERE client_id = $1`, clientID)
	return err
}

func (s *Store) ListClients(ctx context.Context) ([]ClientRow, error) {
	query := `
		SELECT client_id, hashed_secret, encrypted_secret, client_type, tenant_code,
		       allowed_actions, fingerprint, created_at, last_used_at
		FROM clients
		ORDER BY client_id
	`

	rows, err := s.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClientRow
	for rows.Next() {
		var row ClientRow
		if err := rows.Scan(
			&row.ClientID,
			&row.HashedSecret,
			&row.EncryptedSecret,
			&row.ClientType,
			&row.TenantCode,
			&row.AllowedActions,
			&row.Fingerprint,
			&row.CreatedAt,
			&row.LastUsedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) HasAdmin(ctx context.Context) (bool, error) {
	var count int
	err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM clients WHERE client_type = 'admin'`).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) InsertFingerprintEvent(ctx context.Context, fingerprint, username, tenantCode, action, details string) error {
	query := `
		INSERT INTO fingerprint_events (fingerprint, username, tenant_code, action, details)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.Pool.Exec(ctx, query, fingerprint, username, tenantCode, action, details)
	return err
}
