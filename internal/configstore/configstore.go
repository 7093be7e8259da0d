// Package configstore implements the per-tenant configuration key/value
// store backing CORS/trusted-host policy and tier lookups: add, get,
// update, delete, list, with a write-invalidated in-memory cache and
// optional encryption at rest.
package configstore

import (
	"context"
	"errors"

	"github.com/floudsdb/vectorgate/internal/domain"
	"github.com/floudsdb/vectorgate/internal/errfmt"
	"github.com/floudsdb/vectorgate/internal/store"
)

// EncryptedSentinel is returned by Get in place of ciphertext whenever the
// entry is marked encrypted. Callers that need the plaintext must use
// GetDecrypted from within the package's trust boundary.
const EncryptedSentinel = "<encrypted>"

type cacheKey struct {
	key    string
	tenant string
}

// Cipher encrypts/decrypts config values at rest. A nil Cipher means
// encrypted entries are rejected at Add/Update time.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// configDB is the subset of *store.Store the ConfigStore needs; narrowed
// to an interface so tests can fake the config_kv table without Postgres.
type configDB interface {
	AddConfig(ctx context.Context, row *store.ConfigRow) error
	GetConfig(ctx context.Context, key, tenantCode string) (*store.ConfigRow, error)
	UpdateConfig(ctx context.Context, row *store.ConfigRow) (bool, error)
	DeleteConfig(ctx context.Context, key, tenantCode string) (bool, error)
	ListConfig(ctx context.Context, tenantCode string) ([]store.ConfigRow, error)
}

// Store is the ConfigStore: Postgres-backed, write-through cached.
type Store struct {
	db     configDB
	cipher Cipher

	cache *domain.ConcurrentMap[cacheKey, domain.ConfigEntry]
}

func New(db *store.Store, cipher Cipher) *Store {
	return &Store{
		db:     db,
		cipher: cipher,
		cache:  domain.NewConcurrentMap[cacheKey, domain.ConfigEntry](),
	}
}

// Add creates a new (key, tenant) row; returns a validation error wrapping
// store.ErrAlreadyExists if the composite key is already taken.
func (s *Store) Add(ctx context.Context, key, tenant, value string, encrypted bool) error {
	stored := value
	if encrypted {
		if s.cipher == nil {
			return errfmt.New(errfmt.KindConfiguration, "encryption not configured")
		}
		ct, err := s.cipher.Encrypt(value)
		if err != nil {
			return errfmt.Wrap(errfmt.KindInternal, "failed to encrypt config value", err)
		}
		stored = ct
	}

	err := s.db.AddConfig(ctx, &store.ConfigRow{Key: key, TenantCode: tenant, Value: stored, Encrypted: encrypted})
	if errors.Is(err, store.ErrAlreadyExists) {
		return errfmt.Wrap(errfmt.KindValidation, "config entry already exists", err)
	}
	if err != nil {
		return errfmt.Wrap(errfmt.KindInternal, "failed to add config entry", err)
	}

	s.cache.Set(cacheKey{key, tenant}, domain.ConfigEntry{Key: key, TenantCode: tenant, Value: value, Encrypted: encrypted})
	return nil
}

// Get returns the entry's value. If the entry is encrypted, Value is the
// sentinel "<encrypted>" rather than ciphertext or plaintext.
func (s *Store) Get(ctx context.Context, key, tenant string) (domain.ConfigEntry, error) {
	if entry, ok := s.cache.Get(cacheKey{key, tenant}); ok {
		return s.maskIfEncrypted(entry), nil
	}

	row, err := s.db.GetConfig(ctx, key, tenant)
	if errors.Is(err, store.ErrNotFound) {
		return domain.ConfigEntry{}, errfmt.New(errfmt.KindValidation, "config entry not found")
	}
	if err != nil {
		return domain.ConfigEntry{}, errfmt.Wrap(errfmt.KindInternal, "failed to load config entry", err)
	}

	entry, err := s.decryptRow(row)
	if err != nil {
		return domain.ConfigEntry{}, err
	}
	s.cache.Set(cacheKey{key, tenant}, entry)
	return s.maskIfEncrypted(entry), nil
}

// GetDecrypted returns the plaintext value even for encrypted entries. It
// is intended for internal callers only (e.g. policy resolution), never
// for an HTTP response.
func (s *Store) GetDecrypted(ctx context.Context, key, tenant string) (string, error) {
	if entry, ok := s.cache.Get(cacheKey{key, tenant}); ok {
		return entry.Value, nil
	}

	row, err := s.db.GetConfig(ctx, key, tenant)
	if errors.Is(err, store.ErrNotFound) {
		return "", errfmt.New(errfmt.KindValidation, "config entry not found")
	}
	if err != nil {
		return "", errfmt.Wrap(errfmt.KindInternal, "failed to load config entry", err)
	}

	entry, err := s.decryptRow(row)
	if err != nil {
		return "", err
	}
	s.cache.Set(cacheKey{key, tenant}, entry)
	return entry.Value, nil
}

// GetMeta returns the stored value alongside whether it is encrypted,
// without exposing ciphertext: the value returned is already the
// public-facing (possibly sentinel) form, matching Get's contract.
func (s *Store) GetMeta(ctx context.Context, key, tenant string) (value string, encrypted bool, err error) {
	entry, err := s.Get(ctx, key, tenant)
	if err != nil {
		return "", false, err
	}
	return entry.Value, entry.Encrypted, nil
}

func (s *Store) Update(ctx context.Context, key, tenant, value string, encrypted bool) error {
	stored := value
	if encrypted {
		if s.cipher == nil {
			return errfmt.New(errfmt.KindConfiguration, "encryption not configured")
		}
		ct, err := s.cipher.Encrypt(value)
		if err != nil {
			return errfmt.Wrap(errfmt.KindInternal, "failed to encrypt config value", err)
		}
		stored = ct
	}

	ok, err := s.db.UpdateConfig(ctx, &store.ConfigRow{Key: key, TenantCode: tenant, Value: stored, Encrypted: encrypted})
	if err != nil {
		return errfmt.Wrap(errfmt.KindInternal, "failed to update config entry", err)
	}
	if !ok {
		return errfmt.New(errfmt.KindValidation, "config entry not found")
	}

	s.cache.Set(cacheKey{key, tenant}, domain.ConfigEntry{Key: key, TenantCode: tenant, Value: value, Encrypted: encrypted})
	return nil
}

func (s *Store) Delete(ctx context.Context, key, tenant string) error {
	ok, err := s.db.DeleteConfig(ctx, key, tenant)
	if err != nil {
		return errfmt.Wrap(errfmt.KindInternal, "failed to delete config entry", err)
	}
	if !ok {
		return errfmt.New(errfmt.KindValidation, "config entry not found")
	}
	s.cache.Remove(cacheKey{key, tenant})
	return nil
}

func (s *Store) List(ctx context.Context, tenant string) ([]domain.ConfigEntry, error) {
	rows, err := s.db.ListConfig(ctx, tenant)
	if err != nil {
		return nil, errfmt.Wrap(errfmt.KindInternal, "failed to list config entries", err)
	}

	out := make([]domain.ConfigEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := s.decryptRow(&row)
		if err != nil {
			return nil, err
		}
		out = append(out, s.maskIfEncrypted(entry))
	}
	return out, nil
}

func (s *Store) decryptRow(row *store.ConfigRow) (domain.ConfigEntry, error) {
	value := row.Value
	if row.Encrypted {
		if s.cipher == nil {
			return domain.ConfigEntry{}, errfmt.New(errfmt.KindConfiguration, "encryption not configured")
		}
		pt, err := s.cipher.Decrypt(row.Value)
		if err != nil {
			return domain.ConfigEntry{}, errfmt.Wrap(errfmt.KindInternal, "failed to decrypt config value", err)
		}
		value = pt
	}
	return domain.ConfigEntry{Key: row.Key, TenantCode: row.TenantCode, Value: value, Encrypted: row.Encrypted}, nil
}

func (s *Store) maskIfEncrypted(entry domain.ConfigEntry) domain.ConfigEntry {
	if entry.Encrypted {
		entry.Value = EncryptedSentinel
	}
	return entry
}
