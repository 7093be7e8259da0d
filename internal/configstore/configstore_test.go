package configstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floudsdb/vectorgate/internal/store"
)

type fakeDB struct {
	rows map[string]store.ConfigRow // "key|tenant" -> row
}

func newFakeDB() *fakeDB {
	return &fakeDB{rows: map[string]store.ConfigRow{}}
}

func rowKey(key, tenant string) string { return key + "|" + tenant }

func (f *fakeDB) AddConfig(ctx context.Context, row *store.ConfigRow) error {
	k := rowKey(row.Key, row.TenantCode)
	if _, ok := f.rows[k]; ok {
		return store.ErrAlreadyExists
	}
	f.rows[k] = *row
	return nil
}

func (f *fakeDB) GetConfig(ctx context.Context, key, tenantCode string) (*store.ConfigRow, error) {
	row, ok := f.rows[rowKey(key, tenantCode)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &row, nil
}

func (f *fakeDB) UpdateConfig(ctx context.Context, row *store.ConfigRow) (bool, error) {
	k := rowKey(row.Key, row.TenantCode)
	if _, ok := f.rows[k]; !ok {
		return false, nil
	}
	f.rows[k] = *row
	return true, nil
}

func (f *fakeDB) DeleteConfig(ctx context.Context, key, tenantCode string) (bool, error) {
	k := rowKey(key, tenantCode)
	if _, ok := f.rows[k]; !ok {
		return false, nil
	}
	delete(f.rows, k)
	return true, nil
}

func (f *fakeDB) ListConfig(ctx context.Context, tenantCode string) ([]store.ConfigRow, error) {
	var out []store.ConfigRow
	for _, row := range f.rows {
		if row.TenantCode == tenantCode {
			out = append(out, row)
		}
	}
	return out, nil
}

type fakeCipher struct{}

func (fakeCipher) Encrypt(plaintext string) (string, error) { return "enc:" + plaintext, nil }
func (fakeCipher) Decrypt(ciphertext string) (string, error) { return ciphertext[len("enc:"):], nil }

func newTestStore() *Store {
	s := New(&store.Store{}, fakeCipher{})
	s.db = newFakeDB()
	return s
}

func TestAddAndGetRoundTrip(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Add(context.Background(), "cors_origins", "acme", "https://acme.example.com", false))

	entry, err := s.Get(context.Background(), "cors_origins", "acme")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.example.com", entry.Value)
}

func TestAddRejectsDuplicate(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Add(context.Background(), "k", "t", "v1", false))
	err := s.Add(context.Background(), "k", "t", "v2", false)
	assert.Error(t, err)
}

func TestEncryptedValuesAreMaskedOnGetButPlainOnGetDecrypted(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Add(context.Background(), "db_password", "acme", "sup3r-secret", true))

	entry, err := s.Get(context.Background(), "db_password", "acme")
	require.NoError(t, err)
	assert.Equal(t, EncryptedSentinel, entry.Value)

	plain, err := s.GetDecrypted(context.Background(), "db_password", "acme")
	require.NoError(t, err)
	assert.Equal(t, "sup3r-secret", plain)
}

func TestGetDecryptedReadsThroughCacheAfterFirstLoad(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Add(context.Background(), "k", "t", "v1", false))

	// Swap in an empty backing store to prove the read is served from the
	// cache entry Add wrote.
	s.db = newFakeDB()

	v, err := s.GetDecrypted(context.Background(), "k", "t")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
}

func TestUpdateOfMissingEntryFails(t *testing.T) {
	s := newTestStore()
	err := s.Update(context.Background(), "missing", "t", "v", false)
	assert.Error(t, err)
}

func TestDeleteRemovesFromCacheAndStore(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Add(context.Background(), "k", "t", "v", false))
	require.NoError(t, s.Delete(context.Background(), "k", "t"))

	_, err := s.Get(context.Background(), "k", "t")
	assert.Error(t, err)
}

func TestListReturnsOnlyMatchingTenant(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Add(context.Background(), "k1", "acme", "v1", false))
	require.NoError(t, s.Add(context.Background(), "k2", "other", "v2", false))

	entries, err := s.List(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "k1", entries[0].Key)
}

func TestAddEncryptedWithoutCipherFails(t *testing.T) {
	s := New(&store.Store{}, nil)
	s.db = newFakeDB()

	err := s.Add(context.Background(), "k", "t", "v", true)
	assert.Error(t, err)
}
