package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floudsdb/vectorgate/internal/domain"
	"github.com/floudsdb/vectorgate/internal/milvusclient"
)

type fakeClient struct {
	closed bool
}

func (f *fakeClient) Ping(ctx context.Context) error { return nil }
func (f *fakeClient) CreateDatabase(ctx context.Context, name string) error { return nil }
func (f *fakeClient) DropDatabase(ctx context.Context, name string) error { return nil }
func (f *fakeClient) CreateRole(ctx context.Context, role string) error { return nil }
func (f *fakeClient) DropRole(ctx context.Context, role string) error   { return nil }
func (f *fakeClient) CreateUser(ctx context.Context, username, password string) error { return nil }
func (f *fakeClient) DeleteUser(ctx context.Context, username string) error            { return nil }
func (f *fakeClient) UpdateUserPassword(ctx context.Context, username, password string) error {
	return nil
}
func (f *fakeClient) GrantRole(ctx context.Context, username, role string) error  { return nil }
func (f *fakeClient) RevokeRole(ctx context.Context, username, role string) error { return nil }
func (f *fakeClient) GrantPrivileges(ctx context.Context, role, collection string, privileges []string) error {
	return nil
}
func (f *fakeClient) RevokePrivileges(ctx context.Context, role, collection string, privileges []string) error {
	return nil
}
func (f *fakeClient) DescribeCollection(ctx context.Context, collection string) (*milvusclient.CollectionInfo, error) {
	return nil, errors.New("not found")
}
func (f *fakeClient) CreateCollection(ctx context.Context, spec domain.CollectionSpec, collection string) error {
	return nil
}
func (f *fakeClient) Upsert(ctx context.Context, collection string, rows []milvusclient.Row) error {
	return nil
}
func (f *fakeClient) Delete(ctx context.Context, collection string, keys []string) error { return nil }
func (f *fakeClient) Flush(ctx context.Context, collection string) error                 { return nil }
func (f *fakeClient) SearchDense(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float64, metric domain.Metric) ([]domain.SearchHit, error) {
	return nil, nil
}
func (f *fakeClient) SearchSparse(ctx context.Context, collection string, terms map[string]float64, limit int) ([]domain.SearchHit, error) {
	return nil, nil
}
func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func newTestPool(cfg Config) (*Pool, *fakeClient) {
	client := &fakeClient{}
	dial := func(ctx context.Context, key Key, secret string) (milvusclient.Client, error) {
		return client, nil
	}
	return New(dial, cfg), client
}

func TestAcquireReusesEntry(t *testing.T) {
	p, _ := newTestPool(Config{})
	defer p.Close(time.Second)

	key := Key{URI: "localhost:19530", User: "demo", DB: "demo"}
	h1, err := p.Acquire(context.Background(), key, "secret")
	require.NoError(t, err)
	h2, err := p.Acquire(context.Background(), key, "secret")
	require.NoError(t, err)

	assert.Same(t, h1.Client, h2.Client)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 2, stats.ByKey[key.String()].InFlight)

	p.Release(h1)
	p.Release(h2)
	stats = p.Stats()
	assert.Equal(t, 0, stats.ByKey[key.String()].InFlight)
}

func TestAcquireExhaustedWhenAllEntriesBusy(t *testing.T) {
	p, _ := newTestPool(Config{MaxEntries: 1})
	defer p.Close(time.Second)

	busy := Key{URI: "localhost:19530", User: "busy", DB: "demo"}
	h, err := p.Acquire(context.Background(), busy, "secret")
	require.NoError(t, err)

	other := Key{URI: "localhost:19530", User: "other", DB: "demo"}
	_, err = p.Acquire(context.Background(), other, "secret")
	assert.ErrorIs(t, err, ErrPoolExhausted)

	p.Release(h)
}

func TestAcquireEvictsIdleEntryUnderCeiling(t *testing.T) {
	p, _ := newTestPool(Config{MaxEntries: 1})
	defer p.Close(time.Second)

	idle := Key{URI: "localhost:19530", User: "idle", DB: "demo"}
	h, err := p.Acquire(context.Background(), idle, "secret")
	require.NoError(t, err)
	p.Release(h)

	fresh := Key{URI: "localhost:19530", User: "fresh", DB: "demo"}
	_, err = p.Acquire(context.Background(), fresh, "secret")
	require.NoError(t, err)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Active)
	_, stillPresent := stats.ByKey[idle.String()]
	assert.False(t, stillPresent)
}

func TestCloseDrainsAndClosesClients(t *testing.T) {
	p, client := newTestPool(Config{})
	key := Key{URI: "localhost:19530", User: "demo", DB: "demo"}
	h, err := p.Acquire(context.Background(), key, "secret")
	require.NoError(t, err)
	p.Release(h)

	p.Close(100 * time.Millisecond)
	assert.True(t, client.closed)

	_, err = p.Acquire(context.Background(), key, "secret")
	assert.Error(t, err)
}
