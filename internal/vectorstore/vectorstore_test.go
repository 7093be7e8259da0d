package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floudsdb/vectorgate/internal/domain"
	"github.com/floudsdb/vectorgate/internal/errfmt"
	"github.com/floudsdb/vectorgate/internal/milvusclient"
)

type fakeClient struct {
	collections map[string]*milvusclient.CollectionInfo
	upserted    []milvusclient.Row
	deleted     []string
	flushed     []string
	dense       []domain.SearchHit
	sparse      []domain.SearchHit
}

func newFakeClient() *fakeClient {
	return &fakeClient{collections: make(map[string]*milvusclient.CollectionInfo)}
}

func (f *fakeClient) Ping(ctx context.Context) error { return nil }
func (f *fakeClient) CreateDatabase(ctx context.Context, name string) error { return nil }
func (f *fakeClient) DropDatabase(ctx context.Context, name string) error   { return nil }
func (f *fakeClient) CreateRole(ctx context.Context, role string) error    { return nil }
func (f *fakeClient) DropRole(ctx context.Context, role string) error      { return nil }
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
	info, ok := f.collections[collection]
	if !ok {
		return nil, errors.New("not found")
	}
	return info, nil
}

func (f *fakeClient) CreateCollection(ctx context.Context, spec domain.CollectionSpec, collection string) error {
	f.collections[collection] = &milvusclient.CollectionInfo{Name: collection, Dimension: spec.Dimension}
	return nil
}

func (f *fakeClient) Upsert(ctx context.Context, collection string, rows []milvusclient.Row) error {
	f.upserted = append(f.upserted, rows...)
	return nil
}

func (f *fakeClient) Delete(ctx context.Context, collection string, keys []string) error {
	f.deleted = append(f.deleted, keys...)
	return nil
}

func (f *fakeClient) Flush(ctx context.Context, collection string) error {
	f.flushed = append(f.flushed, collection)
	return nil
}

func (f *fakeClient) SearchDense(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float64, metric domain.Metric) ([]domain.SearchHit, error) {
	return f.dense, nil
}

func (f *fakeClient) SearchSparse(ctx context.Context, collection string, terms map[string]float64, limit int) ([]domain.SearchHit, error) {
	return f.sparse, nil
}

func (f *fakeClient) Close() error { return nil }

func testSpec() domain.CollectionSpec {
	return domain.CollectionSpec{
		TenantCode: "acme",
		Model:      "minilm",
		Dimension:  384,
		Metric:     domain.MetricCosine,
		IndexType:  domain.IndexHNSW,
	}
}

func TestGenerateSchemaCreatesCollectionOnceIdempotent(t *testing.T) {
	client := newFakeClient()
	s := New()

	require.NoError(t, s.GenerateSchema(context.Background(), client, testSpec()))
	require.NoError(t, s.GenerateSchema(context.Background(), client, testSpec()))

	assert.Len(t, client.collections, 1)
}

func TestGenerateSchemaConflictOnDimensionMismatch(t *testing.T) {
	client := newFakeClient()
	s := New()
	require.NoError(t, s.GenerateSchema(context.Background(), client, testSpec()))

	conflicting := testSpec()
	conflicting.Dimension = 512
	err := s.GenerateSchema(context.Background(), client, conflicting)

	require.Error(t, err)
	var typed *errfmt.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, errfmt.KindSchemaConflict, typed.Kind)
}

func TestGenerateSchemaRejectsOutOfRangeDimension(t *testing.T) {
	client := newFakeClient()
	s := New()
	spec := testSpec()
	spec.Dimension = 0

	err := s.GenerateSchema(context.Background(), client, spec)
	require.Error(t, err)
	var typed *errfmt.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, errfmt.KindValidation, typed.Kind)
}

func TestInsertDedupesKeepingLastWriteWithinBatch(t *testing.T) {
	client := newFakeClient()
	s := New()

	vectors := []domain.EmbeddedVector{
		{Key: "k1", Chunk: "first version", Vector: []float32{0.1, 0.2}},
		{Key: "k1", Chunk: "second version wins", Vector: []float32{0.3, 0.4}},
	}
	n, err := s.Insert(context.Background(), client, "acme", "minilm", vectors)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, client.upserted, 1)
	assert.Equal(t, "second version wins", client.upserted[0].Chunk)
}

func TestInsertAutoFlushesAtBatchThreshold(t *testing.T) {
	client := newFakeClient()
	s := New()

	vectors := make([]domain.EmbeddedVector, autoFlushMinBatch)
	for i := range vectors {
		vectors[i] = domain.EmbeddedVector{Key: string(rune('a' + i)), Chunk: "chunk text", Vector: []float32{0.1}}
	}
	_, err := s.Insert(context.Background(), client, "acme", "minilm", vectors)

	require.NoError(t, err)
	assert.Len(t, client.flushed, 1)
}

func TestInsertRejectsDimensionMismatchWithinBatch(t *testing.T) {
	client := newFakeClient()
	s := New()

	vectors := []domain.EmbeddedVector{
		{Key: "a", Chunk: "x", Vector: []float32{0.1, 0.2}},
		{Key: "b", Chunk: "y", Vector: []float32{0.1}},
	}
	_, err := s.Insert(context.Background(), client, "acme", "minilm", vectors)
	require.Error(t, err)
}

func TestSearchDenseOnlyFiltersByThreshold(t *testing.T) {
	client := newFakeClient()
	client.dense = []domain.SearchHit{
		{ID: "a", Score: 0.9},
		{ID: "b", Score: 0.1},
	}
	s := New()

	hits, err := s.Search(context.Background(), client, SearchRequest{
		Tenant: "acme", Model: "minilm", ScoreThreshold: 0.5, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
}

func TestSearchHybridFallsBackToDenseBelowMinimumWordsMatch(t *testing.T) {
	client := newFakeClient()
	client.dense = []domain.SearchHit{{ID: "a", Score: 0.8}}
	s := New()

	hits, err := s.Search(context.Background(), client, SearchRequest{
		Tenant: "acme", Model: "minilm", Hybrid: true,
		TextFilter: "the", IncludeStopWords: false, MinimumWordsMatch: 2, Limit: 10,
		ScoreThreshold: 0,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
}

func TestSearchHybridCombinesWithRRF(t *testing.T) {
	client := newFakeClient()
	client.dense = []domain.SearchHit{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.5}}
	client.sparse = []domain.SearchHit{{ID: "b", Score: 4.2}, {ID: "c", Score: 2.1}}
	s := New()

	hits, err := s.Search(context.Background(), client, SearchRequest{
		Tenant: "acme", Model: "minilm", Hybrid: true,
		TextFilter: "vector database search", MinimumWordsMatch: 1, IncludeStopWords: true, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	// b appears in both lists (rank 2 dense, rank 1 sparse) so it should
	// outrank a and c, which each appear in only one list.
	assert.Equal(t, "b", hits[0].ID)
}

func TestFlushCallsClient(t *testing.T) {
	client := newFakeClient()
	s := New()
	require.NoError(t, s.Flush(context.Background(), client, "acme", "minilm"))
	assert.Equal(t, []string{CollectionName("acme", "minilm")}, client.flushed)
}

func TestCollectionNamingHelpers(t *testing.T) {
	assert.Equal(t, "vector_store_schema_for_acme_minilm", CollectionName("acme", "minilm"))
	assert.Equal(t, "flouds_acme_role", RoleName("acme"))
	assert.Equal(t, "acme_user", UserName("acme"))
}
