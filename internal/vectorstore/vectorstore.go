// Package vectorstore implements schema generation, insert, and
// dense/sparse/hybrid search against a tenant's vector collection. It
// operates on a milvusclient.Client handed to it by the caller — the
// connection pool and per-request credential binding live one layer up.
package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/floudsdb/vectorgate/internal/bm25"
	"github.com/floudsdb/vectorgate/internal/domain"
	"github.com/floudsdb/vectorgate/internal/errfmt"
	"github.com/floudsdb/vectorgate/internal/milvusclient"
	"github.com/floudsdb/vectorgate/internal/txn"
)

const (
	autoFlushMinBatch = 100
	rrfK              = 60
	minDimension      = 1
	maxDimension      = 4096
)

// schemaPrivileges are granted to a tenant's role on its own collection
// once the collection is created.
var schemaPrivileges = []string{"Search", "Query", "Insert", "Upsert", "Delete"}

type corpusKey struct{ tenant, model string }

// Store is VectorStoreCore: schema generation, insert and search over
// per-tenant, per-model collections.
type Store struct {
	corpusMu sync.Mutex
	corpora  map[corpusKey]*bm25.Corpus

	schemaMu    sync.Mutex
	schemaLocks map[corpusKey]*sync.Mutex
}

func New() *Store {
	return &Store{
		corpora:     make(map[corpusKey]*bm25.Corpus),
		schemaLocks: make(map[corpusKey]*sync.Mutex),
	}
}

// CollectionName is the physical object name for a tenant's model
// collection.
func CollectionName(tenant, model string) string {
	return fmt.Sprintf("vector_store_schema_for_%s_%s", tenant, model)
}

// RoleName is the database role a tenant's collection grants are issued to.
func RoleName(tenant string) string {
	return fmt.Sprintf("flouds_%s_role", tenant)
}

// UserName is the database user bound to a tenant's role.
func UserName(tenant string) string {
	return fmt.Sprintf("%s_user", tenant)
}

func (s *Store) corpusFor(tenant, model string) *bm25.Corpus {
	key := corpusKey{tenant, model}
	s.corpusMu.Lock()
	defer s.corpusMu.Unlock()
	c, ok := s.corpora[key]
	if !ok {
		c = bm25.NewCorpus()
		s.corpora[key] = c
	}
	return c
}

func (s *Store) schemaLock(tenant, model string) *sync.Mutex {
	key := corpusKey{tenant, model}
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	l, ok := s.schemaLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.schemaLocks[key] = l
	}
	return l
}

// GenerateSchema idempotently creates a tenant+model collection. If the
// collection already exists with a different dimension, it fails fast
// with SchemaConflict — concurrent callers for the same (tenant, model)
// are serialised behind a per-pair mutex so the loser of a race sees the
// conflict against whatever dimension the winner committed, rather than
// issuing a second, racing CreateCollection.
func (s *Store) GenerateSchema(ctx context.Context, client milvusclient.Client, spec domain.CollectionSpec) error {
	if spec.Dimension < minDimension || spec.Dimension > maxDimension {
		return errfmt.New(errfmt.KindValidation, fmt.Sprintf("dimension %d out of range [%d, %d]", spec.Dimension, minDimension, maxDimension))
	}

	lock := s.schemaLock(spec.TenantCode, spec.Model)
	lock.Lock()
	defer lock.Unlock()

	collection := CollectionName(spec.TenantCode, spec.Model)

	info, err := client.DescribeCollection(ctx, collection)
	if err == nil && info != nil {
		if info.Dimension != spec.Dimension {
			return errfmt.New(errfmt.KindSchemaConflict,
				fmt.Sprintf("collection %s already exists with dimension %d, requested %d", collection, info.Dimension, spec.Dimension))
		}
		return nil
	}

	if err := client.CreateCollection(ctx, spec, collection); err != nil {
		return errfmt.Wrap(errfmt.KindOperation, "create collection failed", err)
	}
	if err := client.GrantPrivileges(ctx, RoleName(spec.TenantCode), collection, schemaPrivileges); err != nil {
		return errfmt.Wrap(errfmt.KindOperation, "grant collection privileges failed", err)
	}
	return nil
}

// Insert computes BM25 sparse vectors for each chunk, upserts the batch,
// and flushes when the batch meets auto_flush_min_batch — all composed
// through a Transaction so a failed flush rolls back the upsert by
// deleting the batch's keys.
func (s *Store) Insert(ctx context.Context, client milvusclient.Client, tenant, model string, vectors []domain.EmbeddedVector) (int, error) {
	deduped, err := dedupeAndValidate(vectors)
	if err != nil {
		return 0, err
	}
	if len(deduped) == 0 {
		return 0, nil
	}

	corpus := s.corpusFor(tenant, model)
	collection := CollectionName(tenant, model)

	rows := make([]milvusclient.Row, 0, len(deduped))
	keys := make([]string, 0, len(deduped))
	for _, v := range deduped {
		terms := bm25.FilterStopwords(bm25.Tokenize(v.Chunk))
		corpus.Observe(terms)
		sparse := corpus.Encode(terms)
		rows = append(rows, milvusclient.Row{
			Key:    v.Key,
			Dense:  v.Vector,
			Sparse: sparse,
			Chunk:  v.Chunk,
			Model:  model,
			Meta:   v.Metadata,
		})
		keys = append(keys, v.Key)
	}

	autoFlush := len(rows) >= autoFlushMinBatch

	t := txn.Begin("vectorstore.insert")
	t.Add(
		func(ctx context.Context) (any, error) {
			return nil, client.Upsert(ctx, collection, rows)
		},
		func(ctx context.Context, _ any) error {
			return client.Delete(ctx, collection, keys)
		},
	)
	if autoFlush {
		t.Add(
			func(ctx context.Context) (any, error) {
				return nil, client.Flush(ctx, collection)
			},
			func(ctx context.Context, _ any) error { return nil },
		)
	}

	if _, err := t.Execute(ctx); err != nil {
		return 0, errfmt.Wrap(errfmt.KindOperation, "insert failed", err)
	}
	return len(rows), nil
}

func dedupeAndValidate(vectors []domain.EmbeddedVector) ([]domain.EmbeddedVector, error) {
	if len(vectors) == 0 {
		return nil, nil
	}
	dim := len(vectors[0].Vector)
	byKey := make(map[string]domain.EmbeddedVector, len(vectors))
	order := make([]string, 0, len(vectors))
	for _, v := range vectors {
		if v.Chunk == "" {
			return nil, errfmt.New(errfmt.KindValidation, "chunk must not be empty")
		}
		if len(v.Vector) != dim {
			return nil, errfmt.New(errfmt.KindValidation, fmt.Sprintf("vector dimension mismatch within batch: expected %d, got %d", dim, len(v.Vector)))
		}
		if _, exists := byKey[v.Key]; !exists {
			order = append(order, v.Key)
		}
		byKey[v.Key] = v // last write wins for duplicates within the batch
	}
	out := make([]domain.EmbeddedVector, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out, nil
}

// Flush issues an explicit flush on the tenant+model collection.
func (s *Store) Flush(ctx context.Context, client milvusclient.Client, tenant, model string) error {
	if err := client.Flush(ctx, CollectionName(tenant, model)); err != nil {
		return errfmt.Wrap(errfmt.KindOperation, "flush failed", err)
	}
	return nil
}

// SearchRequest bundles the inputs to Search.
type SearchRequest struct {
	Tenant            string
	Model             string
	Vector            []float32
	Limit             int
	ScoreThreshold    float64
	Metric            domain.Metric
	Hybrid            bool
	TextFilter        string
	MinimumWordsMatch int
	IncludeStopWords  bool
}

// Search runs dense-only ANN search, or a hybrid dense+BM25-sparse
// search combined via Reciprocal Rank Fusion when req.Hybrid is set.
func (s *Store) Search(ctx context.Context, client milvusclient.Client, req SearchRequest) ([]domain.SearchHit, error) {
	collection := CollectionName(req.Tenant, req.Model)

	if !req.Hybrid {
		hits, err := client.SearchDense(ctx, collection, req.Vector, req.Limit, req.ScoreThreshold, req.Metric)
		if err != nil {
			return nil, errfmt.Wrap(errfmt.KindOperation, "dense search failed", err)
		}
		return filterByThreshold(hits, req.ScoreThreshold), nil
	}

	terms := bm25.Tokenize(req.TextFilter)
	if !req.IncludeStopWords {
		terms = bm25.FilterStopwords(terms)
	}
	if len(terms) < req.MinimumWordsMatch {
		hits, err := client.SearchDense(ctx, collection, req.Vector, req.Limit, req.ScoreThreshold, req.Metric)
		if err != nil {
			return nil, errfmt.Wrap(errfmt.KindOperation, "dense search failed", err)
		}
		return filterByThreshold(hits, req.ScoreThreshold), nil
	}

	corpus := s.corpusFor(req.Tenant, req.Model)
	queryWeights := corpus.QueryWeights(terms)

	var dense, sparse []domain.SearchHit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := client.SearchDense(gctx, collection, req.Vector, req.Limit, 0, req.Metric)
		if err != nil {
			return errfmt.Wrap(errfmt.KindOperation, "dense search failed", err)
		}
		dense = hits
		return nil
	})
	g.Go(func() error {
		hits, err := client.SearchSparse(gctx, collection, queryWeights, req.Limit)
		if err != nil {
			return errfmt.Wrap(errfmt.KindOperation, "sparse search failed", err)
		}
		sparse = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return combineRRF(dense, sparse, req.Limit), nil
}

func filterByThreshold(hits []domain.SearchHit, threshold float64) []domain.SearchHit {
	out := make([]domain.SearchHit, 0, len(hits))
	for _, h := range hits {
		if h.Score >= threshold {
			out = append(out, h)
		}
	}
	return out
}

// combineRRF fuses dense and sparse rankings: score_rrf(d) = sum over
// lists of 1/(k+rank), documents absent from a list contribute 0.
func combineRRF(dense, sparse []domain.SearchHit, limit int) []domain.SearchHit {
	type acc struct {
		hit      domain.SearchHit
		rrf      float64
		denseSc  float64
		hasDense bool
	}
	byID := make(map[string]*acc)

	for rank, h := range dense {
		a, ok := byID[h.ID]
		if !ok {
			a = &acc{hit: h}
			byID[h.ID] = a
		}
		a.rrf += 1.0 / float64(rrfK+rank+1)
		a.denseSc = h.Score
		a.hasDense = true
	}
	for rank, h := range sparse {
		a, ok := byID[h.ID]
		if !ok {
			a = &acc{hit: h}
			byID[h.ID] = a
		}
		a.rrf += 1.0 / float64(rrfK+rank+1)
	}

	results := make([]*acc, 0, len(byID))
	for _, a := range byID {
		results = append(results, a)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].rrf != results[j].rrf {
			return results[i].rrf > results[j].rrf
		}
		if results[i].denseSc != results[j].denseSc {
			return results[i].denseSc > results[j].denseSc
		}
		return results[i].hit.ID < results[j].hit.ID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	out := make([]domain.SearchHit, 0, len(results))
	for _, a := range results {
		hit := a.hit
		hit.Score = a.rrf
		out = append(out, hit)
	}
	return out
}
