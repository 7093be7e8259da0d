// Package api wires the gateway's HTTP surface: one gorilla/mux router
// under /api/v1 plus the unversioned /health and /auth/token routes,
// every data/control-plane handler composed through servicemethod.Wrap
// and the middleware.Pipeline stages.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/floudsdb/vectorgate/internal/authtoken"
	"github.com/floudsdb/vectorgate/internal/config"
	"github.com/floudsdb/vectorgate/internal/domain"
	"github.com/floudsdb/vectorgate/internal/errfmt"
	"github.com/floudsdb/vectorgate/internal/health"
	"github.com/floudsdb/vectorgate/internal/middleware"
	"github.com/floudsdb/vectorgate/internal/pool"
	"github.com/floudsdb/vectorgate/internal/provisioning"
	"github.com/floudsdb/vectorgate/internal/servicemethod"
	"github.com/floudsdb/vectorgate/internal/vectorstore"
)

// ClientDirectory is the subset of KeyManager's API the HTTP layer needs:
// credential validation for the admin-convenience token endpoint and the
// fingerprint audit listing. *keymanager.Manager satisfies this directly.
type ClientDirectory interface {
	Validate(ctx context.Context, username, presentedSecret, expectedTenant string) (*domain.Client, error)
	ListFingerprints(ctx context.Context) ([]domain.Client, error)
}

// ConfigAPI is the subset of ConfigStore's API the config CRUD routes
// need. *configstore.Store satisfies this directly.
type ConfigAPI interface {
	Add(ctx context.Context, key, tenant, value string, encrypted bool) error
	Get(ctx context.Context, key, tenant string) (domain.ConfigEntry, error)
	Update(ctx context.Context, key, tenant, value string, encrypted bool) error
	Delete(ctx context.Context, key, tenant string) error
}

// Deps bundles every collaborator a route handler needs. All fields are
// required except Health and Issuer.
type Deps struct {
	Pipeline     *middleware.Pipeline
	KeyManager   ClientDirectory
	ConfigStore  ConfigAPI
	VectorStore  *vectorstore.Store
	Provisioning *provisioning.Store
	Pool         *pool.Pool
	Config       *config.Config
	Health       *health.Checker
	Issuer       *authtoken.Issuer
}

// NewRouter builds the complete gateway router: public health/metrics
// routes, the unversioned admin-convenience token endpoint, and the
// full /api/v1 surface behind the middleware pipeline.
func NewRouter(d *Deps) *mux.Router {
	r := mux.NewRouter()

	if d.Health != nil {
		r.HandleFunc("/health", d.Health.Health).Methods(http.MethodGet)
		r.HandleFunc("/health/ready", d.Health.Ready).Methods(http.MethodGet)
		r.HandleFunc("/health/live", d.Health.Live).Methods(http.MethodGet)
	}
	r.HandleFunc("/auth/token", tokenHandler(d)).Methods(http.MethodPost)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(d.Pipeline.CORS, d.Pipeline.TrustedHost, d.Pipeline.Auth, d.Pipeline.RateLimit,
		d.Pipeline.Validation, d.Pipeline.RequestLogging, d.Pipeline.Metrics, d.Pipeline.ErrorHandler)

	if d.Health != nil {
		v1.Handle("/metrics", requireAdmin(health.Metrics())).Methods(http.MethodGet)
		v1.HandleFunc("/health/connections", requireAdminFunc(d.Health.Connections)).Methods(http.MethodGet)
	}

	v1.HandleFunc("/vector_store/set_vector_store", servicemethod.Wrap("set_vector_store", setVectorStore(d))).Methods(http.MethodPost)
	v1.HandleFunc("/vector_store/generate_schema", servicemethod.Wrap("generate_schema", generateSchema(d))).Methods(http.MethodPost)
	v1.HandleFunc("/vector_store/insert", servicemethod.Wrap("insert", insertVectors(d))).Methods(http.MethodPost)
	v1.HandleFunc("/vector_store/search", servicemethod.Wrap("search", searchVectors(d))).Methods(http.MethodPost)
	v1.HandleFunc("/vector_store_users/set_user", servicemethod.Wrap("set_user", setUser(d))).Methods(http.MethodPost)
	v1.HandleFunc("/vector_store_users/reset_password", servicemethod.Wrap("reset_password", resetPassword(d))).Methods(http.MethodPost)

	v1.HandleFunc("/config/add", servicemethod.Wrap("config_add", configAdd(d))).Methods(http.MethodPost)
	v1.HandleFunc("/config/get", servicemethod.Wrap("config_get", configGet(d))).Methods(http.MethodGet)
	v1.HandleFunc("/config/update", servicemethod.Wrap("config_update", configUpdate(d))).Methods(http.MethodPut)
	v1.HandleFunc("/config/delete", servicemethod.Wrap("config_delete", configDelete(d))).Methods(http.MethodDelete)

	v1.HandleFunc("/admin/fingerprints", servicemethod.Wrap("fingerprints", listFingerprints(d))).Methods(http.MethodGet)

	return r
}

// requireAdmin gates an http.Handler to global-admin clients only, for
// routes (metrics, connections) wired with Handle rather than
// servicemethod.Wrap.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := requireGlobalAdmin(r.Context()); err != nil {
			writeTypedError(w, r.Context(), err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireAdminFunc(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireGlobalAdmin(r.Context()); err != nil {
			writeTypedError(w, r.Context(), err)
			return
		}
		next(w, r)
	}
}

func requireGlobalAdmin(ctx context.Context) error {
	client, ok := middleware.ClientFromContext(ctx)
	if !ok || !client.IsGlobal() {
		return errfmt.New(errfmt.KindAuthorization, "admin privileges required")
	}
	return nil
}

func writeTypedError(w http.ResponseWriter, ctx context.Context, err error) {
	typed := errfmt.AsError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errfmt.StatusFor(typed.Kind))
	_ = json.NewEncoder(w).Encode(errfmt.Format(typed))
}

// dbNameForTenant maps the resolved tenant code to the vector database
// name: global (tenant == "") requests operate against Milvus's own
// "default" database rather than an empty name.
func dbNameForTenant(tenant string) string {
	if tenant == "" {
		return "default"
	}
	return tenant
}

// acquireClient pulls the per-request DB-binding credentials attached by
// the Auth middleware stage and checks out a pooled vector database
// client scoped to the resolved tenant's database.
func acquireClient(ctx context.Context, d *Deps, tenant string) (*pool.Handle, error) {
	binding, ok := middleware.DBBindingFromContext(ctx)
	if !ok {
		return nil, errfmt.New(errfmt.KindAuthentication, "missing vector database credentials")
	}
	key := pool.Key{URI: d.Config.MilvusURI, User: binding.User, DB: dbNameForTenant(tenant)}
	return d.Pool.Acquire(ctx, key, binding.Secret)
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errfmt.New(errfmt.KindValidation, "request body required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errfmt.Wrap(errfmt.KindValidation, "malformed request body", err)
	}
	return nil
}

func tokenHandler(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Secret   string `json:"secret"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeTypedError(w, r.Context(), err)
			return
		}
		client, err := d.KeyManager.Validate(r.Context(), req.Username, req.Secret, "")
		if err != nil {
			writeTypedError(w, r.Context(), err)
			return
		}
		if d.Issuer == nil {
			writeTypedError(w, r.Context(), errfmt.New(errfmt.KindConfiguration, "session tokens are not configured"))
			return
		}
		token, err := d.Issuer.Issue(client.Username, client.TenantCode)
		if err != nil {
			writeTypedError(w, r.Context(), err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"token": token})
	}
}

func listFingerprints(d *Deps) servicemethod.OperationFunc {
	return func(ctx context.Context, r *http.Request) (any, error) {
		if err := requireGlobalAdmin(ctx); err != nil {
			return nil, err
		}
		clients, err := d.KeyManager.ListFingerprints(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(clients))
		for _, c := range clients {
			out = append(out, map[string]any{
				"username":    c.Username,
				"fingerprint": c.Fingerprint,
				"tenant_code": c.TenantCode,
				"created_at":  c.CreatedAt,
				"last_used_at": c.LastUsedAt,
			})
		}
		return out, nil
	}
}

func setVectorStore(d *Deps) servicemethod.OperationFunc {
	return func(ctx context.Context, r *http.Request) (any, error) {
		if err := requireGlobalAdmin(ctx); err != nil {
			return nil, err
		}
		tenant, _ := servicemethod.TenantFromContext(ctx)
		handle, err := acquireClient(ctx, d, tenant)
		if err != nil {
			return nil, err
		}
		defer d.Pool.Release(handle)

		summary, err := d.Provisioning.SetVectorStore(ctx, handle.Client, tenant)
		if err != nil {
			return nil, err
		}
		return summary, nil
	}
}

func setUser(d *Deps) servicemethod.OperationFunc {
	return func(ctx context.Context, r *http.Request) (any, error) {
		if err := requireGlobalAdmin(ctx); err != nil {
			return nil, err
		}
		tenant, _ := servicemethod.TenantFromContext(ctx)
		handle, err := acquireClient(ctx, d, tenant)
		if err != nil {
			return nil, err
		}
		defer d.Pool.Release(handle)

		// SetVectorStore only returns a password on the call that creates the
		// user; a tenant that already has one gets username/password back
		// empty here, since the password is never persisted in the clear.
		summary, err := d.Provisioning.SetVectorStore(ctx, handle.Client, tenant)
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"username": summary.Username,
			"password": summary.Password,
			"role":     vectorstore.RoleName(tenant),
		}, nil
	}
}

func resetPassword(d *Deps) servicemethod.OperationFunc {
	return func(ctx context.Context, r *http.Request) (any, error) {
		if err := requireGlobalAdmin(ctx); err != nil {
			return nil, err
		}
		tenant, _ := servicemethod.TenantFromContext(ctx)
		handle, err := acquireClient(ctx, d, tenant)
		if err != nil {
			return nil, err
		}
		defer d.Pool.Release(handle)

		summary, err := d.Provisioning.ResetPassword(ctx, handle.Client, tenant)
		if err != nil {
			return nil, err
		}
		return map[string]string{"new_password": summary.Password}, nil
	}
}

type generateSchemaRequest struct {
	ModelName      string  `json:"model_name"`
	Dimension      int     `json:"dimension"`
	MetricType     string  `json:"metric_type,omitempty"`
	IndexType      string  `json:"index_type,omitempty"`
	NList          int     `json:"nlist,omitempty"`
	MetadataLength int     `json:"metadata_length,omitempty"`
	TenantCode     string  `json:"tenant_code,omitempty"`
	DropRatioBuild float64 `json:"drop_ratio_build,omitempty"`
}

func generateSchema(d *Deps) servicemethod.OperationFunc {
	return func(ctx context.Context, r *http.Request) (any, error) {
		if err := requireGlobalAdmin(ctx); err != nil {
			return nil, err
		}
		var req generateSchemaRequest
		if err := decodeJSON(r, &req); err != nil {
			return nil, err
		}
		if req.ModelName == "" {
			return nil, errfmt.New(errfmt.KindValidation, "model_name is required")
		}

		tenant, _ := servicemethod.TenantFromContext(ctx)
		metric := domain.Metric(req.MetricType)
		if metric == "" {
			metric = domain.Metric(d.Config.DefaultMetric)
		}
		index := domain.IndexType(req.IndexType)
		if index == "" {
			index = domain.IndexType(d.Config.DefaultIndex)
		}
		nlist := req.NList
		if nlist == 0 {
			nlist = d.Config.DefaultNList
		}

		spec := domain.CollectionSpec{
			TenantCode:     tenant,
			Model:          req.ModelName,
			Dimension:      req.Dimension,
			Metric:         metric,
			IndexType:      index,
			NList:          nlist,
			MetadataLength: req.MetadataLength,
			DropRatioBuild: req.DropRatioBuild,
		}

		handle, err := acquireClient(ctx, d, tenant)
		if err != nil {
			return nil, err
		}
		defer d.Pool.Release(handle)

		if err := d.VectorStore.GenerateSchema(ctx, handle.Client, spec); err != nil {
			return nil, err
		}
		return map[string]any{
			"collection_name":       vectorstore.CollectionName(tenant, req.ModelName),
			"created":               true,
			"index_created":         true,
			"permissions_granted":   true,
		}, nil
	}
}

type embeddedVectorRequest struct {
	Key      string         `json:"key"`
	Chunk    string         `json:"chunk"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type insertRequest struct {
	TenantCode string                  `json:"tenant_code,omitempty"`
	ModelName  string                  `json:"model_name"`
	Data       []embeddedVectorRequest `json:"data"`
}

func insertVectors(d *Deps) servicemethod.OperationFunc {
	return func(ctx context.Context, r *http.Request) (any, error) {
		var req insertRequest
		if err := decodeJSON(r, &req); err != nil {
			return nil, err
		}
		if req.ModelName == "" {
			return nil, errfmt.New(errfmt.KindValidation, "model_name is required")
		}

		tenant, _ := servicemethod.TenantFromContext(ctx)
		vectors := make([]domain.EmbeddedVector, 0, len(req.Data))
		for _, v := range req.Data {
			vectors = append(vectors, domain.EmbeddedVector{
				Key:      v.Key,
				Chunk:    v.Chunk,
				Model:    req.ModelName,
				Metadata: v.Metadata,
				Vector:   v.Vector,
			})
		}

		handle, err := acquireClient(ctx, d, tenant)
		if err != nil {
			return nil, err
		}
		defer d.Pool.Release(handle)

		n, err := d.VectorStore.Insert(ctx, handle.Client, tenant, req.ModelName, vectors)
		if err != nil {
			return nil, err
		}
		return map[string]any{"inserted": n, "flushed": n >= d.Config.AutoFlushMinBatch}, nil
	}
}

type searchRequest struct {
	TenantCode        string    `json:"tenant_code,omitempty"`
	Model             string    `json:"model"`
	Vector            []float32 `json:"vector"`
	Limit             *int      `json:"limit,omitempty"`
	ScoreThreshold    float64   `json:"score_threshold,omitempty"`
	MetricType        string    `json:"metric_type,omitempty"`
	HybridSearch      bool      `json:"hybrid_search,omitempty"`
	TextFilter        string    `json:"text_filter,omitempty"`
	MinimumWordsMatch int       `json:"minimum_words_match,omitempty"`
	IncludeStopWords  bool      `json:"include_stop_words,omitempty"`
}

const defaultSearchLimit = 10

func searchVectors(d *Deps) servicemethod.OperationFunc {
	return func(ctx context.Context, r *http.Request) (any, error) {
		var req searchRequest
		if err := decodeJSON(r, &req); err != nil {
			return nil, err
		}
		if req.Model == "" {
			return nil, errfmt.New(errfmt.KindValidation, "model is required")
		}
		limit := defaultSearchLimit
		if req.Limit != nil {
			if *req.Limit <= 0 {
				return nil, errfmt.New(errfmt.KindValidation, "limit must be greater than zero")
			}
			limit = *req.Limit
		}

		tenant, _ := servicemethod.TenantFromContext(ctx)
		handle, err := acquireClient(ctx, d, tenant)
		if err != nil {
			return nil, err
		}
		defer d.Pool.Release(handle)

		start := time.Now()
		hits, err := d.VectorStore.Search(ctx, handle.Client, vectorstore.SearchRequest{
			Tenant:            tenant,
			Model:             req.Model,
			Vector:            req.Vector,
			Limit:             limit,
			ScoreThreshold:    req.ScoreThreshold,
			Metric:            domain.Metric(req.MetricType),
			Hybrid:            req.HybridSearch,
			TextFilter:        req.TextFilter,
			MinimumWordsMatch: req.MinimumWordsMatch,
			IncludeStopWords:  req.IncludeStopWords,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"results":        toSearchHitResponses(hits),
			"total_count":    len(hits),
			"search_time_ms": time.Since(start).Milliseconds(),
		}, nil
	}
}

// searchHitResponse is the wire shape of one search result; domain.SearchHit
// itself carries no json tags since it is an internal, not a wire, type.
type searchHitResponse struct {
	ID    string         `json:"id"`
	Score float64        `json:"score"`
	Chunk string         `json:"chunk"`
	Meta  map[string]any `json:"metadata,omitempty"`
}

func toSearchHitResponses(hits []domain.SearchHit) []searchHitResponse {
	out := make([]searchHitResponse, 0, len(hits))
	for _, h := range hits {
		out = append(out, searchHitResponse{ID: h.ID, Score: h.Score, Chunk: h.Chunk, Meta: h.Meta})
	}
	return out
}

type configRequest struct {
	Key        string `json:"key"`
	Value      string `json:"value,omitempty"`
	Encrypted  bool   `json:"encrypted,omitempty"`
	TenantCode string `json:"tenant_code,omitempty"`
}

func configAdd(d *Deps) servicemethod.OperationFunc {
	return func(ctx context.Context, r *http.Request) (any, error) {
		if err := requireGlobalAdmin(ctx); err != nil {
			return nil, err
		}
		var req configRequest
		if err := decodeJSON(r, &req); err != nil {
			return nil, err
		}
		if req.Key == "" {
			return nil, errfmt.New(errfmt.KindValidation, "key is required")
		}
		if err := d.ConfigStore.Add(ctx, req.Key, req.TenantCode, req.Value, req.Encrypted); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	}
}

func configGet(d *Deps) servicemethod.OperationFunc {
	return func(ctx context.Context, r *http.Request) (any, error) {
		if err := requireGlobalAdmin(ctx); err != nil {
			return nil, err
		}
		key := r.URL.Query().Get("key")
		tenant := r.URL.Query().Get("tenant_code")
		if key == "" {
			return nil, errfmt.New(errfmt.KindValidation, "key is required")
		}
		entry, err := d.ConfigStore.Get(ctx, key, tenant)
		if err != nil {
			return nil, err
		}
		return map[string]any{"value": entry.Value}, nil
	}
}

func configUpdate(d *Deps) servicemethod.OperationFunc {
	return func(ctx context.Context, r *http.Request) (any, error) {
		if err := requireGlobalAdmin(ctx); err != nil {
			return nil, err
		}
		var req configRequest
		if err := decodeJSON(r, &req); err != nil {
			return nil, err
		}
		if req.Key == "" {
			return nil, errfmt.New(errfmt.KindValidation, "key is required")
		}
		if err := d.ConfigStore.Update(ctx, req.Key, req.TenantCode, req.Value, req.Encrypted); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	}
}

func configDelete(d *Deps) servicemethod.OperationFunc {
	return func(ctx context.Context, r *http.Request) (any, error) {
		if err := requireGlobalAdmin(ctx); err != nil {
			return nil, err
		}
		var req configRequest
		if err := decodeJSON(r, &req); err != nil {
			return nil, err
		}
		if req.Key == "" {
			return nil, errfmt.New(errfmt.KindValidation, "key is required")
		}
		if err := d.ConfigStore.Delete(ctx, req.Key, req.TenantCode); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	}
}
