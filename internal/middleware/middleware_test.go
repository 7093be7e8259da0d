package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/floudsdb/vectorgate/internal/domain"
	"github.com/floudsdb/vectorgate/internal/errfmt"
	"github.com/floudsdb/vectorgate/internal/ratelimit"
)

type fakePolicy struct {
	cors    []string
	trusted []string
}

func (p fakePolicy) CORSOrigins(ctx context.Context, tenant string) []string  { return p.cors }
func (p fakePolicy) TrustedHosts(ctx context.Context, tenant string) []string { return p.trusted }

type fakeAuth struct {
	valid map[string]string // user -> secret
	err   error
}

func (a fakeAuth) Validate(ctx context.Context, username, secret, tenant string) (*domain.Client, error) {
	if a.err != nil {
		return nil, a.err
	}
	if a.valid[username] != secret {
		return nil, errfmt.New(errfmt.KindAuthentication, "invalid credentials")
	}
	return &domain.Client{Username: username, TenantCode: tenant}, nil
}

func newTestPipeline() *Pipeline {
	return &Pipeline{
		Policy:        fakePolicy{cors: []string{"https://app.example.com"}, trusted: nil},
		Authenticator: fakeAuth{valid: map[string]string{"alice": "s3cret"}},
		Limiter:       ratelimit.New(ratelimit.Config{IPLimit: 100, TenantDefault: 100}),
		Offenders:     ratelimit.NewOffenderTracker(ratelimit.OffenderConfig{MaxAttempts: 5}),
		Logger:        zap.NewNop(),
		Recorder:      NewMetrics(prometheus.NewRegistry()),
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSAllowsMatchingOriginPreflight(t *testing.T) {
	p := newTestPipeline()
	h := p.CORS(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/search", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRejectsUnmatchedOrigin(t *testing.T) {
	p := newTestPipeline()
	h := p.CORS(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTrustedHostRejectsUnlistedHost(t *testing.T) {
	p := newTestPipeline()
	p.Policy = fakePolicy{trusted: []string{"api.example.com"}}
	h := p.TrustedHost(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	req.Host = "attacker.test"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRejectsMissingCredential(t *testing.T) {
	p := newTestPipeline()
	h := p.Auth(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthAcceptsValidCredentialAndParsesDBBinding(t *testing.T) {
	p := newTestPipeline()
	var boundCtx context.Context
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		boundCtx = r.Context()
		w.WriteHeader(http.StatusOK)
	})
	h := p.Auth(inner)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	req.Header.Set("Authorization", "Bearer alice:s3cret")
	req.Header.Set("X-Tenant-Code", "acme")
	req.Header.Set("Flouds-VectorDB-Token", "db_user|db_secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	binding, ok := DBBindingFromContext(boundCtx)
	require.True(t, ok)
	assert.Equal(t, "db_user", binding.User)
	assert.Equal(t, "db_secret", binding.Secret)

	client, ok := ClientFromContext(boundCtx)
	require.True(t, ok)
	assert.Equal(t, "alice", client.Username)
}

func TestAuthBlocksAfterOffenderThreshold(t *testing.T) {
	p := newTestPipeline()
	p.Offenders = ratelimit.NewOffenderTracker(ratelimit.OffenderConfig{MaxAttempts: 1, Window: time.Minute, BlockFor: time.Minute})
	h := p.Auth(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
		req.Header.Set("Authorization", "Bearer alice:wrong")
		req.RemoteAddr = "203.0.113.9:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	req.Header.Set("Authorization", "Bearer alice:s3cret")
	req.RemoteAddr = "203.0.113.9:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestValidationRejectsNonJSONWriteRequest(t *testing.T) {
	p := newTestPipeline()
	h := p.Validation(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/vectors", strings.NewReader("not json"))
	req.Header.Set("Content-Type", "text/plain")
	req.ContentLength = 8
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidationRejectsMalformedTenantCode(t *testing.T) {
	p := newTestPipeline()
	h := p.Validation(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	req.Header.Set("X-Tenant-Code", "bad tenant!!")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorHandlerRecoversPanic(t *testing.T) {
	p := newTestPipeline()
	h := p.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
