package servicemethod

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floudsdb/vectorgate/internal/errfmt"
)

func TestWrapSuccessEnvelope(t *testing.T) {
	handler := Wrap("insert", func(ctx context.Context, r *http.Request) (any, error) {
		return map[string]int{"inserted": 3}, nil
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/vectors", nil)
	req = req.WithContext(WithTenant(req.Context(), "acme"))
	rec := httptest.NewRecorder()

	handler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.Success)
	assert.Equal(t, "acme", env.TenantCode)
	assert.Equal(t, "insert succeeded", env.Message)
}

func TestWrapMapsTypedErrorToStatusAndEnvelope(t *testing.T) {
	handler := Wrap("search", func(ctx context.Context, r *http.Request) (any, error) {
		return nil, errfmt.New(errfmt.KindSchemaConflict, "dimension mismatch")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", nil)
	rec := httptest.NewRecorder()

	handler(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	var resp errfmt.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, errfmt.KindSchemaConflict, resp.Type)
}

func TestWrapCancelledContextWritesNothing(t *testing.T) {
	handler := Wrap("insert", func(ctx context.Context, r *http.Request) (any, error) {
		return nil, context.Canceled
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/vectors", nil)
	rec := httptest.NewRecorder()

	handler(rec, req)

	assert.Equal(t, 200, rec.Code) // httptest.NewRecorder defaults to 200 when WriteHeader is never called
	assert.Empty(t, rec.Body.Bytes())
}

func TestWriteRateLimitDenied(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteRateLimitDenied(rec, 100, 60, 12, "ip", "")

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var resp errfmt.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.LimitInfo)
	assert.Equal(t, "ip", resp.LimitInfo.LimitType)
}
