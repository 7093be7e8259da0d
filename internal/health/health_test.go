package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floudsdb/vectorgate/internal/config"
)

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func testConfig() *config.Config {
	return &config.Config{
		ServerHost:  "0.0.0.0",
		ServerPort:  "19680",
		DatabaseURL: "postgres://localhost/vectorgate",
		MilvusURI:   "localhost:19530",
		MilvusUser:  "root",
	}
}

func TestHealthReportsHealthyWhenMilvusReachable(t *testing.T) {
	c := New(fakePinger{}, nil, testConfig(), "9.9.9")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c.Health(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Components["milvus"])
	assert.Equal(t, "9.9.9", resp.Version)
}

func TestHealthReportsUnhealthyWhenMilvusUnreachable(t *testing.T) {
	c := New(fakePinger{err: errors.New("dial timeout")}, nil, testConfig(), "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c.Health(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, StatusUnhealthy, resp.Components["milvus"])
}

func TestHealthFlagsMissingConfiguration(t *testing.T) {
	c := New(fakePinger{}, nil, &config.Config{}, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c.Health(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusUnhealthy, resp.Components["configuration"])
}

func TestReadyReturns503WhenMilvusDown(t *testing.T) {
	c := New(fakePinger{err: errors.New("down")}, nil, testConfig(), "")

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	c.Ready(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLiveAlwaysReturns200(t *testing.T) {
	c := New(fakePinger{err: errors.New("down")}, nil, testConfig(), "")

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	c.Live(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConnectionsWithNilPoolReturnsEmptyStats(t *testing.T) {
	c := New(fakePinger{}, nil, testConfig(), "")

	req := httptest.NewRequest(http.MethodGet, "/health/connections", nil)
	rec := httptest.NewRecorder()
	c.Connections(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
