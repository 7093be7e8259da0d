// Package servicemethod implements the uniform wrapper every data/control
// plane handler goes through: timing, error-kind classification, and the
// canonical response envelope.
package servicemethod

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/floudsdb/vectorgate/internal/errfmt"
)

type contextKey string

const tenantContextKey contextKey = "tenant_code"

// WithTenant attaches the resolved tenant code to ctx, set by the
// middleware pipeline's tenant-resolution stage before the handler runs.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantContextKey, tenant)
}

// TenantFromContext returns the tenant code attached by WithTenant.
func TenantFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tenantContextKey).(string)
	return v, ok
}

// OperationFunc is the inner handler a route wires up: it receives the
// request (for body/query access) and returns the value to place under
// Envelope.Results, or a typed error.
type OperationFunc func(ctx context.Context, r *http.Request) (results any, err error)

// Envelope is the canonical response shape for every successful
// operation.
type Envelope struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	TenantCode  string `json:"tenant_code,omitempty"`
	Timestamp   string `json:"timestamp"`
	Results     any    `json:"results,omitempty"`
	TimeTakenMs int64  `json:"time_taken_ms"`
}

// Wrap adapts an OperationFunc into an http.HandlerFunc: it times the
// call, classifies any error via errfmt, and shapes the response into
// Envelope on success.
func Wrap(name string, fn OperationFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()

		results, err := fn(ctx, r)
		elapsed := time.Since(start).Milliseconds()

		if err != nil {
			writeError(w, ctx, err)
			return
		}

		tenant, _ := TenantFromContext(ctx)
		writeJSON(w, http.StatusOK, Envelope{
			Success:     true,
			Message:     name + " succeeded",
			TenantCode:  tenant,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
			Results:     results,
			TimeTakenMs: elapsed,
		})
	}
}

// writeError classifies err via errfmt and writes the sanitised error
// envelope. A cancelled request context is treated as a non-logged,
// non-500 client-disconnect outcome: nothing is written back.
func writeError(w http.ResponseWriter, ctx context.Context, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	typed := errfmt.AsError(err)
	writeJSON(w, errfmt.StatusFor(typed.Kind), errfmt.Format(typed))
}

// WriteRateLimitDenied writes the 429 envelope for a rate-limit denial,
// used directly by the middleware pipeline's RateLimit stage (which runs
// before any OperationFunc and so never goes through Wrap).
func WriteRateLimitDenied(w http.ResponseWriter, limit, period, retryAfter int, limitType, tier string) {
	writeJSON(w, http.StatusTooManyRequests, errfmt.FormatRateLimit(limit, period, retryAfter, limitType, tier))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
