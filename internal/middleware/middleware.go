// Package middleware implements the ordered request interceptor chain:
// CORS → TrustedHost → Auth → RateLimit → Validation → RequestLogging →
// Metrics → ErrorHandler, each stage a func(http.Handler) http.Handler
// composed by the caller in the order above (outermost first).
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/floudsdb/vectorgate/internal/domain"
	"github.com/floudsdb/vectorgate/internal/errfmt"
	"github.com/floudsdb/vectorgate/internal/ratelimit"
	"github.com/floudsdb/vectorgate/internal/security"
	"github.com/floudsdb/vectorgate/internal/servicemethod"
)

type clientKey struct{}

// ClientFromContext returns the authenticated client attached by Auth, if
// any. Route handlers use this to distinguish admin-only operations
// (domain.Client.IsGlobal) from tenant-scoped ones.
func ClientFromContext(ctx context.Context) (*domain.Client, bool) {
	c, ok := ctx.Value(clientKey{}).(*domain.Client)
	return c, ok
}

type dbBindingKey struct{}

// DBBinding is the per-request vector-DB credential pair attached by the
// Auth stage when a Flouds-VectorDB-Token header is present.
type DBBinding struct {
	User   string
	Secret string
}

func withDBBinding(ctx context.Context, b DBBinding) context.Context {
	return context.WithValue(ctx, dbBindingKey{}, b)
}

// DBBindingFromContext returns the DB-binding credentials attached by
// Auth, if any. Used by route handlers that need per-request vector-DB
// credentials rather than a client's own.
func DBBindingFromContext(ctx context.Context) (DBBinding, bool) {
	b, ok := ctx.Value(dbBindingKey{}).(DBBinding)
	return b, ok
}

// Authenticator validates a presented credential against a client
// record, returning the authenticated client on success.
type Authenticator interface {
	Validate(ctx context.Context, username, secret, tenant string) (*domain.Client, error)
}

// PolicyResolver resolves a tenant's CORS-origin and trusted-host
// pattern lists, falling back to the global ("") entry when a
// tenant-specific one is absent.
type PolicyResolver interface {
	CORSOrigins(ctx context.Context, tenant string) []string
	TrustedHosts(ctx context.Context, tenant string) []string
}

var tenantCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)

// Pipeline bundles every middleware stage's dependencies.
type Pipeline struct {
	Policy        PolicyResolver
	Authenticator Authenticator
	Limiter       *ratelimit.Limiter
	Offenders     *ratelimit.OffenderTracker
	Logger        *zap.Logger
	Recorder      *Metrics

	MaxBodyBytes int64
}

func (p *Pipeline) maxBodyBytes() int64 {
	if p.MaxBodyBytes <= 0 {
		return 10 << 20 // 10MiB
	}
	return p.MaxBodyBytes
}

// CORS handles preflight requests and attaches CORS headers to
// matched-origin responses, per spec.md §4.8 step 1.
func (p *Pipeline) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		tenant := headerTenant(r)
		matcher := security.NewMatcher(p.Policy.CORSOrigins(r.Context(), tenant))
		allowed := origin != "" && matcher.MatchAny(origin)

		if r.Method == http.MethodOptions {
			if !allowed {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Tenant-Code, Flouds-VectorDB-Token")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if origin != "" {
			if !allowed {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		next.ServeHTTP(w, r)
	})
}

// TrustedHost rejects requests whose Host header doesn't match the
// tenant's trusted-host patterns, per spec.md §4.8 step 2. An empty
// pattern list means no restriction.
func (p *Pipeline) TrustedHost(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := headerTenant(r)
		patterns := p.Policy.TrustedHosts(r.Context(), tenant)
		if len(patterns) > 0 {
			matcher := security.NewMatcher(patterns)
			if !matcher.MatchAny(hostOnly(r.Host)) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Auth extracts the bearer credential and tenant, validates it against
// KeyManager, and (for DB-binding requests) parses the vector-DB
// credential header, per spec.md §4.8 step 3.
func (p *Pipeline) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if blocked, _ := p.Offenders.IsBlocked(ip); blocked {
			writeUnauthorized(w, "too many failed attempts")
			return
		}

		user, secret, ok := parseBearerCredential(r.Header.Get("Authorization"))
		if !ok {
			writeUnauthorized(w, "missing or malformed credential")
			return
		}

		tenant, body := resolveTenant(r)
		if body != nil {
			r.Body = io.NopCloser(bytes.NewReader(body))
		}

		client, err := p.Authenticator.Validate(r.Context(), user, secret, tenant)
		if err != nil {
			p.Offenders.RegisterFailure(ip)
			writeUnauthorized(w, "invalid credentials")
			return
		}
		p.Offenders.Reset(ip)

		effectiveTenant := tenant
		if effectiveTenant == "" {
			effectiveTenant = client.TenantCode
		}
		ctx := servicemethod.WithTenant(r.Context(), effectiveTenant)
		ctx = context.WithValue(ctx, clientKey{}, client)

		if token := r.Header.Get("Flouds-VectorDB-Token"); token != "" {
			if dbUser, dbSecret, ok := parseDBBindingToken(token); ok {
				ctx = withDBBinding(ctx, DBBinding{User: dbUser, Secret: dbSecret})
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimit checks the IP bucket first, then the tenant bucket if the
// tenant is resolvable, per spec.md §4.8 step 4.
func (p *Pipeline) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		d, err := p.Limiter.AllowIP(ctx, clientIP(r))
		if err == nil && !d.Allowed {
			servicemethod.WriteRateLimitDenied(w, d.Limit, d.Period, d.RetryAfter, "ip", "")
			return
		}

		if tenant, ok := servicemethod.TenantFromContext(ctx); ok && tenant != "" {
			td, tier, err := p.Limiter.AllowTenant(ctx, tenant)
			if err == nil && !td.Allowed {
				servicemethod.WriteRateLimitDenied(w, td.Limit, td.Period, td.RetryAfter, "tenant", tier)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// Validation enforces the request size cap, JSON content-type for
// write methods, and the tenant-code format, per spec.md §4.8 step 5.
func (p *Pipeline) Validation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > p.maxBodyBytes() {
			writeValidationError(w, "request body too large")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, p.maxBodyBytes())

		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if r.ContentLength > 0 && !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
				writeValidationError(w, "content-type must be application/json")
				return
			}
		}

		if tenant := r.Header.Get("X-Tenant-Code"); tenant != "" && !tenantCodePattern.MatchString(tenant) {
			writeValidationError(w, "invalid tenant code")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequestLogging logs method, path, tenant, status and duration once the
// response is written, per spec.md §4.8 step 6.
func (p *Pipeline) RequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		tenant, _ := servicemethod.TenantFromContext(r.Context())
		p.Logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("tenant", errfmt.SanitizeMessage(tenant)),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// Metrics records request counters and latency histograms, per spec.md
// §4.8 step 7.
func (p *Pipeline) Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		if p.Recorder != nil {
			p.Recorder.Observe(r.Method, r.URL.Path, rec.status, time.Since(start))
		}
	})
}

// ErrorHandler is the last-resort translation of an uncaught panic into
// the sanitised error envelope, per spec.md §4.8 step 8.
func (p *Pipeline) ErrorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if p.Logger != nil {
					p.Logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				}
				typed := errfmt.New(errfmt.KindInternal, "internal server error")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(errfmt.StatusFor(typed.Kind))
				_ = json.NewEncoder(w).Encode(errfmt.Format(typed))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func headerTenant(r *http.Request) string {
	return r.Header.Get("X-Tenant-Code")
}

// resolveTenant implements the precedence policy from spec.md §4.8:
// header first, then a "tenant_code" body field, else global. When the
// body is consumed to look for that field, its bytes are returned so the
// caller can restore r.Body for downstream handlers.
func resolveTenant(r *http.Request) (tenant string, body []byte) {
	if t := headerTenant(r); t != "" {
		return t, nil
	}
	if r.Body == nil || r.Method == http.MethodGet {
		return "", nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return "", raw
	}
	var probe struct {
		TenantCode string `json:"tenant_code"`
	}
	_ = json.Unmarshal(raw, &probe)
	return probe.TenantCode, raw
}

func parseBearerCredential(header string) (user, secret string, ok bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", "", false
	}
	cred := strings.TrimPrefix(header, prefix)
	parts := strings.SplitN(cred, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func parseDBBindingToken(token string) (user, secret string, ok bool) {
	sep := "|"
	if !strings.Contains(token, sep) {
		sep = ":"
	}
	parts := strings.SplitN(token, sep, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func hostOnly(host string) string {
	h, _, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	return h
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	typed := errfmt.New(errfmt.KindAuthentication, message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errfmt.StatusFor(typed.Kind))
	_ = json.NewEncoder(w).Encode(errfmt.Format(typed))
}

func writeValidationError(w http.ResponseWriter, message string) {
	typed := errfmt.New(errfmt.KindValidation, message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errfmt.StatusFor(typed.Kind))
	_ = json.NewEncoder(w).Encode(errfmt.Format(typed))
}
