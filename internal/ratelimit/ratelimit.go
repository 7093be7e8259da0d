// Package ratelimit implements the two-tier fixed-window rate limiter
// (per-IP and per-tenant with tier-based quotas) plus an independent
// auth-failure offender tracker.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/floudsdb/vectorgate/internal/domain"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter int // seconds, only meaningful when !Allowed
	Limit      int
	Period     int
}

type bucket struct {
	windowStart time.Time
	count       int
	lastSeen    time.Time
}

// evaluate runs the fixed-window algorithm from spec.md §4.5 against b,
// mutating it in place, and returns the resulting Decision.
func evaluate(b *bucket, limit int, period time.Duration, now time.Time) Decision {
	if now.Sub(b.windowStart) >= period {
		b.windowStart = now
		b.count = 0
	}
	b.count++
	b.lastSeen = now

	if b.count > limit {
		retryAfter := period - now.Sub(b.windowStart)
		return Decision{Allowed: false, RetryAfter: int(retryAfter.Seconds()), Limit: limit, Period: int(period.Seconds())}
	}
	return Decision{Allowed: true, Remaining: limit - b.count, Limit: limit, Period: int(period.Seconds())}
}

// TierLookup resolves a tenant's rate-limit tier ("default" | "premium"),
// backed by ConfigStore (and its in-memory cache) in the real wiring.
type TierLookup func(ctx context.Context, tenant string) (string, error)

// Limiter is the two-tier RateLimiter.
type Limiter struct {
	ipLimit  int
	ipPeriod time.Duration

	tenantTiers  map[string]int
	tenantPeriod time.Duration
	maxInactive  time.Duration

	redis *redis.Client

	tenantBuckets  *domain.ConcurrentMap[string, *bucket]
	tenantBucketMu sync.Mutex // guards the evaluate-under-lock step for tenant buckets

	tierLookup TierLookup

	ipBucketsMu sync.Mutex
	ipBuckets   map[string]*bucket
}

// Config bundles the limiter's tunables, defaulted per spec.md §4.5.
type Config struct {
	IPLimit       int
	IPPeriod      time.Duration
	TenantDefault int
	TenantPremium int
	TenantPeriod  time.Duration
	MaxInactive   time.Duration
	RedisClient   *redis.Client
	TierLookup    TierLookup
}

func (c *Config) applyDefaults() {
	if c.IPLimit <= 0 {
		c.IPLimit = 100
	}
	if c.IPPeriod <= 0 {
		c.IPPeriod = 60 * time.Second
	}
	if c.TenantDefault <= 0 {
		c.TenantDefault = 200
	}
	if c.TenantPremium <= 0 {
		c.TenantPremium = 1000
	}
	if c.TenantPeriod <= 0 {
		c.TenantPeriod = 60 * time.Second
	}
	if c.MaxInactive <= 0 {
		c.MaxInactive = 3600 * time.Second
	}
}

func New(cfg Config) *Limiter {
	cfg.applyDefaults()
	return &Limiter{
		ipLimit:       cfg.IPLimit,
		ipPeriod:      cfg.IPPeriod,
		tenantTiers:   map[string]int{"default": cfg.TenantDefault, "premium": cfg.TenantPremium},
		tenantPeriod:  cfg.TenantPeriod,
		maxInactive:   cfg.MaxInactive,
		redis:         cfg.RedisClient,
		tenantBuckets: domain.NewConcurrentMap[string, *bucket](),
		tierLookup:    cfg.TierLookup,
		ipBuckets:     make(map[string]*bucket),
	}
}

// AllowIP checks the per-IP bucket. When a Redis client is configured the
// counter is kept there (INCR+EXPIRE) so multiple gateway instances share
// IP throttling; otherwise it falls back to an in-process bucket.
func (l *Limiter) AllowIP(ctx context.Context, ip string) (Decision, error) {
	if l.redis != nil {
		return l.allowIPRedis(ctx, ip)
	}
	return l.allowIPLocal(ip), nil
}

func (l *Limiter) allowIPLocal(ip string) Decision {
	l.ipBucketsMu.Lock()
	defer l.ipBucketsMu.Unlock()
	b, ok := l.ipBuckets[ip]
	if !ok {
		b = &bucket{windowStart: time.Now()}
		l.ipBuckets[ip] = b
	}
	return evaluate(b, l.ipLimit, l.ipPeriod, time.Now())
}

func (l *Limiter) allowIPRedis(ctx context.Context, ip string) (Decision, error) {
	windowID := time.Now().Unix() / int64(l.ipPeriod.Seconds())
	key := fmt.Sprintf("ratelimit:ip:%s:%d", ip, windowID)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, err
	}
	if count == 1 {
		l.redis.Expire(ctx, key, l.ipPeriod)
	}

	if count > int64(l.ipLimit) {
		ttl, err := l.redis.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = l.ipPeriod
		}
		return Decision{Allowed: false, RetryAfter: int(ttl.Seconds()), Limit: l.ipLimit, Period: int(l.ipPeriod.Seconds())}, nil
	}
	return Decision{Allowed: true, Remaining: l.ipLimit - int(count), Limit: l.ipLimit, Period: int(l.ipPeriod.Seconds())}, nil
}

// AllowTenant checks the per-tenant bucket, resolving the tenant's tier
// through TierLookup (ConfigStore-backed in the real wiring).
func (l *Limiter) AllowTenant(ctx context.Context, tenant string) (Decision, string, error) {
	tier := "default"
	if l.tierLookup != nil {
		if t, err := l.tierLookup(ctx, tenant); err == nil && t != "" {
			tier = t
		}
	}

	limit, ok := l.tenantTiers[tier]
	if !ok {
		limit = l.tenantTiers["default"]
	}

	b := l.tenantBuckets.GetOrAdd(tenant, func() *bucket {
		return &bucket{windowStart: time.Now()}
	})

	l.tenantBucketMu.Lock()
	defer l.tenantBucketMu.Unlock()
	return evaluate(b, limit, l.tenantPeriod, time.Now()), tier, nil
}

// CleanupInactive removes tenant buckets whose last_seen predates
// MaxInactive. cmd/server runs it from a ticker goroutine at the pool's
// sweep interval.
func (l *Limiter) CleanupInactive() {
	now := time.Now()
	var stale []string
	l.tenantBuckets.Range(func(tenant string, b *bucket) bool {
		if now.Sub(b.lastSeen) > l.maxInactive {
			stale = append(stale, tenant)
		}
		return true
	})
	for _, tenant := range stale {
		l.tenantBuckets.Remove(tenant)
	}
}

func (l *Limiter) Close() error {
	if l.redis != nil {
		return l.redis.Close()
	}
	return nil
}
