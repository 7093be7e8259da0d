// Package pool implements the reference-counted, idle-evicted connection
// pool of vector-database clients keyed by (uri, user, database).
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/floudsdb/vectorgate/internal/errfmt"
	"github.com/floudsdb/vectorgate/internal/milvusclient"
)

// Key identifies one pool entry. Secrets are deliberately not part of the
// key: they are only used to construct a client on first miss.
type Key struct {
	URI string
	User string
	DB   string
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%s/%s", k.User, k.URI, k.DB)
}

// Dialer constructs a new underlying client for a key. Swappable in tests.
type Dialer func(ctx context.Context, key Key, secret string) (milvusclient.Client, error)

type entry struct {
	client        milvusclient.Client
	createdAt     time.Time
	lastUsedAt    time.Time
	inFlightCount int
}

// Handle is an opaque acquired reference returned by Acquire.
type Handle struct {
	key    Key
	Client milvusclient.Client
}

// Stats mirrors the pool's §4.3 stats() contract.
type Stats struct {
	Active int
	Idle   int
	ByKey  map[string]KeyStats
}

type KeyStats struct {
	InFlight   int
	AgeSeconds float64
	IdleSeconds float64
}

// ErrPoolExhausted is returned when the hard ceiling is reached and no
// entry is evictable.
var ErrPoolExhausted = errfmt.New(errfmt.KindConnection, "connection pool exhausted")

// Pool is the ConnectionPool.
type Pool struct {
	dial Dialer

	maxEntries int
	maxIdle    time.Duration
	sweepEvery time.Duration

	mu      sync.Mutex
	entries map[Key]*entry
	locks   map[Key]*sync.Mutex

	closed bool

	stopSweep context.CancelFunc
	wg        sync.WaitGroup
}

// Config bundles the pool's sizing knobs, defaulted per spec.md §4.3.
type Config struct {
	MaxEntries   int
	MaxIdle      time.Duration
	SweepEvery   time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxEntries <= 0 {
		c.MaxEntries = 64
	}
	if c.MaxIdle <= 0 {
		c.MaxIdle = 5 * time.Minute
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 60 * time.Second
	}
}

// New creates a Pool and starts its background idle sweeper.
func New(dial Dialer, cfg Config) *Pool {
	cfg.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		dial:       dial,
		maxEntries: cfg.MaxEntries,
		maxIdle:    cfg.MaxIdle,
		sweepEvery: cfg.SweepEvery,
		entries:    make(map[Key]*entry),
		locks:      make(map[Key]*sync.Mutex),
		stopSweep:  cancel,
	}

	p.wg.Add(1)
	go p.sweepLoop(ctx)

	return p
}

// Acquire returns a handle bound to a live client for key, constructing
// one under a per-key creation lock on first miss.
func (p *Pool) Acquire(ctx context.Context, key Key, secret string) (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errfmt.New(errfmt.KindConnection, "pool is closed")
	}

	if e, ok := p.entries[key]; ok {
		e.inFlightCount++
		e.lastUsedAt = time.Now()
		p.mu.Unlock()
		return &Handle{key: key, Client: e.client}, nil
	}

	if len(p.entries) >= p.maxEntries {
		if !p.evictOneIdleLocked() {
			p.mu.Unlock()
			return nil, ErrPoolExhausted
		}
	}

	keyLock := p.creationLockLocked(key)
	p.mu.Unlock()

	keyLock.Lock()
	defer keyLock.Unlock()

	// Re-check: another goroutine may have created the entry while we
	// waited for the per-key creation lock (thundering-herd guard).
	p.mu.Lock()
	if e, ok := p.entries[key]; ok {
		e.inFlightCount++
		e.lastUsedAt = time.Now()
		p.mu.Unlock()
		return &Handle{key: key, Client: e.client}, nil
	}
	p.mu.Unlock()

	client, err := p.dial(ctx, key, secret)
	if err != nil {
		return nil, errfmt.Wrap(errfmt.KindConnection, "failed to connect to vector database", err)
	}

	now := time.Now()
	p.mu.Lock()
	p.entries[key] = &entry{client: client, createdAt: now, lastUsedAt: now, inFlightCount: 1}
	p.mu.Unlock()

	return &Handle{key: key, Client: client}, nil
}

// Release returns a handle to the pool, decrementing its in-flight count.
func (p *Pool) Release(h *Handle) {
	if h == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[h.key]
	if !ok {
		return
	}
	if e.inFlightCount > 0 {
		e.inFlightCount--
	}
	e.lastUsedAt = time.Now()
}

// Stats reports the pool's current state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	byKey := make(map[string]KeyStats, len(p.entries))
	idle := 0
	for k, e := range p.entries {
		if e.inFlightCount == 0 {
			idle++
		}
		byKey[k.String()] = KeyStats{
			InFlight:    e.inFlightCount,
			AgeSeconds:  now.Sub(e.createdAt).Seconds(),
			IdleSeconds: now.Sub(e.lastUsedAt).Seconds(),
		}
	}
	return Stats{Active: len(p.entries), Idle: idle, ByKey: byKey}
}

// Close stops the sweeper, waits up to grace for in-flight operations to
// finish, then closes every entry.
func (p *Pool) Close(grace time.Duration) {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.stopSweep()
	p.wg.Wait()

	deadline := time.Now().Add(grace)
	for {
		p.mu.Lock()
		pending := 0
		for _, e := range p.entries {
			if e.inFlightCount > 0 {
				pending++
			}
		}
		p.mu.Unlock()
		if pending == 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	p.mu.Lock()
	for k, e := range p.entries {
		_ = e.client.Close()
		delete(p.entries, k)
	}
	p.mu.Unlock()
}

func (p *Pool) sweepLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepIdle()
		}
	}
}

func (p *Pool) sweepIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for k, e := range p.entries {
		if e.inFlightCount == 0 && now.Sub(e.lastUsedAt) > p.maxIdle {
			_ = e.client.Close()
			delete(p.entries, k)
			delete(p.locks, k)
		}
	}
}

// evictOneIdleLocked removes the least-recently-used idle entry, freeing
// a slot under the hard ceiling. Caller holds p.mu. Returns false if no
// entry is evictable (every entry has in_flight_count > 0).
func (p *Pool) evictOneIdleLocked() bool {
	var oldestKey Key
	var oldest time.Time
	found := false
	for k, e := range p.entries {
		if e.inFlightCount != 0 {
			continue
		}
		if !found || e.lastUsedAt.Before(oldest) {
			oldestKey = k
			oldest = e.lastUsedAt
			found = true
		}
	}
	if !found {
		return false
	}
	_ = p.entries[oldestKey].client.Close()
	delete(p.entries, oldestKey)
	delete(p.locks, oldestKey)
	return true
}

func (p *Pool) creationLockLocked(key Key) *sync.Mutex {
	l, ok := p.locks[key]
	if !ok {
		l = &sync.Mutex{}
		p.locks[key] = l
	}
	return l
}
