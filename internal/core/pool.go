package core

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// BrowserInstance is the minimal lifecycle surface the pool needs from a
// real browser connection (go-rod's *rod.Browser in this repository, see
// internal/browser). Kept separate from the full Driver interface so
// the pool has no compile-time dependency on go-rod.
type BrowserInstance interface {
	// HealthCheck performs a fast capability probe (e.g. evaluate 1+1) and
	// reports whether the instance is still usable.
	HealthCheck(ctx context.Context) bool
	// Close releases the underlying browser process/connection.
	Close(ctx context.Context) error
}

// Outcome is how a caller classifies a browser instance on release.
type Outcome int

const (
	OutcomeHealthy Outcome = iota
	OutcomeFailed
)

type pooledInstance struct {
	instance   BrowserInstance
	createdAt  time.Time
	lastUsed   time.Time
	usageCount int
}

// PoolConfig sizes and tunes the pool, generalising original_source's
// BrowserPool::with_config four parameters.
type PoolConfig struct {
	MaxSize     int
	IdleTimeout time.Duration
	MaxLifetime time.Duration
	MaxUsage    int
}

// DefaultPoolConfig matches the original Rust pool's BrowserPool::new().
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSize:     3,
		IdleTimeout: 300 * time.Second,
		MaxLifetime: 3600 * time.Second,
		MaxUsage:    100,
	}
}

// PoolStats mirrors original_source's PoolStats, extended with CurrentIdle
// reported live rather than tracked separately.
type PoolStats struct {
	TotalCreated   int
	TotalDestroyed int
	TotalCheckouts int
	TotalCheckins  int
	CurrentSize    int
	CurrentIdle    int
}

// Factory constructs a new BrowserInstance on demand, e.g. launching or
// attaching to a Chrome process via go-rod.
type Factory func(ctx context.Context) (BrowserInstance, error)

// Pool is the Session/Browser Pool: a bounded set of browser instances,
// reused under a small set of reuse rules and created under a
// semaphore of MaxSize, grounded directly on original_source's
// BrowserPool (poc/src/browser_pool.rs).
type Pool struct {
	cfg     PoolConfig
	factory Factory

	mu    sync.Mutex
	idle  []*pooledInstance
	stats PoolStats

	createSem *semaphore.Weighted

	shuttingDown bool
}

// NewPool constructs a pool with the given configuration and factory.
func NewPool(cfg PoolConfig, factory Factory) *Pool {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1
	}
	return &Pool{
		cfg:       cfg,
		factory:   factory,
		createSem: semaphore.NewWeighted(int64(cfg.MaxSize)),
	}
}

// Handle is the caller's checked-out browser instance. Every acquire path
// must `defer handle.Release(ctx, outcome)` — Go has no Drop, so the
// best-effort "return as Healthy on drop" guarantee is enforced by this
// convention rather than the runtime; a handle
// that is simply discarded without Release leaks its slot until process
// exit and is treated as a caller bug, not a pool responsibility.
type Handle struct {
	pool     *Pool
	pooled   *pooledInstance
	released bool
	mu       sync.Mutex
}

// Instance returns the underlying browser instance.
func (h *Handle) Instance() BrowserInstance {
	return h.pooled.instance
}

// Release returns the instance to the pool (Healthy) or destroys it
// (Failed). Safe to call at most meaningfully once; subsequent calls are
// no-ops.
func (h *Handle) Release(ctx context.Context, outcome Outcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	h.pool.release(ctx, h.pooled, outcome)
}

// Acquire blocks until a slot is available, reusing an idle healthy
// instance when possible or creating one up to MaxSize. Cancellation-safe:
// if ctx is cancelled while waiting for the creation semaphore, no
// half-initialised instance is left behind.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	for {
		p.mu.Lock()
		if p.shuttingDown {
			p.mu.Unlock()
			return nil, Wrap(KindPoolExhausted, "pool is shutting down", nil)
		}
		p.cleanupExpiredLocked(ctx)

		if len(p.idle) > 0 {
			pooled := p.idle[0]
			p.idle = p.idle[1:]

			age := time.Since(pooled.createdAt)
			idleFor := time.Since(pooled.lastUsed)

			// Reuse rule (a)/(b): usage or lifetime exceeded -> destroy.
			if pooled.usageCount >= p.cfg.MaxUsage || age > p.cfg.MaxLifetime {
				p.destroyLocked(ctx, pooled)
				p.mu.Unlock()
				continue
			}

			// Reuse rule (c): idle too long -> health-probe gate.
			if idleFor > p.cfg.IdleTimeout {
				p.mu.Unlock()
				if !pooled.instance.HealthCheck(ctx) {
					p.mu.Lock()
					// A failed health-probe always destroys, conservatively,
					// rather than risk returning a half-broken page to the pool.
					p.destroyLocked(ctx, pooled)
					p.mu.Unlock()
					continue
				}
				p.mu.Lock()
			}

			// Reuse rule (d): reuse.
			pooled.lastUsed = time.Now()
			pooled.usageCount++
			p.stats.TotalCheckouts++
			p.mu.Unlock()
			return &Handle{pool: p, pooled: pooled}, nil
		}
		p.mu.Unlock()
		break
	}

	// No idle instance: create one, guarded by the creation semaphore so
	// total *live* instances (not just concurrent creations) never exceed
	// MaxSize. The permit acquired here is held for the instance's entire
	// lifetime and only released in destroyLocked.
	if err := p.createSem.Acquire(ctx, 1); err != nil {
		return nil, Wrap(KindPoolExhausted, "timed out waiting for a pool slot", err)
	}
	instance, err := p.factory(ctx)
	if err != nil {
		p.createSem.Release(1)
		return nil, Wrap(KindBrowserUnavailable, "failed to create browser instance", err)
	}

	pooled := &pooledInstance{instance: instance, createdAt: time.Now(), lastUsed: time.Now(), usageCount: 1}

	p.mu.Lock()
	p.stats.TotalCreated++
	p.stats.TotalCheckouts++
	p.stats.CurrentSize++
	p.mu.Unlock()

	return &Handle{pool: p, pooled: pooled}, nil
}

func (p *Pool) release(ctx context.Context, pooled *pooledInstance, outcome Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if outcome == OutcomeFailed || p.shuttingDown {
		p.destroyLocked(ctx, pooled)
		return
	}
	pooled.lastUsed = time.Now()
	p.idle = append(p.idle, pooled)
	p.stats.TotalCheckins++
}

// destroyLocked closes the instance, updates counters, and releases the
// creation-semaphore permit the instance has held since Acquire created
// it — the only place that permit is given back, so a live instance
// always holds exactly one permit for its whole lifetime. Caller must
// hold p.mu.
func (p *Pool) destroyLocked(ctx context.Context, pooled *pooledInstance) {
	_ = pooled.instance.Close(ctx)
	p.stats.TotalDestroyed++
	if p.stats.CurrentSize > 0 {
		p.stats.CurrentSize--
	}
	p.createSem.Release(1)
}

// cleanupExpiredLocked removes every idle instance past its lifetime,
// usage, or idle budget in a single sweep, mirroring original_source's
// cleanup_expired. Caller must hold p.mu.
func (p *Pool) cleanupExpiredLocked(ctx context.Context) {
	kept := p.idle[:0]
	now := time.Now()
	for _, pooled := range p.idle {
		age := now.Sub(pooled.createdAt)
		idleFor := now.Sub(pooled.lastUsed)
		if age > p.cfg.MaxLifetime || idleFor > p.cfg.IdleTimeout || pooled.usageCount >= p.cfg.MaxUsage {
			p.destroyLocked(ctx, pooled)
			continue
		}
		kept = append(kept, pooled)
	}
	p.idle = kept
}

// Stats returns a snapshot of pool counters plus the live idle count.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.CurrentIdle = len(p.idle)
	return s
}

// Shutdown drains and closes every idle instance and marks the pool
// refusing new acquisitions; in-flight checked-out handles still release
// normally but are destroyed rather than returned to the idle queue.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shuttingDown = true
	for _, pooled := range p.idle {
		p.destroyLocked(ctx, pooled)
	}
	p.idle = nil
}
