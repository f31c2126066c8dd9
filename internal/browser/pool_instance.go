package browser

import (
	"context"

	"browseragent-core/internal/core"
)

// PooledPage adapts one SessionManager-tracked session into
// core.BrowserInstance (what the pool needs) and exposes the matching
// core.Driver over the same page, so a core.Pool built from
// NewPoolFactory can hand out ready-to-drive instances without the pool
// itself ever importing go-rod.
type PooledPage struct {
	manager   *SessionManager
	sessionID string
	driver    *PageDriver
}

// HealthCheck satisfies core.BrowserInstance; delegates to the driver's
// own liveness probe (a cheap JS evaluate).
func (p *PooledPage) HealthCheck(ctx context.Context) bool {
	return p.driver.IsAlive(ctx)
}

// Close satisfies core.BrowserInstance, tearing down the underlying
// session via the manager so its bookkeeping (persisted session list,
// element registry) stays consistent.
func (p *PooledPage) Close(ctx context.Context) error {
	return p.manager.CloseSession(ctx, p.sessionID)
}

// SessionID returns the session this instance wraps, used by
// SessionIDFor and by callers that need it directly (e.g. to key
// per-session state after Acquire).
func (p *PooledPage) SessionID() string {
	return p.sessionID
}

// NewPoolFactory returns a core.Factory that opens a fresh blank-page
// session per pool slot via manager, grounded on manager.CreateSession's
// existing incognito-context-plus-page path (session_manager.go). The
// pool then governs reuse/eviction (C5); the factory's only job is
// "produce one more ready instance."
func NewPoolFactory(manager *SessionManager) core.Factory {
	return func(ctx context.Context) (core.BrowserInstance, error) {
		sess, err := manager.CreateSession(ctx, "about:blank")
		if err != nil {
			return nil, err
		}
		page, ok := manager.Page(sess.ID)
		if !ok {
			return nil, core.New(core.KindBrowserUnavailable, "session created but page missing: "+sess.ID)
		}
		return &PooledPage{manager: manager, sessionID: sess.ID, driver: NewPageDriver(page)}, nil
	}
}

// DriverFor extracts the core.Driver from a pool-issued instance, the
// function injected into core.NewCoordinator's DriverFor field so C9 can
// drive a checked-out browser without its own go-rod dependency.
func DriverFor(instance core.BrowserInstance) core.Driver {
	pooled, ok := instance.(*PooledPage)
	if !ok {
		return nil
	}
	return pooled.driver
}

// SessionIDFor extracts the session identifier the instance was created
// with, needed wherever core code must label work by session (perception
// cache keys, state store lookups) without the pool exposing its
// internals.
func SessionIDFor(instance core.BrowserInstance) (string, bool) {
	pooled, ok := instance.(*PooledPage)
	if !ok {
		return "", false
	}
	return pooled.sessionID, true
}
