package core

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CacheEntry is one stored value plus the bookkeeping needed for TTL
// expiry, tie-breaking between equal-hash entries, and cache statistics.
type CacheEntry struct {
	Value       interface{}
	CreatedAt   time.Time
	ExpiresAt   time.Time
	AccessCount int
	LastAccess  time.Time
	ToolName    string
	SessionID   string
}

func (e *CacheEntry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

const cacheShardCount = 16 // power of two, so fnv&mask is a cheap shard pick

// cacheShard is one independently-locked partition of the cache, backed by
// an LRU so that within-shard eviction is O(1) rather than the
// sort-by-last-accessed sweep the original Rust ToolCache performed.
type cacheShard struct {
	mu  sync.RWMutex
	lru *lru.Cache[string, *CacheEntry]
}

// MultiLevelCache is the TTL+LRU store keyed by (session, page fingerprint,
// tool/mode, input hash). It never holds a reference to the StateStore or
// the EventBus's subscriber list; it only subscribes to navigation
// events, avoiding a cyclic cache->state->cache reference.
type MultiLevelCache struct {
	shards      [cacheShardCount]*cacheShard
	maxPerShard int

	mu           sync.RWMutex
	currentURL   map[string]string // sessionID -> last known URL
	policies     map[string]CachePolicy
	defaultPolicy CachePolicy
}

// DefaultToolPolicies mirrors the illustrative cache-policy-by-tool-class
// table, grounded 1:1 on original_source's get_tool_config.
func DefaultToolPolicies() map[string]CachePolicy {
	return map[string]CachePolicy{
		"screenshot":       {Enabled: true, TTL: 60 * time.Second, InvalidateOnNavigation: true},
		"extract_text":     {Enabled: true, TTL: 120 * time.Second, InvalidateOnNavigation: true},
		"extract_links":    {Enabled: true, TTL: 120 * time.Second, InvalidateOnNavigation: true},
		"extract_data":     {Enabled: true, TTL: 120 * time.Second, InvalidateOnNavigation: true},
		"wait_for_element": {Enabled: false, TTL: 10 * time.Second, InvalidateOnNavigation: true},
		"wait_for_condition": {Enabled: false, TTL: 10 * time.Second, InvalidateOnNavigation: true},
		"navigate":         {Enabled: false},
		"click":            {Enabled: false},
		"type":             {Enabled: false},
		"select":           {Enabled: false},
		"session_memory":   {Enabled: true, TTL: 0, InvalidateOnNavigation: false},
		"persistent_cache": {Enabled: true, TTL: 0, InvalidateOnNavigation: false},
		"history":          {Enabled: true, TTL: 0, InvalidateOnNavigation: false},
	}
}

// NewMultiLevelCache builds a sharded cache; maxEntriesPerShard bounds each
// shard's LRU independently so a single hot shard cannot starve others.
func NewMultiLevelCache(maxEntriesPerShard int) *MultiLevelCache {
	if maxEntriesPerShard <= 0 {
		maxEntriesPerShard = 100
	}
	c := &MultiLevelCache{
		maxPerShard:   maxEntriesPerShard,
		currentURL:    make(map[string]string),
		policies:      DefaultToolPolicies(),
		defaultPolicy: CachePolicy{Enabled: true, TTL: 300 * time.Second, InvalidateOnNavigation: false},
	}
	for i := range c.shards {
		l, _ := lru.New[string, *CacheEntry](maxEntriesPerShard)
		c.shards[i] = &cacheShard{lru: l}
	}
	return c
}

// PolicyFor returns the declared cache policy for a tool, falling back to
// the default policy if the tool has no class-specific entry.
func (c *MultiLevelCache) PolicyFor(toolName string) CachePolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.policies[toolName]; ok {
		return p
	}
	return c.defaultPolicy
}

// SetPolicy overrides the cache policy for a tool, used by tool
// registration to declare non-default policies.
func (c *MultiLevelCache) SetPolicy(toolName string, p CachePolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies[toolName] = p
}

func (c *MultiLevelCache) shardFor(key string) *cacheShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()&(cacheShardCount-1)]
}

// Key computes the cache fingerprint over (tool, normalised input,
// session, current URL), per the glossary's "cache fingerprint" entry.
func Key(toolName, sessionID, url, normalisedInput string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(toolName))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(sessionID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(url))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(normalisedInput))
	return toolName + ":" + fnvHex(h.Sum64())
}

func fnvHex(v uint64) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[v&0xf]
		v >>= 4
	}
	return string(buf)
}

// Get returns the cached value for key if present and unexpired, bumping
// its access stats. The bool return is false on miss or expiry.
func (c *MultiLevelCache) Get(toolName, key string) (*CacheEntry, bool) {
	policy := c.PolicyFor(toolName)
	if !policy.Enabled {
		return nil, false
	}
	shard := c.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.lru.Get(key)
	if !ok {
		return nil, false
	}
	if entry.expired(time.Now()) {
		shard.lru.Remove(key)
		return nil, false
	}
	entry.AccessCount++
	entry.LastAccess = time.Now()
	return entry, true
}

// Set stores a value under key per the tool's declared policy. A disabled
// policy makes this a no-op: a caching failure never surfaces to the
// caller, it just means the value isn't cached.
func (c *MultiLevelCache) Set(toolName, sessionID, key string, value interface{}) {
	policy := c.PolicyFor(toolName)
	if !policy.Enabled {
		return
	}
	now := time.Now()
	entry := &CacheEntry{
		Value:       value,
		CreatedAt:   now,
		LastAccess:  now,
		AccessCount: 0,
		ToolName:    toolName,
		SessionID:   sessionID,
	}
	if policy.TTL > 0 {
		entry.ExpiresAt = now.Add(policy.TTL)
	} else {
		entry.ExpiresAt = now.Add(100 * 365 * 24 * time.Hour) // effectively unbounded
	}

	shard := c.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.lru.Add(key, entry)
}

// OnNavigation invalidates every cache entry whose tool policy requests
// invalidate-on-navigation, but only when the session's URL actually
// changed — matching the original Rust cache's on_navigation guard, which
// avoids needless flushes on same-page navigations (hash changes, SPA
// route updates that don't alter the reported URL).
func (c *MultiLevelCache) OnNavigation(sessionID, newURL string) {
	c.mu.Lock()
	prev, known := c.currentURL[sessionID]
	c.currentURL[sessionID] = newURL
	c.mu.Unlock()

	if known && prev == newURL {
		return
	}

	for _, shard := range c.shards {
		shard.mu.Lock()
		for _, key := range shard.lru.Keys() {
			entry, ok := shard.lru.Peek(key)
			if !ok || entry.SessionID != sessionID {
				continue
			}
			if c.PolicyFor(entry.ToolName).InvalidateOnNavigation {
				shard.lru.Remove(key)
			}
		}
		shard.mu.Unlock()
	}
}

// SubscribeNavigation drains bus until ctx is cancelled, invalidating the
// cache via OnNavigation on every EventNavigationComplete — the
// subscriber this cache's own design note above promises, run as a
// long-lived goroutine from main the same way telemetry.Metrics.Subscribe
// and recorder.Recorder.Subscribe drain the same bus.
func (c *MultiLevelCache) SubscribeNavigation(ctx context.Context, bus *EventBus) {
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if evt.Kind == EventNavigationComplete {
				c.OnNavigation(evt.SessionID, evt.URL)
			}
		}
	}
}

// CleanupExpired sweeps every shard removing expired entries. Intended to
// be called from a background goroutine on a ticker.
func (c *MultiLevelCache) CleanupExpired() int {
	now := time.Now()
	removed := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		for _, key := range shard.lru.Keys() {
			entry, ok := shard.lru.Peek(key)
			if ok && entry.expired(now) {
				shard.lru.Remove(key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// RunCleanupLoop blocks, running CleanupExpired on each tick until stop is
// closed. Callers spawn this as a goroutine at startup and close the
// channel at shutdown.
func (c *MultiLevelCache) RunCleanupLoop(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.CleanupExpired()
		}
	}
}

// Stats summarises cache occupancy, for diagnostics/metrics.
type CacheStats struct {
	TotalEntries int
	PerShard     [cacheShardCount]int
}

func (c *MultiLevelCache) Stats() CacheStats {
	var s CacheStats
	for i, shard := range c.shards {
		shard.mu.RLock()
		n := shard.lru.Len()
		shard.mu.RUnlock()
		s.PerShard[i] = n
		s.TotalEntries += n
	}
	return s
}
