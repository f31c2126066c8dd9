package tools

import (
	"sync"
	"time"

	"browseragent-core/internal/core"

	lru "github.com/hashicorp/golang-lru/v2"
)

// session_memory / persistent_cache / history are the Memory-category
// tools marked "tool-internal" in the cache-policy table — the tool
// manages its own store rather than going through the shared cache.
// internal/mcp has no direct equivalent; the shape here — opaque JSON
// blobs keyed by string, a persistent cache with a TTL+LRU cap — uses
// the same hashicorp/golang-lru already wired for the shared cache in
// internal/core/cache.go.

const historyRingSize = 50

var memoryStore = struct {
	mu   sync.Mutex
	data map[string]map[string]interface{} // sessionID -> key -> value
}{data: make(map[string]map[string]interface{})}

var historyStore = struct {
	mu   sync.Mutex
	urls map[string][]string // sessionID -> recently visited URLs, newest last
}{urls: make(map[string][]string)}

type persistentEntry struct {
	value     interface{}
	expiresAt time.Time
	hasTTL    bool
}

var persistentStore = struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *persistentEntry]
}{}

func init() {
	c, _ := lru.New[string, *persistentEntry](1000)
	persistentStore.cache = c
}

func recordVisit(sessionID, url string) {
	if sessionID == "" || url == "" {
		return
	}
	historyStore.mu.Lock()
	defer historyStore.mu.Unlock()
	list := historyStore.urls[sessionID]
	list = append(list, url)
	if len(list) > historyRingSize {
		list = list[len(list)-historyRingSize:]
	}
	historyStore.urls[sessionID] = list
}

// sessionMemoryDescriptor is a per-session key/value store: store/retrieve/
// delete an opaque JSON value. The store is keyed by session id, held in
// process memory and never written to disk; nothing clears a session's
// bucket when the session ends, so values last until deleted or process exit.
func sessionMemoryDescriptor() *core.ToolDescriptor {
	return &core.ToolDescriptor{
		Name:           "session_memory",
		Category:       core.CategoryMemory,
		InputSchema:    requireStrings("op", "key"),
		Cache:          core.CachePolicy{Enabled: false},
		Timeout:        5 * time.Second,
		DisableRetries: true,
		Handler: func(ectx *core.ExecutionContext, input map[string]interface{}) (map[string]interface{}, error) {
			op := stringArg(input, "op")
			key := stringArg(input, "key")

			memoryStore.mu.Lock()
			defer memoryStore.mu.Unlock()
			bucket, ok := memoryStore.data[ectx.SessionID]
			if !ok {
				bucket = make(map[string]interface{})
				memoryStore.data[ectx.SessionID] = bucket
			}

			switch op {
			case "store":
				bucket[key] = input["value"]
				return map[string]interface{}{"stored": true}, nil
			case "retrieve":
				v, found := bucket[key]
				return map[string]interface{}{"found": found, "value": v}, nil
			case "delete":
				_, found := bucket[key]
				delete(bucket, key)
				return map[string]interface{}{"deleted": found}, nil
			default:
				return nil, core.New(core.KindInvalidInput, "op must be one of store|retrieve|delete")
			}
		},
	}
}

// persistentCacheDescriptor is a process-wide, TTL-bounded, LRU-capped
// key/value store shared across sessions.
func persistentCacheDescriptor() *core.ToolDescriptor {
	return &core.ToolDescriptor{
		Name:           "persistent_cache",
		Category:       core.CategoryMemory,
		InputSchema:    requireStrings("op", "key"),
		Cache:          core.CachePolicy{Enabled: false},
		Timeout:        5 * time.Second,
		DisableRetries: true,
		Handler: func(ectx *core.ExecutionContext, input map[string]interface{}) (map[string]interface{}, error) {
			op := stringArg(input, "op")
			key := stringArg(input, "key")

			persistentStore.mu.Lock()
			defer persistentStore.mu.Unlock()

			switch op {
			case "store":
				entry := &persistentEntry{value: input["value"]}
				if ttlSec := intArg(input, "ttl_seconds", 0); ttlSec > 0 {
					entry.hasTTL = true
					entry.expiresAt = time.Now().Add(time.Duration(ttlSec) * time.Second)
				}
				persistentStore.cache.Add(key, entry)
				return map[string]interface{}{"stored": true}, nil
			case "retrieve":
				entry, found := persistentStore.cache.Get(key)
				if !found {
					return map[string]interface{}{"found": false}, nil
				}
				if entry.hasTTL && time.Now().After(entry.expiresAt) {
					persistentStore.cache.Remove(key)
					return map[string]interface{}{"found": false}, nil
				}
				return map[string]interface{}{"found": true, "value": entry.value}, nil
			case "delete":
				found := persistentStore.cache.Remove(key)
				return map[string]interface{}{"deleted": found}, nil
			default:
				return nil, core.New(core.KindInvalidInput, "op must be one of store|retrieve|delete")
			}
		},
	}
}

// historyDescriptor reports the ring buffer of recently navigated URLs
// for a session, populated by navigateDescriptor's recordVisit on every
// successful navigation. Grounded on internal/mcp/navigation_state.go's
// BrowserHistoryTool, minus the back/forward Rod calls (those already
// live on the navigate tool's semantics via the driver's own history).
func historyDescriptor() *core.ToolDescriptor {
	return &core.ToolDescriptor{
		Name:           "history",
		Category:       core.CategoryMemory,
		InputSchema:    noValidation,
		Cache:          core.CachePolicy{Enabled: false},
		Timeout:        5 * time.Second,
		DisableRetries: true,
		Handler: func(ectx *core.ExecutionContext, input map[string]interface{}) (map[string]interface{}, error) {
			historyStore.mu.Lock()
			urls := append([]string(nil), historyStore.urls[ectx.SessionID]...)
			historyStore.mu.Unlock()
			return map[string]interface{}{"urls": urls, "count": len(urls)}, nil
		},
	}
}
