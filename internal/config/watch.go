package config

import (
	"log"
	"os"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// LiveFields is the subset of Config that Watch applies on a config file
// change. Everything else (pool sizing, browser launch flags, the
// session store path) requires a restart: a running core.Pool has
// already sized its creation semaphore and handed out instances built
// against the old browser flags, and reshaping either under it would
// leave in-flight handles inconsistent with the pool's own bookkeeping.
// Grounded on Rorqualx-flaresolverr-go's fsnotify watcher, narrowed to
// the fields this server can actually apply live.
type LiveFields struct {
	LogLevel            string
	CacheDefaultTTL      string
	CacheExtractionTTL   string
	CacheSynchronousTTL  string
	RateLimitPerSecond  float64
	RateLimitBurst      int
}

func extractLiveFields(cfg Config) LiveFields {
	return LiveFields{
		LogLevel:           cfg.Core.LogLevel,
		CacheDefaultTTL:    cfg.Core.CacheDefaultTTL,
		CacheExtractionTTL: cfg.Core.CacheExtractionTTL,
		CacheSynchronousTTL: cfg.Core.CacheSynchronousTTL,
		RateLimitPerSecond: cfg.Core.RateLimitPerSecond,
		RateLimitBurst:     cfg.Core.RateLimitBurst,
	}
}

// Watch watches path for writes and invokes onChange with the newly
// parsed live-reloadable fields whenever the file changes and those
// fields actually differ from the last-applied set. Runs until stop is
// closed. Read and parse errors are logged and otherwise ignored; changes
// to fields outside LiveFields are ignored without logging — a bad edit to a restart-only field never takes
// effect without a restart, which is the point.
func Watch(path string, onChange func(LiveFields), stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		var last LiveFields
		haveLast := false
		for {
			select {
			case <-stop:
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				raw, err := os.ReadFile(path)
				if err != nil {
					log.Printf("config watch: read %s: %v", path, err)
					continue
				}
				cfg := DefaultConfig()
				if err := yaml.Unmarshal(raw, &cfg); err != nil {
					log.Printf("config watch: parse %s: %v", path, err)
					continue
				}
				live := extractLiveFields(cfg)
				if haveLast && live == last {
					continue
				}
				last = live
				haveLast = true
				onChange(live)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("config watch: %v", err)
			}
		}
	}()
	return nil
}
