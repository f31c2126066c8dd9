package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"browseragent-core/internal/browser"
	"browseragent-core/internal/config"
	"browseragent-core/internal/core"
	"browseragent-core/internal/mangle"
	mcpserver "browseragent-core/internal/mcp"
	"browseragent-core/internal/recorder"
	"browseragent-core/internal/telemetry"
	"browseragent-core/internal/tools"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to the BrowserNERD MCP config file (overrides workspace config)")
	ssePort := flag.Int("sse-port", 0, "Optional SSE port override (falls back to config)")
	noWorkspace := flag.Bool("no-workspace", false, "Disable .browsernerd/ workspace discovery")
	workspaceDir := flag.String("workspace-dir", "", "Explicit workspace root (skip walk-up discovery)")
	initWorkspace := flag.Bool("init-workspace", false, "Create .browsernerd/ template in current directory and exit")
	flag.Parse()

	// Handle --init-workspace early exit
	if *initWorkspace {
		root := "."
		if *workspaceDir != "" {
			root = *workspaceDir
		}
		if err := config.InitWorkspace(root); err != nil {
			log.Fatalf("failed to initialize workspace: %v", err)
		}
		log.Printf("created .browsernerd/ workspace in %s", root)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := config.WorkspaceOptions{
		Disable:     *noWorkspace,
		ExplicitDir: *workspaceDir,
	}

	cfg, wsDir, err := config.LoadWithWorkspace(*configPath, opts)
	if err != nil {
		// Before we can redirect logs, write to stderr as last resort
		log.Fatalf("failed to load config: %v", err)
	}
	if wsDir != "" {
		log.Printf("using workspace config from %s", wsDir)
	}

	// Redirect logging to file for stdio mode (stderr interferes with MCP protocol).
	// Built through telemetry.NewLogger so startup/shutdown lines rotate the
	// same way the rest of the stack's structured logs do, then bridged back
	// onto the stdlib log package so every log.Printf below needs no change.
	stdio := cfg.MCP.SSEPort == 0
	if stdio && cfg.Server.LogFile == "" {
		log.SetOutput(io.Discard)
	} else {
		zlog, zerr := telemetry.NewLogger(telemetry.LoggerConfig{
			Path:       cfg.Server.LogFile,
			Stdio:      stdio,
			Level:      cfg.Core.LogLevel,
			MaxSizeMB:  cfg.Core.LogMaxSizeMB,
			MaxBackups: cfg.Core.LogMaxBackups,
			MaxAgeDays: cfg.Core.LogMaxAgeDays,
		})
		if zerr != nil {
			log.SetOutput(io.Discard)
		} else {
			restoreLog := zap.RedirectStdLog(zlog)
			defer restoreLog()
			defer zlog.Sync()
		}
	}
	if *ssePort != 0 {
		cfg.MCP.SSEPort = *ssePort
	}

	mangleEngine, err := mangle.NewEngine(cfg.Mangle)
	if err != nil {
		log.Fatalf("failed to initialize mangle engine: %v", err)
	}

	sessionManager := browser.NewSessionManager(cfg.Browser, mangleEngine)
	if cfg.Browser.AutoStart {
		if err := sessionManager.Start(ctx); err != nil {
			log.Fatalf("failed to initialize Rod session manager: %v", err)
		}
	} else {
		log.Printf("browser auto-start disabled; use MCP tools to launch/attach later")
	}

	coreStack, err := buildCoreStack(ctx, cfg, sessionManager)
	if err != nil {
		log.Fatalf("failed to initialize core pipeline: %v", err)
	}
	if cfg.Core.MetricsPort > 0 {
		startMetricsServer(ctx, coreStack.metrics, cfg.Core.MetricsPort)
	}
	if wsDir != "" {
		wsConfigPath := wsDir + "/" + config.WorkspaceDirName + "/" + config.WorkspaceConfigFile
		if err := config.Watch(wsConfigPath, coreStack.applyLiveFields, ctx.Done()); err != nil {
			log.Printf("config hot-reload disabled: %v", err)
		}
	}

	server, err := mcpserver.NewServer(cfg, sessionManager, mangleEngine, coreStack.mcp)
	if err != nil {
		log.Fatalf("failed to initialize MCP server: %v", err)
	}

	var startErr error
	if cfg.MCP.SSEPort > 0 {
		log.Printf("starting BrowserNERD MCP SSE server on port %d", cfg.MCP.SSEPort)
		startErr = server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		log.Printf("starting BrowserNERD MCP stdio server")
		startErr = server.Start(ctx)
	}

	if startErr != nil && !errors.Is(startErr, context.Canceled) {
		log.Fatalf("server exited with error: %v", startErr)
	}
}

// coreRuntime bundles the constructed C4-C9 pipeline plus the bits that
// react to live config changes, so main can pass one value to both
// mcpserver.NewServer and config.Watch.
type coreRuntime struct {
	mcp      *mcpserver.CoreStack
	metrics  *telemetry.Metrics
	cache    *core.MultiLevelCache
	executor *core.Executor
}

// extractionCacheTools are the tool names whose TTL tracks
// Core.CacheExtractionTTL; of the rest, only screenshot and diagnose_page
// track Core.CacheDefaultTTL (see applyLiveFields). Tools on the cache's
// fallback policy keep its built-in TTL across reloads. wait_for_*/navigate/click/type/select
// stay disabled regardless (set in DefaultToolPolicies), so they are not
// listed here.
var extractionCacheTools = []string{"extract_text", "extract_links", "extract_data", "get_interactive_elements"}

// buildCoreStack constructs the Session/Browser Pool (C5), Layered
// Perception Engine (C6), Tool Registry (C7), Coordinated Executor (C8),
// and Intent Coordinator (C9), registers the builtin tool catalogue, and
// starts the telemetry subscriber/poller goroutines. Torn down implicitly
// when ctx is cancelled (every background goroutine here takes ctx).
func buildCoreStack(ctx context.Context, cfg config.Config, sessionManager *browser.SessionManager) (*coreRuntime, error) {
	cache := core.NewMultiLevelCache(512)
	bus := core.NewEventBus(func(subscriberID int, dropped core.Event) {
		log.Printf("event bus: dropped %s event for subscriber %d (consumer too slow)", dropped.Kind, subscriberID)
	})
	state := core.NewStateStore()
	engine := core.NewEngine(cache, bus)

	registry := core.NewRegistry()
	if err := tools.RegisterBuiltins(registry); err != nil {
		return nil, err
	}

	poolCfg := core.PoolConfig{
		MaxSize:     cfg.Core.PoolMaxSize,
		IdleTimeout: cfg.Core.PoolIdleTimeoutDuration(),
		MaxLifetime: cfg.Core.PoolMaxLifetimeDuration(),
		MaxUsage:    cfg.Core.PoolMaxUsage,
	}
	pool := core.NewPool(poolCfg, browser.NewPoolFactory(sessionManager))
	executor := core.NewExecutor(registry, cache, state, bus, engine, cfg.Core.RateLimitPerSecond, cfg.Core.RateLimitBurst)
	coordinator := core.NewCoordinator(pool, engine, executor, state, bus, browser.DriverFor)

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	go metrics.Subscribe(ctx, bus)
	go metrics.PollPool(ctx, pool, 5*time.Second)
	go cache.SubscribeNavigation(ctx, bus)

	if rec, err := recorder.NewRecorder(""); err != nil {
		log.Printf("flight recorder disabled: %v", err)
	} else {
		go rec.Subscribe(ctx, bus)
		go func() { <-ctx.Done(); _ = rec.Close() }()
	}

	return &coreRuntime{
		mcp: &mcpserver.CoreStack{
			Pool: pool, Registry: registry, Cache: cache, State: state,
			Bus: bus, Engine: engine, Executor: executor, Coordinator: coordinator,
		},
		metrics:  metrics,
		cache:    cache,
		executor: executor,
	}, nil
}

// applyLiveFields is the config.Watch callback: it pushes the
// live-reloadable fields (log level, cache TTLs, rate limit) into the
// already-running cache and executor without touching pool sizing or
// browser launch flags, which require a restart.
func (r *coreRuntime) applyLiveFields(live config.LiveFields) {
	rate := live.RateLimitPerSecond
	burst := live.RateLimitBurst
	r.executor.SetRateLimit(rate, burst)

	defaultTTL := config.CoreConfig{CacheDefaultTTL: live.CacheDefaultTTL}.CacheDefaultTTLDuration()
	extractionTTL := config.CoreConfig{CacheExtractionTTL: live.CacheExtractionTTL}.CacheExtractionTTLDuration()

	for _, name := range extractionCacheTools {
		p := r.cache.PolicyFor(name)
		p.TTL = extractionTTL
		r.cache.SetPolicy(name, p)
	}
	for _, name := range []string{"screenshot", "diagnose_page"} {
		p := r.cache.PolicyFor(name)
		p.TTL = defaultTTL
		r.cache.SetPolicy(name, p)
	}
	log.Printf("config hot-reload applied: log_level=%s rate=%.1f/s burst=%d extraction_ttl=%s default_ttl=%s",
		live.LogLevel, rate, burst, extractionTTL, defaultTTL)
}

// startMetricsServer serves the Prometheus registry on /metrics until ctx
// is cancelled. Runs in its own goroutine; logs (never fatals) on bind
// failure so a taken metrics port doesn't take the whole server down.
func startMetricsServer(ctx context.Context, metrics *telemetry.Metrics, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: ":" + strconv.Itoa(port), Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server: %v", err)
		}
	}()
	log.Printf("serving metrics on :%d/metrics", port)
}
