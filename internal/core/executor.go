package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// toolStats is the running EMA of a tool's success rate plus a coarse
// p50/p95 latency estimate, updated after every execution.
// The estimate uses a sliding window of the most recent toolStatsWindow
// durations rather than a true streaming
// quantile sketch — adequate for diagnostics, not a precision SLO report.
type toolStats struct {
	mu          sync.Mutex
	successEMA  float64
	emaInit     bool
	recentDurMS []float64
}

const toolStatsWindow = 64

func (t *toolStats) record(success bool, dur time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := 0.0
	if success {
		v = 1.0
	}
	if !t.emaInit {
		t.successEMA = v
		t.emaInit = true
	} else {
		const alpha = 0.2
		t.successEMA = alpha*v + (1-alpha)*t.successEMA
	}
	t.recentDurMS = append(t.recentDurMS, float64(dur.Milliseconds()))
	if len(t.recentDurMS) > toolStatsWindow {
		t.recentDurMS = t.recentDurMS[len(t.recentDurMS)-toolStatsWindow:]
	}
}

func (t *toolStats) snapshot() (successRate, p50, p95 float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	successRate = t.successEMA
	if len(t.recentDurMS) == 0 {
		return successRate, 0, 0
	}
	sorted := append([]float64(nil), t.recentDurMS...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	idx50 := len(sorted) * 50 / 100
	idx95 := len(sorted) * 95 / 100
	if idx95 >= len(sorted) {
		idx95 = len(sorted) - 1
	}
	return successRate, sorted[idx50], sorted[idx95]
}

// Executor is the Coordinated Executor (C8): it resolves a tool name
// against the Registry, validates, checks the cache, optionally runs
// perception first, executes with a deadline and retry policy, then
// records and caches the outcome and publishes events. One Executor
// backs every session in a process; per-session serialisation is via
// sessionLocks so a single session never runs two tools concurrently,
// preserving per-session ordering.
type Executor struct {
	registry *Registry
	cache    *MultiLevelCache
	state    *StateStore
	bus      *EventBus
	engine   *Engine

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
	rateLimit  rate.Limit
	rateBurst  int

	sessionLocksMu sync.Mutex
	sessionLocks   map[string]*sync.Mutex

	statsMu sync.Mutex
	stats   map[string]*toolStats
}

// NewExecutor wires the executor to the shared registry, cache, state
// store, event bus, and perception engine. ratePerSecond<=0 disables
// rate limiting entirely.
func NewExecutor(registry *Registry, cache *MultiLevelCache, state *StateStore, bus *EventBus, engine *Engine, ratePerSecond float64, rateBurst int) *Executor {
	return &Executor{
		registry:     registry,
		cache:        cache,
		state:        state,
		bus:          bus,
		engine:       engine,
		limiters:     make(map[string]*rate.Limiter),
		rateLimit:    rate.Limit(ratePerSecond),
		rateBurst:    rateBurst,
		sessionLocks: make(map[string]*sync.Mutex),
		stats:        make(map[string]*toolStats),
	}
}

func (e *Executor) sessionLock(sessionID string) *sync.Mutex {
	e.sessionLocksMu.Lock()
	defer e.sessionLocksMu.Unlock()
	l, ok := e.sessionLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		e.sessionLocks[sessionID] = l
	}
	return l
}

func (e *Executor) limiterFor(sessionID string) *rate.Limiter {
	e.limitersMu.Lock()
	defer e.limitersMu.Unlock()
	if e.rateLimit <= 0 {
		return nil
	}
	l, ok := e.limiters[sessionID]
	if !ok {
		l = rate.NewLimiter(e.rateLimit, e.rateBurst)
		e.limiters[sessionID] = l
	}
	return l
}

// SetRateLimit updates the per-session token-bucket rate applied to new
// sessions (and resets existing ones to the new rate), for config
// hot-reload. Pool sizing and browser launch flags are restart-only;
// this knob is not.
func (e *Executor) SetRateLimit(perSecond float64, burst int) {
	e.limitersMu.Lock()
	defer e.limitersMu.Unlock()
	e.rateLimit = rate.Limit(perSecond)
	e.rateBurst = burst
	for id, l := range e.limiters {
		l.SetLimit(e.rateLimit)
		l.SetBurst(e.rateBurst)
		e.limiters[id] = l
	}
}

func (e *Executor) statsFor(toolName string) *toolStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	s, ok := e.stats[toolName]
	if !ok {
		s = &toolStats{}
		e.stats[toolName] = s
	}
	return s
}

// ToolStatsSnapshot is the diagnostic view of one tool's running stats.
type ToolStatsSnapshot struct {
	ToolName    string
	SuccessRate float64
	P50Millis   float64
	P95Millis   float64
}

// Stats returns a snapshot of every tool that has executed at least once.
func (e *Executor) Stats() []ToolStatsSnapshot {
	e.statsMu.Lock()
	names := make([]string, 0, len(e.stats))
	for name := range e.stats {
		names = append(names, name)
	}
	e.statsMu.Unlock()

	out := make([]ToolStatsSnapshot, 0, len(names))
	for _, name := range names {
		s := e.statsFor(name)
		rate, p50, p95 := s.snapshot()
		out = append(out, ToolStatsSnapshot{ToolName: name, SuccessRate: rate, P50Millis: p50, P95Millis: p95})
	}
	return out
}

// Execute runs the full resolve/validate/cache/perceive/execute/record
// pipeline for one (tool, input) pair against one session/driver.
func (e *Executor) Execute(ctx context.Context, drv Driver, sessionID, toolName string, input map[string]interface{}) ActionResult {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if limiter := e.limiterFor(sessionID); limiter != nil {
		if !limiter.Allow() {
			return e.failResult(toolName, input, RateLimit)
		}
	}

	st := e.state.Get(sessionID)

	// Step 1: resolve.
	desc, err := e.registry.Lookup(toolName)
	if err != nil {
		return e.failResult(toolName, input, err)
	}
	e.publishToolStarted(sessionID, toolName)

	// Step 2: validate input.
	if desc.InputSchema != nil {
		if verr := desc.InputSchema(input); verr != nil {
			return e.failResult(toolName, input, Wrap(KindInvalidInput, "schema validation failed", verr))
		}
	}

	// Step 3: cache check.
	url, _ := drv.CurrentURL(ctx)
	normalized := normalizeInput(input)
	cacheKey := Key(toolName, sessionID, url, normalized)
	if entry, ok := e.cache.Get(toolName, cacheKey); ok {
		output, _ := entry.Value.(map[string]interface{})
		e.publishToolCompleted(sessionID, toolName, true, true, 0)
		return ActionResult{Tool: toolName, Input: input, Output: output, Success: true, CacheHit: true}
	}

	// Step 4: optional pre-perception.
	var perception *PageAnalysis
	if desc.RequiresPercept && e.engine != nil && st != nil {
		needsFresh := st.LastAnalysis() == nil
		if !needsFresh {
			pa, perr := e.engine.Perceive(ctx, drv, sessionID, ModeAuto, desc.Timeout, st.EstimatedComplexity(), 0)
			if perr == nil {
				perception = &pa
			}
		} else {
			pa, perr := e.engine.Perceive(ctx, drv, sessionID, ModeAuto, desc.Timeout, 0.5, 0)
			if perr == nil {
				perception = &pa
			}
		}
	}

	execCtx := &ExecutionContext{Ctx: ctx, SessionID: sessionID, Driver: drv, Perception: perception}

	// Steps 5-6: execute with deadline and retry.
	const baseBackoff = 500 * time.Millisecond
	const maxAttempts = 3
	var (
		output  map[string]interface{}
		execErr error
		retries int
	)
	start := time.Now()
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tctx, cancel := context.WithTimeout(ctx, desc.Timeout)
		execCtx.Ctx = tctx
		output, execErr = desc.Handler(execCtx, input)
		cancel()

		if execErr == nil {
			break
		}
		if tctx.Err() == context.DeadlineExceeded {
			execErr = Wrap(KindTimeout, "tool execution exceeded deadline", tctx.Err())
		}

		if desc.DisableRetries || !isRetryable(execErr) || attempt == maxAttempts-1 {
			break
		}
		retries++
		backoff := baseBackoff * time.Duration(1<<uint(attempt))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			execErr = Wrap(KindTimeout, "context cancelled during retry backoff", ctx.Err())
			attempt = maxAttempts
		}
	}
	duration := time.Since(start)

	// Step 6b: output validation. A handler that returns a shape its own
	// descriptor rejects never reaches record/cache as a success.
	if execErr == nil && desc.OutputSchema != nil {
		if verr := desc.OutputSchema(output); verr != nil {
			execErr = Wrap(KindInvalidOutput, "output schema validation failed", verr)
		}
	}

	stats := e.statsFor(toolName)
	stats.record(execErr == nil, duration)

	if execErr != nil {
		e.recordExecution(sessionID, toolName, duration, retries, false, false, execErr)
		e.publishToolCompleted(sessionID, toolName, false, false, duration)
		return ActionResult{Tool: toolName, Input: input, Success: false, DurationMS: duration.Milliseconds(), Retries: retries, Err: classifyExecErr(execErr)}
	}

	// Step 7: record.
	e.recordExecution(sessionID, toolName, duration, retries, false, true, nil)

	// Step 8: populate cache, emit.
	e.cache.SetPolicy(toolName, desc.Cache)
	if desc.Cache.Enabled {
		e.cache.Set(toolName, sessionID, cacheKey, output)
	}
	e.publishToolCompleted(sessionID, toolName, true, false, duration)

	return ActionResult{Tool: toolName, Input: input, Output: output, Success: true, DurationMS: duration.Milliseconds(), Retries: retries}
}

// ChainStep is one (tool, input) pair in an ExecuteChain call.
type ChainStep struct {
	Tool  string
	Input map[string]interface{}
}

// ExecuteChain runs steps strictly in order.
// continueOnError=false stops at the first failing step (the returned
// slice still contains every step attempted so far).
func (e *Executor) ExecuteChain(ctx context.Context, drv Driver, sessionID string, steps []ChainStep, continueOnError bool) []ActionResult {
	results := make([]ActionResult, 0, len(steps))
	for _, step := range steps {
		res := e.Execute(ctx, drv, sessionID, step.Tool, step.Input)
		results = append(results, res)
		if !res.Success && !continueOnError {
			break
		}
	}
	return results
}

func (e *Executor) recordExecution(sessionID, toolName string, dur time.Duration, retries int, cacheHit, success bool, err error) {
	st := e.state.Get(sessionID)
	if st == nil {
		return
	}
	rec := ToolExecutionRecord{
		ToolName:  toolName,
		SessionID: sessionID,
		EndedAt:   time.Now(),
		Duration:  dur,
		Retries:   retries,
		CacheHit:  cacheHit,
		Success:   success,
		Err:       classifyExecErr(err),
	}
	rec.StartedAt = rec.EndedAt.Add(-dur)
	st.AppendRecord(rec)
}

func (e *Executor) publishToolStarted(sessionID, toolName string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(Event{
		Kind:      EventToolStarted,
		SessionID: sessionID,
		Timestamp: time.Now(),
		ToolName:  toolName,
	})
}

func (e *Executor) publishToolCompleted(sessionID, toolName string, success, cacheHit bool, dur time.Duration) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(Event{
		Kind:      EventToolCompleted,
		SessionID: sessionID,
		Timestamp: time.Now(),
		ToolName:  toolName,
		Success:   success,
		CacheHit:  cacheHit,
		Duration:  dur,
	})
}

func (e *Executor) failResult(toolName string, input map[string]interface{}, err error) ActionResult {
	return ActionResult{Tool: toolName, Input: input, Success: false, Err: classifyExecErr(err)}
}

func isRetryable(err error) bool {
	if ce, ok := err.(*CoreError); ok {
		return ce.Retryable()
	}
	return false
}

func classifyExecErr(err error) *CoreError {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*CoreError); ok {
		return ce
	}
	return Wrap(KindExecutionFailed, "tool execution failed", err)
}

// normalizeInput produces a stable string form of a tool's input map for
// cache-key purposes: sorted keys, fmt-based value rendering. Good enough
// for fingerprinting — it is never parsed back.
func normalizeInput(input map[string]interface{}) string {
	if len(input) == 0 {
		return ""
	}
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	out := ""
	for _, k := range keys {
		out += k + "=" + fmt.Sprintf("%v", input[k]) + ";"
	}
	return out
}
