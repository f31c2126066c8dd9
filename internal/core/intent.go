package core

import (
	"context"
	"time"
)

// actionToTool is the explicit action-keyword -> tool-name mapping
// table. Unknown actions fail InvalidInput rather than falling through
// to a guessed tool name.
var actionToTool = map[string]string{
	"navigate":     "navigate",
	"goto":         "navigate",
	"click":        "click",
	"tap":          "click",
	"type":         "type",
	"fill":         "type",
	"enter_text":   "type",
	"select":       "select",
	"choose":       "select",
	"wait":         "wait_for_element",
	"wait_for":     "wait_for_element",
	"wait_until":   "wait_for_condition",
	"screenshot":   "screenshot",
	"extract_text": "extract_text",
	"extract":      "extract_text",
	"extract_links": "extract_links",
	"extract_data": "extract_data",
	"remember":     "session_memory",
	"recall":       "session_memory",
}

// ToolForAction resolves an intent action keyword to a registered tool
// name via the explicit mapping table. ok is false for unknown actions.
func ToolForAction(action string) (string, bool) {
	name, ok := actionToTool[action]
	return name, ok
}

// Coordinator is the Intent Coordinator: the single entry point that
// drives the pool, perception engine, and executor for one AIIntent and
// returns a structured IntentResult.
type Coordinator struct {
	pool     *Pool
	engine   *Engine
	executor *Executor
	state    *StateStore
	bus      *EventBus

	// DriverFor adapts a checked-out BrowserInstance into the Driver
	// interface the engine/executor consume. Kept as an injected function
	// rather than a type assertion so core never imports internal/browser.
	DriverFor func(BrowserInstance) Driver
}

// NewCoordinator wires the coordinator to the shared pool, perception
// engine, executor, state store, event bus, and the pool→driver adapter.
func NewCoordinator(pool *Pool, engine *Engine, executor *Executor, state *StateStore, bus *EventBus, driverFor func(BrowserInstance) Driver) *Coordinator {
	return &Coordinator{pool: pool, engine: engine, executor: executor, state: state, bus: bus, DriverFor: driverFor}
}

// Handle executes one AIIntent end to end: acquire a driver, perceive,
// resolve the intent to a tool call, execute, release, and report.
func (c *Coordinator) Handle(ctx context.Context, sessionID string, intent AIIntent) IntentResult {
	handle, err := c.pool.Acquire(ctx)
	if err != nil {
		return IntentResult{SessionID: sessionID, Action: ActionResult{Success: false, Err: classifyExecErr(err)}}
	}
	outcome := OutcomeHealthy
	defer func() { handle.Release(ctx, outcome) }()

	drv := c.DriverFor(handle.Instance())

	st := c.state.Get(sessionID)
	if st == nil {
		st = c.state.Create(sessionID)
	}

	// Step 2: conditional navigate.
	if intent.Target != "" && looksLikeURL(intent.Target) {
		currentURL, _ := drv.CurrentURL(ctx)
		if currentURL != intent.Target {
			if c.bus != nil {
				c.bus.Publish(Event{Kind: EventNavigationStarted, SessionID: sessionID, Timestamp: time.Now(), URL: intent.Target})
			}
			navResult := c.executor.Execute(ctx, drv, sessionID, "navigate", map[string]interface{}{"url": intent.Target})
			if !navResult.Success {
				outcome = OutcomeFailed
				return IntentResult{SessionID: sessionID, ModeUsed: intent.Mode, Action: navResult}
			}
			st.SetURL(intent.Target)
			if c.bus != nil {
				c.bus.Publish(Event{Kind: EventNavigationComplete, SessionID: sessionID, Timestamp: time.Now(), URL: intent.Target})
			}
		}
	}

	// Step 3: perceive.
	mode := intent.Mode
	var perception PageAnalysis
	if c.engine != nil {
		budget := mode.Budget()
		if budget == 0 {
			budget = ModeDeep.Budget()
		}
		perception, err = c.engine.Perceive(ctx, drv, sessionID, mode, budget, st.EstimatedComplexity(), boolToErrCount(st.Degraded()))
		if err == nil {
			st.RecordAnalysis(perception)
		}
	}

	// Step 4: translate action -> tool.
	toolName, ok := ToolForAction(intent.Action)
	if !ok {
		return IntentResult{
			SessionID:  sessionID,
			ModeUsed:   perception.Mode,
			Perception: perception,
			Action:     ActionResult{Success: false, Err: Wrap(KindInvalidInput, "unknown intent action: "+intent.Action, nil)},
		}
	}

	// Step 5: resolve target via Locate, then execute.
	input := cloneParams(intent.Parameters)
	if intent.Target != "" && !looksLikeURL(intent.Target) {
		matches := Locate(perception, intent.Target)
		if len(matches) > 0 {
			input["selector"] = matches[0].Element.Primary
			input["_fallback_selectors"] = matches[0].Element.Fallbacks
		} else {
			input["selector"] = intent.Target
		}
	}

	action := c.executor.Execute(ctx, drv, sessionID, toolName, input)
	if !action.Success && !isRecoverable(action.Err) {
		outcome = OutcomeFailed
	}

	return IntentResult{
		SessionID:  sessionID,
		ModeUsed:   perception.Mode,
		Perception: perception,
		Action:     action,
	}
}

func boolToErrCount(degraded bool) int {
	if degraded {
		return 5
	}
	return 0
}

func cloneParams(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func looksLikeURL(s string) bool {
	return len(s) > 0 && (hasPrefix(s, "http://") || hasPrefix(s, "https://"))
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// isRecoverable reports whether a failure should still return the
// session Healthy to the pool (Timeout/RateLimit/InvalidInput are
// caller-facing, not browser-corrupting) versus a fatal failure that
// should mark the session Failed (BrowserUnavailable, ExecutionFailed
// caused by a crashed page).
func isRecoverable(err *CoreError) bool {
	if err == nil {
		return true
	}
	switch err.Kind {
	case KindTimeout, KindRateLimit, KindInvalidInput, KindInvalidOutput, KindElementNotFound, KindNotFound:
		return true
	default:
		return false
	}
}
