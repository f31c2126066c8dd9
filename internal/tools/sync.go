package tools

import (
	"time"

	"browseragent-core/internal/core"
)

// Synchronization tools poll the driver until a condition holds or a
// deadline passes, the pattern both internal/mcp/automation_tools.go's
// WaitForConditionTool (ticker + timeout select loop) and AwaitStableStateTool
// already use, generalised from Mangle fact queries to direct JS probes
// since core has no ambient access to the Mangle engine.

const elementPresentScript = `(sel) => !!document.querySelector(sel)`

const stableScript = `() => {
	const loadingMarkers = document.querySelectorAll('.loading, .spinner, [aria-busy="true"]');
	return document.readyState === 'complete' && loadingMarkers.length === 0;
}`

func pollUntil(ectx *core.ExecutionContext, script string, args []interface{}, timeout, interval time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		out, err := ectx.Driver.ExecuteScript(ectx.Ctx, script, args...)
		if err == nil {
			if ok, _ := out.(bool); ok {
				return true, nil
			}
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-time.After(interval):
		case <-ectx.Ctx.Done():
			return false, ectx.Ctx.Err()
		}
	}
}

func waitForElementDescriptor() *core.ToolDescriptor {
	return &core.ToolDescriptor{
		Name:           "wait_for_element",
		Category:       core.CategorySynchronization,
		InputSchema:    requireStrings("selector"),
		Cache:          core.CachePolicy{Enabled: false, InvalidateOnNavigation: true},
		Timeout:        30 * time.Second,
		DisableRetries: true,
		Handler: func(ectx *core.ExecutionContext, input map[string]interface{}) (map[string]interface{}, error) {
			sel := selector(input)
			timeout := durationArgMS(input, "timeout_ms", 10*time.Second)
			interval := durationArgMS(input, "poll_interval_ms", 150*time.Millisecond)
			start := time.Now()
			found, err := pollUntil(ectx, elementPresentScript, []interface{}{sel}, timeout, interval)
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, core.New(core.KindTimeout, "timed out waiting for "+sel)
			}
			return map[string]interface{}{"found": true, "waited_ms": time.Since(start).Milliseconds()}, nil
		},
	}
}

// waitForConditionDescriptor evaluates an arbitrary boolean JS expression
// repeatedly — the direct-JS analogue of WaitForConditionTool's Mangle
// predicate poll.
func waitForConditionDescriptor() *core.ToolDescriptor {
	return &core.ToolDescriptor{
		Name:           "wait_for_condition",
		Category:       core.CategorySynchronization,
		InputSchema:    requireStrings("expression"),
		Cache:          core.CachePolicy{Enabled: false, InvalidateOnNavigation: true},
		Timeout:        30 * time.Second,
		DisableRetries: true,
		Handler: func(ectx *core.ExecutionContext, input map[string]interface{}) (map[string]interface{}, error) {
			expr := stringArg(input, "expression")
			timeout := durationArgMS(input, "timeout_ms", 10*time.Second)
			interval := durationArgMS(input, "poll_interval_ms", 200*time.Millisecond)
			script := "() => { return (" + expr + "); }"
			start := time.Now()
			ok, err := pollUntil(ectx, script, nil, timeout, interval)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, core.New(core.KindTimeout, "timed out waiting for condition")
			}
			return map[string]interface{}{"matched": true, "waited_ms": time.Since(start).Milliseconds()}, nil
		},
	}
}

// awaitStableStateDescriptor waits for document.readyState=="complete" and
// no visible loading markers, grounded on AwaitStableStateTool's
// network-idle-ish settle check.
func awaitStableStateDescriptor() *core.ToolDescriptor {
	return &core.ToolDescriptor{
		Name:           "await_stable_state",
		Category:       core.CategorySynchronization,
		InputSchema:    noValidation,
		Cache:          core.CachePolicy{Enabled: false, InvalidateOnNavigation: true},
		Timeout:        15 * time.Second,
		DisableRetries: true,
		Handler: func(ectx *core.ExecutionContext, input map[string]interface{}) (map[string]interface{}, error) {
			timeout := durationArgMS(input, "timeout_ms", 10*time.Second)
			start := time.Now()
			stable, err := pollUntil(ectx, stableScript, nil, timeout, 100*time.Millisecond)
			if err != nil {
				return nil, err
			}
			status := "stable"
			if !stable {
				status = "timeout"
			}
			return map[string]interface{}{"status": status, "duration_ms": time.Since(start).Milliseconds()}, nil
		},
	}
}
