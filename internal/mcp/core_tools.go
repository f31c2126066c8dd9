package mcp

import (
	"context"

	"browseragent-core/internal/core"
)

// ExecuteIntentTool is the MCP-facing entry point into the Intent
// Coordinator (C9): one call drives pool checkout, perception, tool
// resolution/execution and releases the browser back to the pool,
// returning the structured IntentResult. This sits alongside the
// existing per-capability tools (navigate-url, interact, ...) rather
// than replacing them — an agent that wants the coordinator's automatic
// mode selection and retry/caching behaviour uses this tool; one that
// wants direct control over a session keeps using the others.
type ExecuteIntentTool struct {
	coordinator *core.Coordinator
}

func (t *ExecuteIntentTool) Name() string { return "execute-intent" }
func (t *ExecuteIntentTool) Description() string {
	return `Resolve and execute one high-level browser action through the layered
perception and coordinated execution pipeline.

Unlike the per-capability tools (navigate-url, interact, ...), this checks
out a browser from the shared pool, perceives the page at the requested
(or auto-selected) fidelity, resolves action to a concrete tool, executes
it with caching/retry, and returns a structured result in one round trip.

EXAMPLE:
execute-intent(action: "click", target: "#submit", mode: "auto")`
}
func (t *ExecuteIntentTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Session to act within",
			},
			"action": map[string]interface{}{
				"type":        "string",
				"description": "Action keyword: navigate, click, type, select, wait, wait_until, screenshot, extract, extract_links, extract_data, remember, recall",
			},
			"target": map[string]interface{}{
				"type":        "string",
				"description": "URL (for navigate) or CSS selector (for click/type/select/wait)",
			},
			"mode": map[string]interface{}{
				"type":        "string",
				"description": "Perception fidelity: auto, lightning, quick, standard, deep. Default: auto",
			},
			"parameters": map[string]interface{}{
				"type":        "object",
				"description": "Additional tool-specific input, e.g. {\"value\": \"hello\"} for type",
			},
		},
		"required": []string{"session_id", "action"},
	}
}
func (t *ExecuteIntentTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	if sessionID == "" {
		return map[string]interface{}{"success": false, "error": "session_id is required"}, nil
	}
	action := getStringArg(args, "action")
	if action == "" {
		return map[string]interface{}{"success": false, "error": "action is required"}, nil
	}
	mode, _ := core.ParseMode(getStringArg(args, "mode"))
	params, _ := args["parameters"].(map[string]interface{})

	intent := core.AIIntent{
		Action:     action,
		Target:     getStringArg(args, "target"),
		Mode:       mode,
		Parameters: params,
	}

	result := t.coordinator.Handle(ctx, sessionID, intent)
	out := map[string]interface{}{
		"success":   result.Action.Success,
		"tool":      result.Action.Tool,
		"output":    result.Action.Output,
		"mode_used": result.ModeUsed.String(),
		"cache_hit": result.Action.CacheHit,
		"retries":   result.Action.Retries,
	}
	if result.Action.Err != nil {
		out["error"] = result.Action.Err.Error()
	}
	return out, nil
}

// PoolStatsTool surfaces the Session/Browser Pool's live counters for
// operators; none of the per-capability tools has an analogue, since
// those attach directly to one Chrome target rather than a pool.
type PoolStatsTool struct {
	pool *core.Pool
}

func (t *PoolStatsTool) Name() string               { return "pool-stats" }
func (t *PoolStatsTool) Description() string         { return "Report browser pool occupancy and lifetime counters." }
func (t *PoolStatsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *PoolStatsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	s := t.pool.Stats()
	return map[string]interface{}{
		"total_created":   s.TotalCreated,
		"total_destroyed": s.TotalDestroyed,
		"total_checkouts": s.TotalCheckouts,
		"total_checkins":  s.TotalCheckins,
		"current_size":    s.CurrentSize,
		"current_idle":    s.CurrentIdle,
	}, nil
}

// ToolStatsTool surfaces the coordinated executor's per-tool running
// success rate and latency percentiles.
type ToolStatsTool struct {
	executor *core.Executor
}

func (t *ToolStatsTool) Name() string       { return "tool-stats" }
func (t *ToolStatsTool) Description() string { return "Report per-tool success rate and p50/p95 latency from the coordinated executor." }
func (t *ToolStatsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *ToolStatsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	snapshots := t.executor.Stats()
	out := make([]map[string]interface{}, 0, len(snapshots))
	for _, s := range snapshots {
		out = append(out, map[string]interface{}{
			"tool":         s.ToolName,
			"success_rate": s.SuccessRate,
			"p50_ms":       s.P50Millis,
			"p95_ms":       s.P95Millis,
		})
	}
	return map[string]interface{}{"tools": out}, nil
}
