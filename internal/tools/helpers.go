// Package tools is the Tool Registry's concrete catalogue: ~20
// ToolDescriptors implementing the browser primitives the Tool Registry
// and Coordinated Executor dispatch by name, each a thin JS/Rod wrapper
// over core.Driver. Grounded on internal/mcp's existing tool
// files (navigation_elements.go, navigation_javascript.go,
// navigation_links.go, navigation_state.go, automation_tools.go) — the
// same scripts and Rod calls, re-expressed behind core.ToolHandler's
// (ctx, JSON) -> (JSON, error) boundary instead of the MCP-specific
// Tool interface.
package tools

import (
	"fmt"
	"time"

	"browseragent-core/internal/core"
)

func stringArg(input map[string]interface{}, key string) string {
	if v, ok := input[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intArg(input map[string]interface{}, key string, def int) int {
	v, ok := input[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

func boolArg(input map[string]interface{}, key string, def bool) bool {
	if v, ok := input[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func durationArgMS(input map[string]interface{}, key string, def time.Duration) time.Duration {
	ms := intArg(input, key, -1)
	if ms < 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// selector returns the "selector" input field, which
// core.Coordinator.Handle (internal/core/intent.go) fills from its Locate
// match ahead of execution. The "_fallback_selectors" it sets alongside
// are not read here.
func selector(input map[string]interface{}) string {
	return stringArg(input, "selector")
}

// requireStrings rejects input missing any of the named string fields —
// the structural validation every tool runs before execution.
func requireStrings(names ...string) core.SchemaValidator {
	return func(input map[string]interface{}) error {
		for _, name := range names {
			v, ok := input[name]
			if !ok {
				return core.New(core.KindInvalidInput, fmt.Sprintf("missing required field %q", name))
			}
			if s, ok := v.(string); !ok || s == "" {
				return core.New(core.KindInvalidInput, fmt.Sprintf("field %q must be a non-empty string", name))
			}
		}
		return nil
	}
}

func noValidation(map[string]interface{}) error { return nil }

// requireOutputKeys rejects a handler's output if it is missing any of
// the named keys. Unlike requireStrings this only checks presence, not
// non-emptiness: an output field's zero value (an empty title, zero
// links) is often a legitimate result, not a broken one.
func requireOutputKeys(names ...string) core.SchemaValidator {
	return func(output map[string]interface{}) error {
		for _, name := range names {
			if _, ok := output[name]; !ok {
				return core.New(core.KindInvalidOutput, fmt.Sprintf("handler output missing field %q", name))
			}
		}
		return nil
	}
}
