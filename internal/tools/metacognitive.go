package tools

import (
	"time"

	"browseragent-core/internal/core"
)

// MetaCognitive tools let an intent step outside the fixed catalogue
// (raw script execution) or ask the engine to self-report on page health
// without the caller having to interpret a full PageAnalysis.

// diagnoseScript reuses the same error-class/loading-class probe the
// perception engine's pageStatus heuristic runs (internal/core/perception.go),
// since "is something visibly broken" is exactly that decision table.
const diagnoseScript = `() => {
	const errorEls = document.querySelectorAll('.error, [role="alert"], .error-message');
	const loadingEls = document.querySelectorAll('.loading, .spinner, [aria-busy="true"]');
	return {
		readyState: document.readyState,
		errorCount: errorEls.length,
		loadingCount: loadingEls.length,
		titleLooksLikeError: /error|not found|exception/i.test(document.title),
	};
}`

func evaluateJSDescriptor() *core.ToolDescriptor {
	return &core.ToolDescriptor{
		Name:           "evaluate_js",
		Category:       core.CategoryMetaCognitive,
		InputSchema:    requireStrings("script"),
		Cache:          core.CachePolicy{Enabled: false},
		Timeout:        10 * time.Second,
		DisableRetries: true,
		Handler: func(ectx *core.ExecutionContext, input map[string]interface{}) (map[string]interface{}, error) {
			script := stringArg(input, "script")
			out, err := ectx.Driver.ExecuteScript(ectx.Ctx, script)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"result": out}, nil
		},
	}
}

// diagnosePageDescriptor is the direct-JS analogue of
// internal/mcp/automation_tools.go's DiagnosePageTool, whose original
// root_cause/failed_request/slow_api facts come from the Mangle engine
// this core deliberately has no ambient reference to. The page-local
// signals available through the Driver interface — error-class markup,
// stuck loading indicators, an error-ish title — substitute for that
// causal analysis at a lower fidelity.
func diagnosePageDescriptor() *core.ToolDescriptor {
	return &core.ToolDescriptor{
		Name:     "diagnose_page",
		Category: core.CategoryMetaCognitive,
		InputSchema: noValidation,
		Cache:    core.CachePolicy{Enabled: true, TTL: 5 * time.Second, InvalidateOnNavigation: true},
		Timeout:  5 * time.Second,
		Handler: func(ectx *core.ExecutionContext, input map[string]interface{}) (map[string]interface{}, error) {
			out, err := ectx.Driver.ExecuteScript(ectx.Ctx, diagnoseScript)
			if err != nil {
				return nil, err
			}
			m, _ := out.(map[string]interface{})
			status := "ok"
			if errCount, _ := m["errorCount"].(float64); errCount > 0 {
				status = "error"
			} else if titleErr, _ := m["titleLooksLikeError"].(bool); titleErr {
				status = "error"
			} else if loadingCount, _ := m["loadingCount"].(float64); loadingCount > 0 {
				status = "warning"
			}
			return map[string]interface{}{"status": status, "signals": m}, nil
		},
	}
}
