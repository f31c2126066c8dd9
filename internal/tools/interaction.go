package tools

import (
	"fmt"
	"time"

	"browseragent-core/internal/core"
)

// Interaction tools act through Driver.ExecuteScript rather than a native
// Rod element handle — core.Driver (internal/core/driver.go) deliberately
// exposes only read operations on ElementHandle (Tag/Text/Attribute/
// Visible/Clickable/BoundingBox) so the perception engine can stay
// side-effect free; every tool that mutates the page does so through one
// parameterised script, grounded on the dispatch-a-real-event approach
// internal/mcp/navigation_elements.go's InteractTool takes ("use Rod's
// native methods for proper event triggering") — re-expressed as JS
// CustomEvent/Event dispatch since the Driver boundary has no Click/Input
// methods of its own.

const clickScript = `(sel) => {
	const el = document.querySelector(sel);
	if (!el) return { success: false, error: 'element not found' };
	el.scrollIntoView({ block: 'center', inline: 'center' });
	el.click();
	return { success: true };
}`

const typeScript = `(sel, value) => {
	const el = document.querySelector(sel);
	if (!el) return { success: false, error: 'element not found' };
	el.focus();
	const proto = Object.getPrototypeOf(el);
	const setter = Object.getOwnPropertyDescriptor(proto, 'value');
	if (setter && setter.set) {
		setter.set.call(el, value);
	} else {
		el.value = value;
	}
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return { success: true };
}`

const selectScript = `(sel, value) => {
	const el = document.querySelector(sel);
	if (!el) return { success: false, error: 'element not found' };
	el.value = value;
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return { success: true };
}`

const pressKeyScript = `(key) => {
	const target = document.activeElement || document.body;
	const opts = { key: key, bubbles: true, cancelable: true };
	target.dispatchEvent(new KeyboardEvent('keydown', opts));
	target.dispatchEvent(new KeyboardEvent('keyup', opts));
	if (key === 'Enter' && target.form) {
		target.form.requestSubmit ? target.form.requestSubmit() : target.form.submit();
	}
	return { success: true };
}`

func clickDescriptor() *core.ToolDescriptor {
	return &core.ToolDescriptor{
		Name:            "click",
		Category:        core.CategoryInteraction,
		InputSchema:     requireStrings("selector"),
		Cache:           core.CachePolicy{Enabled: false},
		Timeout:         10 * time.Second,
		RequiresPercept: true,
		Handler:         runElementScript(clickScript, "click"),
	}
}

func typeDescriptor() *core.ToolDescriptor {
	return &core.ToolDescriptor{
		Name:            "type",
		Category:        core.CategoryInteraction,
		InputSchema:     requireStrings("selector", "value"),
		Cache:           core.CachePolicy{Enabled: false},
		Timeout:         10 * time.Second,
		RequiresPercept: true,
		Handler: func(ectx *core.ExecutionContext, input map[string]interface{}) (map[string]interface{}, error) {
			sel := selector(input)
			value := stringArg(input, "value")
			out, err := ectx.Driver.ExecuteScript(ectx.Ctx, typeScript, sel, value)
			return scriptResult(out, err, "type")
		},
	}
}

func selectDescriptor() *core.ToolDescriptor {
	return &core.ToolDescriptor{
		Name:            "select",
		Category:        core.CategoryInteraction,
		InputSchema:     requireStrings("selector", "value"),
		Cache:           core.CachePolicy{Enabled: false},
		Timeout:         10 * time.Second,
		RequiresPercept: true,
		Handler: func(ectx *core.ExecutionContext, input map[string]interface{}) (map[string]interface{}, error) {
			sel := selector(input)
			value := stringArg(input, "value")
			out, err := ectx.Driver.ExecuteScript(ectx.Ctx, selectScript, sel, value)
			return scriptResult(out, err, "select")
		},
	}
}

func pressKeyDescriptor() *core.ToolDescriptor {
	return &core.ToolDescriptor{
		Name:        "press_key",
		Category:    core.CategoryInteraction,
		InputSchema: requireStrings("key"),
		Cache:       core.CachePolicy{Enabled: false},
		Timeout:     5 * time.Second,
		Handler: func(ectx *core.ExecutionContext, input map[string]interface{}) (map[string]interface{}, error) {
			key := stringArg(input, "key")
			out, err := ectx.Driver.ExecuteScript(ectx.Ctx, pressKeyScript, key)
			return scriptResult(out, err, "press_key")
		},
	}
}

// fillFormDescriptor batches several type operations in one call, grounded
// on internal/mcp/navigation_javascript.go's FillFormTool, minus the
// registry-fingerprint lookup (selectors here are already robust bundles
// resolved by perception's Locate, not opaque refs).
func fillFormDescriptor() *core.ToolDescriptor {
	return &core.ToolDescriptor{
		Name:            "fill_form",
		Category:        core.CategoryInteraction,
		InputSchema:     requireStrings(),
		Cache:           core.CachePolicy{Enabled: false},
		Timeout:         15 * time.Second,
		RequiresPercept: true,
		Handler: func(ectx *core.ExecutionContext, input map[string]interface{}) (map[string]interface{}, error) {
			fieldsRaw, ok := input["fields"].([]interface{})
			if !ok {
				return nil, core.New(core.KindInvalidInput, "fields must be an array of {selector, value}")
			}
			results := make([]map[string]interface{}, 0, len(fieldsRaw))
			filled := 0
			for _, raw := range fieldsRaw {
				field, ok := raw.(map[string]interface{})
				if !ok {
					continue
				}
				sel := stringArg(field, "selector")
				value := stringArg(field, "value")
				if sel == "" {
					continue
				}
				out, err := ectx.Driver.ExecuteScript(ectx.Ctx, typeScript, sel, value)
				success := err == nil
				if success {
					filled++
				}
				results = append(results, map[string]interface{}{"selector": sel, "success": success, "result": out})
			}
			if boolArg(input, "submit", false) {
				_, _ = ectx.Driver.ExecuteScript(ectx.Ctx, pressKeyScript, "Enter")
			}
			if btn := stringArg(input, "submit_selector"); btn != "" {
				_, _ = ectx.Driver.ExecuteScript(ectx.Ctx, clickScript, btn)
			}
			return map[string]interface{}{"filled": filled, "results": results}, nil
		},
	}
}

func runElementScript(script, action string) core.ToolHandler {
	return func(ectx *core.ExecutionContext, input map[string]interface{}) (map[string]interface{}, error) {
		sel := selector(input)
		out, err := ectx.Driver.ExecuteScript(ectx.Ctx, script, sel)
		return scriptResult(out, err, action)
	}
}

func scriptResult(out interface{}, err error, action string) (map[string]interface{}, error) {
	if err != nil {
		return nil, err
	}
	m, ok := out.(map[string]interface{})
	if !ok {
		return map[string]interface{}{"success": true, "action": action}, nil
	}
	if success, ok := m["success"].(bool); ok && !success {
		msg := fmt.Sprintf("%s failed", action)
		if e, ok := m["error"].(string); ok {
			msg = e
		}
		return nil, core.New(core.KindElementNotFound, msg)
	}
	m["action"] = action
	return m, nil
}
