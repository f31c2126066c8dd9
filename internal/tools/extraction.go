package tools

import (
	"encoding/base64"
	"time"

	"browseragent-core/internal/core"
)

// Extraction tools read page content/structure without mutating it;
// cache policy is 120s TTL, invalidate on navigation for the
// text/link/data extractors, and 60s for screenshot.

const extractTextScript = `(sel) => {
	const el = document.querySelector(sel);
	if (!el) return null;
	return el.innerText || el.textContent || '';
}`

const extractLinksScript = `(maxLinks) => {
	const anchors = Array.from(document.querySelectorAll('a[href]'));
	const origin = window.location.origin;
	const out = [];
	for (const a of anchors) {
		if (maxLinks > 0 && out.length >= maxLinks) break;
		const href = a.href;
		out.push({
			text: (a.innerText || '').trim().slice(0, 80),
			href: href,
			internal: href.startsWith(origin),
		});
	}
	return out;
}`

const extractDataScript = `(sel) => {
	const nodes = Array.from(document.querySelectorAll(sel));
	return nodes.map((n) => ({
		tag: n.tagName.toLowerCase(),
		text: (n.innerText || n.textContent || '').trim().slice(0, 200),
		attributes: Array.from(n.attributes || []).reduce((acc, a) => { acc[a.name] = a.value; return acc; }, {}),
	}));
}`

// grounded on internal/mcp/navigation_elements.go's GetInteractiveElementsTool:
// one querySelectorAll over the common interactive-element selector list,
// returning a small JSON-serialisable struct per element.
const interactiveElementsScript = `(limit) => {
	const sel = 'a,button,input,select,textarea,[role="button"],[onclick]';
	const nodes = Array.from(document.querySelectorAll(sel));
	const visible = (el) => {
		const r = el.getBoundingClientRect();
		const style = window.getComputedStyle(el);
		return r.width > 0 && r.height > 0 && style.visibility !== 'hidden' && style.display !== 'none';
	};
	const out = [];
	for (const el of nodes) {
		if (limit > 0 && out.length >= limit) break;
		if (!visible(el)) continue;
		const r = el.getBoundingClientRect();
		out.push({
			tag: el.tagName.toLowerCase(),
			text: (el.innerText || el.value || '').trim().slice(0, 80),
			id: el.id || '',
			box: { x: r.x, y: r.y, width: r.width, height: r.height },
		});
	}
	return out;
}`

const pageStateScript = `() => {
	const hasDialog = !!(document.querySelector('[role="dialog"]') || document.querySelector('.modal.show'));
	return {
		url: window.location.href,
		title: document.title,
		loading: document.readyState !== 'complete',
		hasDialog: hasDialog,
		scrollY: window.scrollY,
	};
}`

func extractTextDescriptor() *core.ToolDescriptor {
	return &core.ToolDescriptor{
		Name:            "extract_text",
		Category:        core.CategoryExtraction,
		InputSchema:     requireStrings("selector"),
		OutputSchema:    requireOutputKeys("text"),
		Cache:           core.CachePolicy{Enabled: true, TTL: 120 * time.Second, InvalidateOnNavigation: true},
		Timeout:         10 * time.Second,
		RequiresPercept: true,
		Handler: func(ectx *core.ExecutionContext, input map[string]interface{}) (map[string]interface{}, error) {
			sel := selector(input)
			out, err := ectx.Driver.ExecuteScript(ectx.Ctx, extractTextScript, sel)
			if err != nil {
				return nil, err
			}
			if out == nil {
				return nil, core.New(core.KindElementNotFound, "no element matches "+sel)
			}
			text, _ := out.(string)
			return map[string]interface{}{"text": text}, nil
		},
	}
}

func extractLinksDescriptor() *core.ToolDescriptor {
	return &core.ToolDescriptor{
		Name:         "extract_links",
		Category:     core.CategoryExtraction,
		InputSchema:  noValidation,
		OutputSchema: requireOutputKeys("links"),
		Cache:        core.CachePolicy{Enabled: true, TTL: 120 * time.Second, InvalidateOnNavigation: true},
		Timeout:  10 * time.Second,
		Handler: func(ectx *core.ExecutionContext, input map[string]interface{}) (map[string]interface{}, error) {
			maxLinks := intArg(input, "max_links", 50)
			out, err := ectx.Driver.ExecuteScript(ectx.Ctx, extractLinksScript, maxLinks)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"links": out}, nil
		},
	}
}

func extractDataDescriptor() *core.ToolDescriptor {
	return &core.ToolDescriptor{
		Name:            "extract_data",
		Category:        core.CategoryExtraction,
		InputSchema:     requireStrings("selector"),
		OutputSchema:    requireOutputKeys("items"),
		Cache:           core.CachePolicy{Enabled: true, TTL: 120 * time.Second, InvalidateOnNavigation: true},
		Timeout:         15 * time.Second,
		RequiresPercept: true,
		Handler: func(ectx *core.ExecutionContext, input map[string]interface{}) (map[string]interface{}, error) {
			sel := selector(input)
			out, err := ectx.Driver.ExecuteScript(ectx.Ctx, extractDataScript, sel)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"items": out}, nil
		},
	}
}

func getInteractiveElementsDescriptor() *core.ToolDescriptor {
	return &core.ToolDescriptor{
		Name:         "get_interactive_elements",
		Category:     core.CategoryExtraction,
		InputSchema:  noValidation,
		OutputSchema: requireOutputKeys("elements"),
		Cache:        core.CachePolicy{Enabled: true, TTL: 30 * time.Second, InvalidateOnNavigation: true},
		Timeout:  5 * time.Second,
		Handler: func(ectx *core.ExecutionContext, input map[string]interface{}) (map[string]interface{}, error) {
			limit := intArg(input, "limit", 50)
			out, err := ectx.Driver.ExecuteScript(ectx.Ctx, interactiveElementsScript, limit)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"elements": out}, nil
		},
	}
}

func getPageStateDescriptor() *core.ToolDescriptor {
	return &core.ToolDescriptor{
		Name:     "get_page_state",
		Category: core.CategoryExtraction,
		InputSchema: noValidation,
		Cache:    core.CachePolicy{Enabled: true, TTL: 5 * time.Second, InvalidateOnNavigation: true},
		Timeout:  5 * time.Second,
		Handler: func(ectx *core.ExecutionContext, input map[string]interface{}) (map[string]interface{}, error) {
			out, err := ectx.Driver.ExecuteScript(ectx.Ctx, pageStateScript)
			if err != nil {
				return nil, err
			}
			m, _ := out.(map[string]interface{})
			return m, nil
		},
	}
}

func screenshotDescriptor() *core.ToolDescriptor {
	return &core.ToolDescriptor{
		Name:         "screenshot",
		Category:     core.CategoryExtraction,
		InputSchema:  noValidation,
		OutputSchema: requireOutputKeys("image_base64"),
		Cache:        core.CachePolicy{Enabled: true, TTL: 60 * time.Second, InvalidateOnNavigation: true},
		Timeout:  15 * time.Second,
		Handler: func(ectx *core.ExecutionContext, input map[string]interface{}) (map[string]interface{}, error) {
			data, err := ectx.Driver.Screenshot(ectx.Ctx)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"image_base64": base64.StdEncoding.EncodeToString(data),
				"bytes":        len(data),
			}, nil
		},
	}
}
