package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// perceptionScriptTemplate is the single JS batch executed for a given tier. Each
// tier's script is a superset of the previous tier's, so richness grows
// monotonically as the tier increases. Grounded on the existing
// get-interactive-elements JS injection pattern (internal/mcp/navigation_elements.go):
// one querySelectorAll pass over a handful of interactive-element
// selectors, returning a plain JSON-serialisable object.
const perceptionScriptTemplate = `() => {
	const limit = %d;
	const deep = %v;
	const selector = 'button, input:not([type="hidden"]), textarea, select, a[href], [role="button"]';
	const els = document.querySelectorAll(selector);
	const out = [];
	for (let i = 0; i < els.length && out.length < limit; i++) {
		const el = els[i];
		const rect = deep ? el.getBoundingClientRect() : null;
		const style = window.getComputedStyle(el);
		const visible = style.display !== 'none' && style.visibility !== 'hidden' && el.offsetParent !== null;
		out.push({
			tag: el.tagName.toLowerCase(),
			text: (el.innerText || el.value || '').slice(0, 120),
			id: el.id || '',
			cls: el.className || '',
			testid: el.getAttribute('data-testid') || el.getAttribute('data-test-id') || '',
			aria: el.getAttribute('aria-label') || '',
			name: el.name || '',
			visible: visible,
			box: rect ? {x: rect.x, y: rect.y, w: rect.width, h: rect.height} : null,
		});
	}
	return {
		readyState: document.readyState,
		hasError: document.querySelector('.error, [class*="error-"]') !== null,
		hasLoading: document.querySelector('.loading, [class*="spinner"]') !== null,
		elementCount: els.length,
		formCount: document.forms.length,
		hasNav: document.querySelector('nav, [role="navigation"]') !== null,
		headings: Array.from(document.querySelectorAll('h1,h2,h3')).slice(0,5).map(h => h.innerText.slice(0,80)),
		elements: out,
	};
}`

// Engine is the Layered Perception Engine: four time-budgeted tiers plus
// adaptive mode selection, grounded on original_source's perception_mvp
// family and its tier table.
type Engine struct {
	cache *MultiLevelCache
	bus   *EventBus
}

// NewEngine constructs a perception engine bound to the shared cache and
// event bus; it holds no reference to the StateStore (see state.go's
// note on breaking cyclic references) — complexity/degradation signals
// are passed in by the caller (the Intent Coordinator) instead.
func NewEngine(cache *MultiLevelCache, bus *EventBus) *Engine {
	return &Engine{cache: cache, bus: bus}
}

// SelectMode is the pure adaptive-mode-selection decision: it stays pure
// (inputs only: budget, complexity, recent-error count) for
// testability. It never reads a
// clock or environment.
func SelectMode(timeAvailable time.Duration, complexity float64, recentErrors int) PerceptionMode {
	if timeAvailable < 100*time.Millisecond {
		return ModeLightning
	}
	switch {
	case complexity < 0.3:
		return ModeQuick
	case complexity < 0.6:
		return ModeStandard
	default:
		return ModeDeep
	}
}

// Perceive runs perception at the requested mode (resolving ModeAuto via
// SelectMode first), subject to the mode's hard deadline. Cache is
// consulted first: a hit keyed by (sessionID, url, mode) skips driver
// execution entirely.
func (e *Engine) Perceive(ctx context.Context, drv Driver, sessionID string, mode PerceptionMode, timeAvailable time.Duration, complexity float64, recentErrors int) (PageAnalysis, error) {
	requested := mode
	if mode == ModeAuto {
		mode = SelectMode(timeAvailable, complexity, recentErrors)
	}

	url, _ := drv.CurrentURL(ctx)
	cacheKey := Key("perceive:"+mode.String(), sessionID, url, "")
	if entry, ok := e.cache.Get("perceive:"+mode.String(), cacheKey); ok {
		if pa, ok := entry.Value.(PageAnalysis); ok {
			return pa, nil
		}
	}

	budget := mode.Budget()
	tctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	pa, err := e.runTier(tctx, drv, mode)
	pa.Duration = time.Since(start)
	pa.Mode = mode
	pa.ComputedAt = time.Now()
	if requested != ModeAuto && requested != mode {
		pa.DowngradedFrom = requested
	}

	if tctx.Err() != nil {
		pa.Degraded = true
		pa.Status = StatusDegraded
	}
	if err != nil {
		ce := classifyDriverErr("perceive:"+mode.String(), err)
		pa.Err = ce
	}

	// Cache policy for perception: 5s for the fast tiers, 30s for the
	// thorough ones.
	ttl := 5 * time.Second
	if mode == ModeStandard || mode == ModeDeep {
		ttl = 30 * time.Second
	}
	e.cache.SetPolicy("perceive:"+mode.String(), CachePolicy{Enabled: true, TTL: ttl, InvalidateOnNavigation: true})
	if pa.Err == nil {
		e.cache.Set("perceive:"+mode.String(), sessionID, cacheKey, pa)
	}

	if e.bus != nil {
		e.bus.Publish(Event{
			Kind:         EventAnalysisCompleted,
			SessionID:    sessionID,
			Timestamp:    time.Now(),
			Mode:         mode,
			ElementCount: pa.ElementCount,
			Duration:     pa.Duration,
		})
	}

	return pa, err
}

// runTier executes the single JS probe for the requested tier and shapes
// the result into the tier's contract. Because every tier
// shares one script template, "richness grows monotonically" is achieved
// by truncating/omitting fields the lower tiers don't promise rather than
// running separate scripts per tier — cheaper, and faithful to the
// teacher's single-JS-batch style.
func (e *Engine) runTier(ctx context.Context, drv Driver, mode PerceptionMode) (PageAnalysis, error) {
	limit := 10
	deep := mode == ModeDeep
	if mode == ModeStandard || mode == ModeDeep {
		limit = 50
	}
	script := fmt.Sprintf(perceptionScriptTemplate, limit, deep)

	raw, err := drv.ExecuteScript(ctx, script)
	if err != nil {
		return PageAnalysis{Status: StatusError}, err
	}

	result, _ := raw.(map[string]interface{})
	pa := PageAnalysis{Confidence: 0.8}
	pa.Status = pageStatus(result)

	elementsRaw, _ := result["elements"].([]interface{})
	for _, raw := range elementsRaw {
		em, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		el := Element{
			Tag:       stringField(em, "tag"),
			Text:      stringField(em, "text"),
			Visible:   boolField(em, "visible"),
			Clickable: boolField(em, "visible"),
			Type:      elementTypeFromTag(stringField(em, "tag")),
			TestID:    stringField(em, "testid"),
			AriaLabel: stringField(em, "aria"),
			ID:        stringField(em, "id"),
			Name:      stringField(em, "name"),
		}
		buildSelectorBundle(&el)
		if mode == ModeDeep {
			if box, ok := em["box"].(map[string]interface{}); ok {
				el.BoundingBox = &BoundingBox{
					X:      floatField(box, "x"),
					Y:      floatField(box, "y"),
					Width:  floatField(box, "w"),
					Height: floatField(box, "h"),
				}
			}
		}
		pa.KeyElements = append(pa.KeyElements, el)
		if len(pa.KeyElements) >= limit {
			break
		}
	}

	pa.ElementCount = intField(result, "elementCount")

	if mode != ModeLightning {
		pa.FormCount = intField(result, "formCount")
		pa.HasNavigation = boolField(result, "hasNav")
		if headings, ok := result["headings"].([]interface{}); ok {
			for _, h := range headings {
				if s, ok := h.(string); ok {
					pa.HeadingSample = append(pa.HeadingSample, s)
				}
			}
		}
	}

	if mode == ModeStandard || mode == ModeDeep {
		pa.Classification = classifyPage(pa)
	}
	if mode == ModeDeep {
		pa.Confidence = qualityScore(pa)
	}

	return pa, nil
}

func pageStatus(result map[string]interface{}) PageStatus {
	readyState := stringField(result, "readyState")
	hasError := boolField(result, "hasError")
	hasLoading := boolField(result, "hasLoading")
	switch {
	case hasError:
		return StatusError
	case readyState == "loading":
		return StatusLoading
	case hasLoading:
		return StatusInteractive
	case readyState == "interactive":
		return StatusInteractive
	case readyState == "complete":
		return StatusComplete
	default:
		return StatusReady
	}
}

func classifyPage(pa PageAnalysis) string {
	hasPassword := false
	hasSearch := false
	for _, el := range pa.KeyElements {
		lower := strings.ToLower(el.Text)
		if strings.Contains(lower, "password") || strings.Contains(lower, "sign in") || strings.Contains(lower, "log in") {
			hasPassword = true
		}
		if strings.Contains(lower, "search") {
			hasSearch = true
		}
	}
	switch {
	case hasPassword:
		return "login"
	case hasSearch:
		return "search"
	case pa.FormCount > 0:
		return "form"
	case len(pa.HeadingSample) > 0:
		return "article"
	default:
		return "generic"
	}
}

func qualityScore(pa PageAnalysis) float64 {
	score := 0.5
	if pa.ElementCount > 0 {
		score += 0.2
	}
	if len(pa.HeadingSample) > 0 {
		score += 0.15
	}
	if pa.Classification != "" && pa.Classification != "generic" {
		score += 0.15
	}
	if score > 1 {
		score = 1
	}
	return score
}

// buildSelectorBundle sets Primary to the most stable identifier the
// element exposes and appends every other identifier as a Fallback, in
// the same priority order findElementByRefWithRegistry resolves a ref
// against a live page: data-testid, then aria-label, then id, then
// name, then the bare tag as a last resort.
func buildSelectorBundle(el *Element) {
	candidates := []string{}
	if el.TestID != "" {
		candidates = append(candidates, `[data-testid="`+el.TestID+`"]`)
	}
	if el.AriaLabel != "" {
		candidates = append(candidates, `[aria-label="`+el.AriaLabel+`"]`)
	}
	if el.ID != "" {
		candidates = append(candidates, "#"+el.ID)
	}
	if el.Name != "" {
		candidates = append(candidates, `[name="`+el.Name+`"]`)
	}
	if len(candidates) == 0 {
		el.Primary = el.Tag
		return
	}
	el.Primary = candidates[0]
	el.Fallbacks = append(el.Fallbacks, candidates[1:]...)
}

func elementTypeFromTag(tag string) ElementType {
	switch tag {
	case "button":
		return ElementButton
	case "a":
		return ElementLink
	case "input", "textarea":
		return ElementInput
	case "select":
		return ElementSelect
	case "form":
		return ElementForm
	default:
		return ElementOther
	}
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func boolField(m map[string]interface{}, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

func intField(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func floatField(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

// Locate resolves a natural-language-or-selector description against a
// PageAnalysis. Direct identifier matching is tried first, in the same
// priority order buildSelectorBundle assigns to Primary/Fallbacks
// (data-testid, aria-label, id, name, raw selector); text-contains and
// fuzzy type-synonym matching follow as progressively looser fallbacks.
func Locate(pa PageAnalysis, description string) []LocateMatch {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil
	}

	if el, ok := matchByIdentifierPriority(pa.KeyElements, description); ok {
		return []LocateMatch{{Element: el, Confidence: 0.95}}
	}

	if looksLikeSelector(description) {
		for _, el := range pa.KeyElements {
			if el.Primary == description || containsString(el.Fallbacks, description) {
				return []LocateMatch{{Element: el, Confidence: 0.95}}
			}
		}
	}

	var textMatches []Element
	lowerDesc := strings.ToLower(description)
	for _, el := range pa.KeyElements {
		if strings.Contains(strings.ToLower(el.Text), lowerDesc) {
			textMatches = append(textMatches, el)
		}
	}
	if len(textMatches) > 0 {
		return scoreMatches(textMatches)
	}

	synonym := typeSynonym(lowerDesc)
	if synonym != "" {
		var typeMatches []Element
		for _, el := range pa.KeyElements {
			if matchesSynonym(el, synonym) {
				typeMatches = append(typeMatches, el)
			}
		}
		if len(typeMatches) > 0 {
			return scoreMatches(typeMatches)
		}
	}

	return nil
}

// matchByIdentifierPriority checks description against each element's raw
// identifying attributes in priority order (data-testid, aria-label, id,
// name), so a caller can pass any of those values bare - not just a
// pre-built CSS selector - and still resolve to the right element.
func matchByIdentifierPriority(els []Element, description string) (Element, bool) {
	for _, el := range els {
		if el.TestID != "" && el.TestID == description {
			return el, true
		}
	}
	for _, el := range els {
		if el.AriaLabel != "" && el.AriaLabel == description {
			return el, true
		}
	}
	for _, el := range els {
		if el.ID != "" && (el.ID == description || "#"+el.ID == description) {
			return el, true
		}
	}
	for _, el := range els {
		if el.Name != "" && el.Name == description {
			return el, true
		}
	}
	return Element{}, false
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func scoreMatches(els []Element) []LocateMatch {
	n := len(els)
	conf := 0.95
	if n > 1 {
		conf = 0.7 / float64(n)
	}
	out := make([]LocateMatch, 0, n)
	for _, el := range els {
		out = append(out, LocateMatch{Element: el, Confidence: conf})
	}
	return out
}

func looksLikeSelector(s string) bool {
	return strings.HasPrefix(s, "#") || strings.HasPrefix(s, ".") || strings.HasPrefix(s, "[") || strings.Contains(s, " > ")
}

var clickSynonyms = map[string]bool{"click": true, "press": true, "tap": true, "select": true}
var typeSynonyms = map[string]bool{"type": true, "enter": true, "fill": true, "input": true}

func typeSynonym(lowerDesc string) string {
	for word := range clickSynonyms {
		if strings.Contains(lowerDesc, word) {
			return "click"
		}
	}
	for word := range typeSynonyms {
		if strings.Contains(lowerDesc, word) {
			return "type"
		}
	}
	return ""
}

func matchesSynonym(el Element, synonym string) bool {
	switch synonym {
	case "click":
		return el.Type == ElementButton || el.Type == ElementLink
	case "type":
		return el.Type == ElementInput
	default:
		return false
	}
}
