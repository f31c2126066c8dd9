package browser

import (
	"context"
	"strings"

	"browseragent-core/internal/core"

	"github.com/go-rod/rod"
)

// PageDriver adapts a *rod.Page into core.Driver (C1), the narrow surface
// the perception engine, tool registry, and executor program against.
// Grounded on the same page-manipulation calls internal/mcp's tool files
// already make (page.Context(ctx).Evaluate/Navigate/Element/Screenshot) —
// this file exists because the core package must stay free of any go-rod
// import (see internal/core/driver.go's doc comment), so every one of
// those calls is re-expressed here behind the Driver interface instead of
// being sprinkled across tool handlers.
type PageDriver struct {
	page *rod.Page
}

// NewPageDriver wraps an existing Rod page.
func NewPageDriver(page *rod.Page) *PageDriver {
	return &PageDriver{page: page}
}

func (d *PageDriver) Navigate(ctx context.Context, url string) error {
	if err := d.page.Context(ctx).Navigate(url); err != nil {
		return core.Wrap(core.KindNavigationFailed, "navigate to "+url, err)
	}
	return nil
}

func (d *PageDriver) CurrentURL(ctx context.Context) (string, error) {
	info, err := d.page.Context(ctx).Info()
	if err != nil {
		return "", core.Wrap(core.KindExecutionFailed, "read page info", err)
	}
	return info.URL, nil
}

func (d *PageDriver) Title(ctx context.Context) (string, error) {
	info, err := d.page.Context(ctx).Info()
	if err != nil {
		return "", core.Wrap(core.KindExecutionFailed, "read page info", err)
	}
	return info.Title, nil
}

func (d *PageDriver) Content(ctx context.Context) (string, error) {
	html, err := d.page.Context(ctx).HTML()
	if err != nil {
		return "", core.Wrap(core.KindExecutionFailed, "read page content", err)
	}
	return html, nil
}

// ExecuteScript evaluates source as the body of a JS function, matching
// the `() => { ... }` wrapper convention used throughout internal/mcp's
// existing tool scripts.
func (d *PageDriver) ExecuteScript(ctx context.Context, source string, args ...interface{}) (interface{}, error) {
	result, err := d.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:             source,
		JSArgs:         args,
		ByValue:        true,
		AwaitPromise:   true,
		UserGesture:    false,
	})
	if err != nil {
		return nil, core.Wrap(core.KindJavaScriptError, "execute script", err)
	}
	if result == nil || result.Value == nil {
		return nil, nil
	}
	return result.Value.Val(), nil
}

func (d *PageDriver) Find(ctx context.Context, selector string) (core.ElementHandle, error) {
	el, err := d.page.Context(ctx).Element(selector)
	if err != nil {
		return nil, core.Wrap(core.KindElementNotFound, "find "+selector, err)
	}
	return &pageElement{el: el}, nil
}

func (d *PageDriver) FindAll(ctx context.Context, selector string) ([]core.ElementHandle, error) {
	els, err := d.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, core.Wrap(core.KindElementNotFound, "find all "+selector, err)
	}
	out := make([]core.ElementHandle, len(els))
	for i, el := range els {
		out[i] = &pageElement{el: el}
	}
	return out, nil
}

func (d *PageDriver) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := d.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return nil, core.Wrap(core.KindExecutionFailed, "screenshot", err)
	}
	return data, nil
}

func (d *PageDriver) Close(ctx context.Context) error {
	if err := d.page.Context(ctx).Close(); err != nil {
		return core.Wrap(core.KindExecutionFailed, "close page", err)
	}
	return nil
}

func (d *PageDriver) IsAlive(ctx context.Context) bool {
	_, err := d.page.Context(ctx).Evaluate(&rod.EvalOptions{JS: `() => true`, ByValue: true})
	return err == nil
}

// pageElement adapts a *rod.Element into core.ElementHandle.
type pageElement struct {
	el *rod.Element
}

func (e *pageElement) Tag(ctx context.Context) (string, error) {
	val, err := e.el.Context(ctx).Property("tagName")
	if err != nil {
		return "", core.Wrap(core.KindExecutionFailed, "read tag name", err)
	}
	return strings.ToLower(val.Str()), nil
}

func (e *pageElement) Text(ctx context.Context) (string, error) {
	text, err := e.el.Context(ctx).Text()
	if err != nil {
		return "", core.Wrap(core.KindExecutionFailed, "read element text", err)
	}
	return text, nil
}

func (e *pageElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	val, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, core.Wrap(core.KindExecutionFailed, "read attribute "+name, err)
	}
	if val == nil {
		return "", false, nil
	}
	return *val, true, nil
}

func (e *pageElement) Visible(ctx context.Context) (bool, error) {
	visible, err := e.el.Context(ctx).Visible()
	if err != nil {
		return false, core.Wrap(core.KindExecutionFailed, "check visibility", err)
	}
	return visible, nil
}

// Clickable is a heuristic, not a native Rod capability: visible, not
// disabled, and not aria-disabled="true". Matches the disabled/visibility
// checks internal/mcp/navigation_elements.go's InteractTool already runs
// before acting on an element.
func (e *pageElement) Clickable(ctx context.Context) (bool, error) {
	visible, err := e.Visible(ctx)
	if err != nil || !visible {
		return false, err
	}
	if _, disabled, _ := e.Attribute(ctx, "disabled"); disabled {
		return false, nil
	}
	if val, present, _ := e.Attribute(ctx, "aria-disabled"); present && val == "true" {
		return false, nil
	}
	return true, nil
}

func (e *pageElement) BoundingBox(ctx context.Context) (*core.BoundingBox, error) {
	shape, err := e.el.Context(ctx).Shape()
	if err != nil || shape == nil {
		return nil, nil
	}
	box := shape.Box()
	if box == nil {
		return nil, nil
	}
	return &core.BoundingBox{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}, nil
}
