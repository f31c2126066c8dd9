package core

import "context"

// ElementHandle is an opaque reference to a located DOM element, returned
// by Driver.Find/FindAll. Concrete fields are filled in by the perception
// tiers as they interrogate it; the driver itself only needs to support
// enough to answer those interrogations.
type ElementHandle interface {
	Tag(ctx context.Context) (string, error)
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, bool, error)
	Visible(ctx context.Context) (bool, error)
	Clickable(ctx context.Context) (bool, error)
	BoundingBox(ctx context.Context) (*BoundingBox, error)
}

// Driver is the raw page-operations surface the perception engine, tool
// registry, and executor consume. It is satisfied by internal/browser's
// adapter over go-rod's *rod.Page; those components depend only on this
// interface, never on go-rod directly, so they can be
// exercised in tests against a fake.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Content(ctx context.Context) (string, error)
	ExecuteScript(ctx context.Context, source string, args ...interface{}) (interface{}, error)
	Find(ctx context.Context, selector string) (ElementHandle, error)
	FindAll(ctx context.Context, selector string) ([]ElementHandle, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
	IsAlive(ctx context.Context) bool
}

// classifyDriverErr wraps a raw driver error into the core taxonomy when
// no more specific classification is available at the call site.
func classifyDriverErr(action string, err error) *CoreError {
	if err == nil {
		return nil
	}
	return Wrap(KindExecutionFailed, "driver call failed: "+action, err)
}
