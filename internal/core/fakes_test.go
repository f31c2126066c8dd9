package core

import "context"

// fakeElementHandle and fakeDriver are minimal core.Driver stand-ins for
// exercising the pool/executor/cache without a real browser, the same
// fakeability internal/core/driver.go's own doc comment calls out.
type fakeElementHandle struct{}

func (fakeElementHandle) Tag(ctx context.Context) (string, error)  { return "div", nil }
func (fakeElementHandle) Text(ctx context.Context) (string, error) { return "", nil }
func (fakeElementHandle) Attribute(ctx context.Context, name string) (string, bool, error) {
	return "", false, nil
}
func (fakeElementHandle) Visible(ctx context.Context) (bool, error)   { return true, nil }
func (fakeElementHandle) Clickable(ctx context.Context) (bool, error) { return true, nil }
func (fakeElementHandle) BoundingBox(ctx context.Context) (*BoundingBox, error) {
	return &BoundingBox{}, nil
}

type fakeDriver struct {
	url        string
	title      string
	scriptFunc func(source string, args []interface{}) (interface{}, error)
}

func (f *fakeDriver) Navigate(ctx context.Context, url string) error { f.url = url; return nil }
func (f *fakeDriver) CurrentURL(ctx context.Context) (string, error) { return f.url, nil }
func (f *fakeDriver) Title(ctx context.Context) (string, error)      { return f.title, nil }
func (f *fakeDriver) Content(ctx context.Context) (string, error)    { return "", nil }
func (f *fakeDriver) ExecuteScript(ctx context.Context, source string, args ...interface{}) (interface{}, error) {
	if f.scriptFunc != nil {
		return f.scriptFunc(source, args)
	}
	return nil, nil
}
func (f *fakeDriver) Find(ctx context.Context, selector string) (ElementHandle, error) {
	return fakeElementHandle{}, nil
}
func (f *fakeDriver) FindAll(ctx context.Context, selector string) ([]ElementHandle, error) {
	return nil, nil
}
func (f *fakeDriver) Screenshot(ctx context.Context) ([]byte, error) { return []byte("png"), nil }
func (f *fakeDriver) Close(ctx context.Context) error                { return nil }
func (f *fakeDriver) IsAlive(ctx context.Context) bool                { return true }

// fakeBrowserInstance is a BrowserInstance stand-in for pool tests: no
// real process, just enough to be created/health-checked/closed.
type fakeBrowserInstance struct {
	closed  bool
	healthy bool
}

func (f *fakeBrowserInstance) HealthCheck(ctx context.Context) bool { return f.healthy }
func (f *fakeBrowserInstance) Close(ctx context.Context) error      { f.closed = true; return nil }
