package tools

import (
	"context"
	"testing"

	"browseragent-core/internal/core"
)

// fakeDriver is a minimal core.Driver stand-in: enough surface for the
// tool handlers exercised here, nothing more. ExecuteScript dispatches on
// the script body rather than simulating a real JS engine.
type fakeDriver struct {
	url         string
	title       string
	scriptFunc  func(source string, args []interface{}) (interface{}, error)
	navigateErr error
}

func (f *fakeDriver) Navigate(ctx context.Context, url string) error {
	if f.navigateErr != nil {
		return f.navigateErr
	}
	f.url = url
	return nil
}
func (f *fakeDriver) CurrentURL(ctx context.Context) (string, error) { return f.url, nil }
func (f *fakeDriver) Title(ctx context.Context) (string, error)      { return f.title, nil }
func (f *fakeDriver) Content(ctx context.Context) (string, error)    { return "", nil }
func (f *fakeDriver) ExecuteScript(ctx context.Context, source string, args ...interface{}) (interface{}, error) {
	if f.scriptFunc != nil {
		return f.scriptFunc(source, args)
	}
	return nil, nil
}
func (f *fakeDriver) Find(ctx context.Context, selector string) (core.ElementHandle, error) {
	return nil, core.New(core.KindElementNotFound, "not implemented")
}
func (f *fakeDriver) FindAll(ctx context.Context, selector string) ([]core.ElementHandle, error) {
	return nil, nil
}
func (f *fakeDriver) Screenshot(ctx context.Context) ([]byte, error) { return []byte("png"), nil }
func (f *fakeDriver) Close(ctx context.Context) error                { return nil }
func (f *fakeDriver) IsAlive(ctx context.Context) bool                { return true }

func newTestContext(sessionID string, drv core.Driver) *core.ExecutionContext {
	return &core.ExecutionContext{
		Ctx:       context.Background(),
		SessionID: sessionID,
		Driver:    drv,
	}
}

func TestNavigateDescriptorReportsURLAndTitle(t *testing.T) {
	drv := &fakeDriver{title: "Example Domain"}
	desc := navigateDescriptor()
	ectx := newTestContext("nav-session-1", drv)

	out, err := desc.Handler(ectx, map[string]interface{}{"url": "https://example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["url"] != "https://example.com" {
		t.Errorf("url = %v, want https://example.com", out["url"])
	}
	if out["title"] != "Example Domain" {
		t.Errorf("title = %v, want Example Domain", out["title"])
	}
}

func TestNavigateDescriptorRecordsHistory(t *testing.T) {
	drv := &fakeDriver{}
	desc := navigateDescriptor()
	ectx := newTestContext("nav-session-2", drv)

	if _, err := desc.Handler(ectx, map[string]interface{}{"url": "https://a.test"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := desc.Handler(ectx, map[string]interface{}{"url": "https://b.test"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hist := historyDescriptor()
	out, err := hist.Handler(ectx, map[string]interface{}{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	urls, _ := out["urls"].([]string)
	if len(urls) != 2 || urls[0] != "https://a.test" || urls[1] != "https://b.test" {
		t.Errorf("urls = %v, want [https://a.test https://b.test]", urls)
	}
}

func TestNavigateDescriptorPropagatesDriverError(t *testing.T) {
	drv := &fakeDriver{navigateErr: core.New(core.KindExecutionFailed, "boom")}
	desc := navigateDescriptor()
	ectx := newTestContext("nav-session-3", drv)

	if _, err := desc.Handler(ectx, map[string]interface{}{"url": "https://fails.test"}); err == nil {
		t.Fatal("expected error, got nil")
	}
}
