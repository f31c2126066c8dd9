package tools

import (
	"time"

	"browseragent-core/internal/core"
)

// navigateDescriptor is grounded on internal/mcp/navigation_state.go's
// NavigateURLTool: call the driver's Navigate, then report the resulting
// URL/title. Cache disabled: navigate is never idempotent in the
// cacheable sense — its whole point is to change the page the rest of
// the catalogue observes.
func navigateDescriptor() *core.ToolDescriptor {
	return &core.ToolDescriptor{
		Name:         "navigate",
		Category:     core.CategoryNavigation,
		InputSchema:  requireStrings("url"),
		OutputSchema: requireOutputKeys("url", "title"),
		Cache:        core.CachePolicy{Enabled: false},
		Timeout:      30 * time.Second,
		Handler: func(ectx *core.ExecutionContext, input map[string]interface{}) (map[string]interface{}, error) {
			url := stringArg(input, "url")
			if err := ectx.Driver.Navigate(ectx.Ctx, url); err != nil {
				return nil, err
			}
			title, _ := ectx.Driver.Title(ectx.Ctx)
			current, _ := ectx.Driver.CurrentURL(ectx.Ctx)
			recordVisit(ectx.SessionID, current)
			return map[string]interface{}{
				"url":   current,
				"title": title,
			}, nil
		},
	}
}
