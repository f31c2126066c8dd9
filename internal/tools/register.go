package tools

import "browseragent-core/internal/core"

// RegisterBuiltins registers the full tool catalogue against reg at
// startup, a one-shot registration. Returns the first
// registration error encountered (always a programming error — duplicate
// names — never a runtime condition).
func RegisterBuiltins(reg *core.Registry) error {
	descriptors := []*core.ToolDescriptor{
		navigateDescriptor(),
		clickDescriptor(),
		typeDescriptor(),
		selectDescriptor(),
		pressKeyDescriptor(),
		fillFormDescriptor(),
		waitForElementDescriptor(),
		waitForConditionDescriptor(),
		awaitStableStateDescriptor(),
		screenshotDescriptor(),
		extractTextDescriptor(),
		extractLinksDescriptor(),
		extractDataDescriptor(),
		getInteractiveElementsDescriptor(),
		getPageStateDescriptor(),
		evaluateJSDescriptor(),
		diagnosePageDescriptor(),
		sessionMemoryDescriptor(),
		persistentCacheDescriptor(),
		historyDescriptor(),
	}
	for _, d := range descriptors {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}
