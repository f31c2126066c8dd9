package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ToolHandler is the executor closure a tool registers: it receives the
// raw JSON-shaped input (already schema-validated) plus the session's
// current perception (nil if none was required) and returns a
// JSON-shaped output or an error classified into the core taxonomy.
//
// Tools dispatch at the registry edge through this single signature
// (JSON in, JSON out) rather than through per-tool Go types, matching
// original_source's DynamicTool/DynamicToolWrapper pattern
// (poc/src/tools/mod.rs) where every concrete tool is erased behind one
// `execute(Value) -> Result<Value, ToolError>` boundary so the registry,
// executor, and MCP transport never need to know concrete tool types.
type ToolHandler func(ctx *ExecutionContext, input map[string]interface{}) (map[string]interface{}, error)

// SchemaValidator checks a raw input map structurally. Returns a non-nil
// error (already classified, or plain — the executor wraps it) when the
// input does not conform. The same function type validates a tool's
// output as its input — both are plain JSON-shaped maps checked the same
// way.
type SchemaValidator func(input map[string]interface{}) error

// ExecutionContext is handed to every ToolHandler: the session identity,
// driver, and the perception already gathered for this call (the
// executor's pre-perception step), so tools never reach into global
// state.
type ExecutionContext struct {
	Ctx        context.Context
	SessionID  string
	Driver     Driver
	Perception *PageAnalysis
}

// ToolDescriptor is the registry's stored record for one tool (C7).
type ToolDescriptor struct {
	Name        string
	Category    ToolCategory
	InputSchema SchemaValidator
	// OutputSchema, when set, checks a successful Handler's output before
	// the executor records/caches it. A failing check surfaces as
	// KindInvalidOutput rather than a cached or recorded success. Optional:
	// most tools return a fixed, already-correct shape and need nothing
	// here.
	OutputSchema    SchemaValidator
	Cache           CachePolicy
	Handler         ToolHandler
	Timeout         time.Duration
	DisableRetries  bool
	RequiresPercept bool // Interaction/Extraction tools need a fresh perception before executing
}

// Registry holds the tool catalogue (C7). Registration is one-shot at
// startup; duplicate names are rejected; enumeration is stable
// registration order — grounded on original_source's ToolRegistry, whose
// `register` returns an error on name collision and whose `list_tools`
// preserves insertion order for reproducible tool listings.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]*ToolDescriptor
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*ToolDescriptor)}
}

// Register adds a tool descriptor. Returns an error if the name is
// already registered or the descriptor is missing a handler.
func (r *Registry) Register(desc *ToolDescriptor) error {
	if desc.Name == "" {
		return New(KindInvalidInput, "tool descriptor must have a name")
	}
	if desc.Handler == nil {
		return New(KindInvalidInput, fmt.Sprintf("tool %q registered without a handler", desc.Name))
	}
	if desc.Timeout <= 0 {
		desc.Timeout = 30 * time.Second
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[desc.Name]; exists {
		return New(KindInvalidInput, fmt.Sprintf("tool %q already registered", desc.Name))
	}
	r.tools[desc.Name] = desc
	r.order = append(r.order, desc.Name)
	return nil
}

// Lookup returns the descriptor for name, or NotFound.
func (r *Registry) Lookup(name string) (*ToolDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	if !ok {
		return nil, New(KindNotFound, fmt.Sprintf("no tool registered as %q", name))
	}
	return d, nil
}

// List returns every registered tool name in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
