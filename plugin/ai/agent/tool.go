// Package agent implements the tool-augmented conversation loop: the
// orchestrator that alternates between model calls and tool execution,
// and the dispatcher that fans tool batches out over a bounded pool.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/finsight/advisor/plugin/ai"
)

// Tool is the adapter contract for an executable tool. Implementations
// are synchronous and may fail; the dispatcher is solely responsible
// for timeouts and isolation.
type Tool interface {
	// Name returns the tool's identifier as exposed to the model.
	Name() string

	// Description returns what the tool does, for the model's benefit.
	Description() string

	// Parameters returns the JSON schema of the tool's arguments.
	Parameters() json.RawMessage

	// Call executes the tool with decoded arguments and returns a
	// JSON-serializable value.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// Registry manages the set of tools exposed to the model.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering a duplicate or anonymous tool is an
// error.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, exists := r.tools[name]
	return tool, exists
}

// Specs returns the model-facing specs of all registered tools, in
// registration order.
func (r *Registry) Specs() []ai.ToolSpec {
	specs := make([]ai.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		specs = append(specs, ai.ToolSpec{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		})
	}
	return specs
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	return len(r.tools)
}
