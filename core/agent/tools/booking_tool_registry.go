package tools

import (
	"booking_worker/core/port/out"
	"booking_worker/pkg/apperr"
)

// Registry holds the tools offered to the model. It is built once and read-only afterwards.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates a registry with the given tools, keeping their order.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, dup := r.tools[t.Name()]; !dup {
			r.order = append(r.order, t.Name())
		}
		r.tools[t.Name()] = t
	}
	return r
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (Tool, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, apperr.UnknownTool(name)
	}
	return tool, nil
}

// ListNames returns all tool names in registration order
func (r *Registry) ListNames() []string {
	return append([]string(nil), r.order...)
}

// GetDefinitions returns tool definitions for the model
func (r *Registry) GetDefinitions() []out.ToolDefinition {
	defs := make([]out.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, ConvertToDefinition(r.tools[name]))
	}
	return defs
}
