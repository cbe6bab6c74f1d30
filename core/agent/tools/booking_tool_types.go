package tools

import (
	"context"

	"booking_worker/core/port/out"
)

// Tool is one capability the model may invoke.
type Tool interface {
	Name() string
	Description() string
	Parameters() []ParameterSpec
	Execute(ctx context.Context, inv Invocation) (any, error)
}

// ParameterSpec defines a tool parameter
type ParameterSpec struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"` // string, number, integer, boolean, array, object
	Description string         `json:"description"`
	Required    bool           `json:"required"`
	Enum        []string       `json:"enum,omitempty"`
	Items       map[string]any `json:"items,omitempty"` // array element schema
}

// ConvertToDefinition converts Tool to a JSON Schema definition for the model.
func ConvertToDefinition(t Tool) out.ToolDefinition {
	properties := make(map[string]any)
	required := []string{}

	for _, p := range t.Parameters() {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Items != nil {
			prop["items"] = p.Items
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	return out.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	}
}
