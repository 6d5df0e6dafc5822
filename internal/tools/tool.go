// Package tools holds the LLM-callable tools and their registry.
package tools

import (
	"context"
	"encoding/json"

	"github.com/AgN1ke/aisus/internal/llm"
)

// Tool is the interface all LLM-callable tools satisfy. Execute returns user
// errors as result text; a non-nil error means the tool itself broke.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON Schema for this tool's arguments.
	Parameters() json.RawMessage
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// Registry keeps tools by name and renders their function-calling specs.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.Add(t)
	}
	return r
}

func (r *Registry) Add(t Tool) {
	if _, ok := r.tools[t.Name()]; !ok {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) Tool { return r.tools[name] }

func (r *Registry) Len() int { return len(r.tools) }

// Specs returns the registered tools in OpenAI function-calling format, in
// registration order.
func (r *Registry) Specs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		var params map[string]any
		if err := json.Unmarshal(t.Parameters(), &params); err != nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		specs = append(specs, llm.ToolSpec{
			Type: "function",
			Function: llm.FunctionSpec{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  params,
			},
		})
	}
	return specs
}
