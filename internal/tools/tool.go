package tools

import (
	"context"
	"encoding/json"

	"github.com/rendis/conveyor/internal/store"
)

// Tool is a named unit of invocable side-effecting work executed on a
// transition.
type Tool interface {
	Name() string
	Schema() ToolSchema
	Execute(ctx context.Context, input ToolInput) (*ToolResult, error)
}

// ToolSchema describes the argument contract of a tool.
type ToolSchema struct {
	ArgsSchema  json.RawMessage `json:"args_schema,omitempty"`
	Description string          `json:"description,omitempty"`
}

// ToolInput is the data provided to a tool at execution time. Args are
// already materialized; Context, Data, and Options are read-only views, tool
// mutations flow back through ToolResult.
type ToolInput struct {
	Workflow     *store.Workflow `json:"-"`
	TransitionID string          `json:"transition_id,omitempty"`
	Args         map[string]any  `json:"args,omitempty"`
	Context      map[string]any  `json:"context,omitempty"`
	Data         map[string]any  `json:"data,omitempty"`
	Options      map[string]any  `json:"options,omitempty"`
}

// ToolResult is the outcome of a tool execution. ContextUpdates are merged
// into the workflow context; NextPlace disambiguates multi-target
// transitions; Output feeds assign expressions.
type ToolResult struct {
	ContextUpdates map[string]any `json:"context_updates,omitempty"`
	NextPlace      string         `json:"next_place,omitempty"`
	Output         any            `json:"output,omitempty"`
}

// ToolInfo is a summary of a registered tool for listing.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
