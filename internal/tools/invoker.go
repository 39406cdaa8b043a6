package tools

import (
	"context"
	"log/slog"

	"github.com/rendis/conveyor/internal/expressions"
	"github.com/rendis/conveyor/internal/validation"
	"github.com/rendis/conveyor/pkg/schema"
)

// Invoker resolves tool calls by name and invokes them with materialized
// arguments. It is the single entry point the processor uses to run tools.
type Invoker struct {
	registry     *Registry
	materializer *expressions.Materializer
	validator    *validation.SchemaValidator
	logger       *slog.Logger
}

// NewInvoker creates an Invoker.
func NewInvoker(registry *Registry, materializer *expressions.Materializer, validator *validation.SchemaValidator, logger *slog.Logger) *Invoker {
	return &Invoker{
		registry:     registry,
		materializer: materializer,
		validator:    validator,
		logger:       logger,
	}
}

// Invoke runs one tool call: resolves the tool, materializes the call's args
// against the invocation scope, validates them against the tool's schema,
// executes the tool, and evaluates the call's assign map against the output.
// An unknown tool name aborts the enclosing transition attempt.
func (inv *Invoker) Invoke(ctx context.Context, call schema.ToolCall, input ToolInput) (*ToolResult, error) {
	tool, err := inv.registry.Resolve(call.Tool)
	if err != nil {
		return nil, err
	}

	scope := scopeFor(input)
	args, err := inv.materializer.Materialize(ctx, call.Args, scope)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"materialize args for tool %q: %s", call.Tool, err.Error()).WithCause(err)
	}

	if ts := tool.Schema(); len(ts.ArgsSchema) > 0 {
		if err := inv.validator.ValidateMap(args, ts.ArgsSchema); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"invalid args for tool %q: %s", call.Tool, err.Error()).WithCause(err)
		}
	}

	input.Args = args
	result, err := tool.Execute(ctx, input)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &ToolResult{}
	}

	if len(call.Assign) > 0 {
		scope.Output = result.Output
		if result.ContextUpdates == nil {
			result.ContextUpdates = make(map[string]any, len(call.Assign))
		}
		for key, expression := range call.Assign {
			value, err := inv.materializer.Evaluate(ctx, expression, scope)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeExecution,
					"assign %q for tool %q: %s", key, call.Tool, err.Error()).WithCause(err)
			}
			result.ContextUpdates[key] = value
		}
	}

	inv.logger.DebugContext(ctx, "tool executed",
		slog.String("tool", call.Tool),
		slog.String("call_id", call.ID),
	)
	return result, nil
}

func scopeFor(input ToolInput) *expressions.Scope {
	scope := &expressions.Scope{
		Context: input.Context,
		Data:    input.Data,
		Options: input.Options,
	}
	if wf := input.Workflow; wf != nil {
		scope.Workflow = map[string]any{
			"id":        wf.ID,
			"pipeline":  wf.PipelineID,
			"workspace": wf.WorkspaceID,
			"namespace": wf.Namespace,
			"name":      wf.Name,
			"place":     wf.Place,
		}
	}
	return scope
}
