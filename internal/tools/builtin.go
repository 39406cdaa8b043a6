package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rendis/conveyor/internal/store"
	"github.com/rendis/conveyor/internal/validation"
	"github.com/rendis/conveyor/pkg/schema"
)

// TaskService is the scheduler surface the built-in task tools use.
// Satisfied by the scheduler (avoids import cycle).
type TaskService interface {
	CreateTask(ctx context.Context, spec schema.TaskSpec) (*store.ScheduledTask, error)
	RemoveTask(ctx context.Context, workspaceID, rootPipelineID, name string) error
}

// EventService is the subscriber/dispatch surface the built-in event tools use.
type EventService interface {
	RegisterSubscriber(ctx context.Context, spec schema.SubscriberSpec) (*store.EventSubscriber, error)
	Dispatch(ctx context.Context, event schema.PipelineEvent) error
}

// BuiltinDeps holds the dependencies injected into built-in tools.
type BuiltinDeps struct {
	Store     store.Store
	Tasks     TaskService
	Events    EventService
	Validator *validation.SchemaValidator
	Logger    *slog.Logger
}

// RegisterBuiltins registers all built-in tools in the given registry.
func RegisterBuiltins(reg *Registry, deps BuiltinDeps) error {
	all := []Tool{
		&contextSetTool{},
		&routeTool{},
		&logTool{logger: deps.Logger},
		&documentCreateTool{store: deps.Store, validator: deps.Validator},
		&taskScheduleTool{tasks: deps.Tasks},
		&taskRemoveTool{tasks: deps.Tasks},
		&eventWaitTool{events: deps.Events},
		&eventPublishTool{events: deps.Events},
		newTransformTool(),
	}

	for _, t := range all {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// --- arg helpers ---

func argString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "missing required arg %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "arg %q must be a string (got %T)", key, v)
	}
	return s, nil
}

func argStringOpt(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return def
}

func argBoolOpt(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func argInt64Opt(args map[string]any, key string) int64 {
	switch v := args[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func argMapOpt(args map[string]any, key string) map[string]any {
	v, _ := args[key].(map[string]any)
	return v
}

// --- context.set ---

// contextSetTool merges its args into the workflow context.
type contextSetTool struct{}

func (t *contextSetTool) Name() string { return "context.set" }

func (t *contextSetTool) Schema() ToolSchema {
	return ToolSchema{Description: "Merge the given key-value pairs into the workflow context."}
}

func (t *contextSetTool) Execute(_ context.Context, input ToolInput) (*ToolResult, error) {
	updates := make(map[string]any, len(input.Args))
	for k, v := range input.Args {
		updates[k] = v
	}
	return &ToolResult{ContextUpdates: updates}, nil
}

// --- workflow.route ---

// routeTool supplies the next-place override required by transitions with
// more than one declared destination.
type routeTool struct{}

func (t *routeTool) Name() string { return "workflow.route" }

func (t *routeTool) Schema() ToolSchema {
	return ToolSchema{
		ArgsSchema: []byte(`{
			"type": "object",
			"required": ["place"],
			"properties": {"place": {"type": "string", "minLength": 1}},
			"additionalProperties": false
		}`),
		Description: "Select the destination place of a multi-target transition.",
	}
}

func (t *routeTool) Execute(_ context.Context, input ToolInput) (*ToolResult, error) {
	place, err := argString(input.Args, "place")
	if err != nil {
		return nil, err
	}
	return &ToolResult{NextPlace: place}, nil
}

// --- log ---

type logTool struct {
	logger *slog.Logger
}

func (t *logTool) Name() string { return "log" }

func (t *logTool) Schema() ToolSchema {
	return ToolSchema{Description: "Write a message to the engine log."}
}

func (t *logTool) Execute(ctx context.Context, input ToolInput) (*ToolResult, error) {
	msg := argStringOpt(input.Args, "message", "")
	if msg == "" {
		msg = fmt.Sprintf("%v", input.Args)
	}
	switch argStringOpt(input.Args, "level", "info") {
	case "debug":
		t.logger.DebugContext(ctx, msg)
	case "warn":
		t.logger.WarnContext(ctx, msg)
	case "error":
		t.logger.ErrorContext(ctx, msg)
	default:
		t.logger.InfoContext(ctx, msg)
	}
	return &ToolResult{}, nil
}
