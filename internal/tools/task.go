package tools

import (
	"context"
	"time"

	"github.com/rendis/conveyor/pkg/schema"
)

// taskScheduleTool creates a scheduled task keyed to the current workspace
// and root pipeline. The scheduled payload re-runs the owning pipeline,
// optionally firing a named transition on a workflow.
type taskScheduleTool struct {
	tasks TaskService
}

func (t *taskScheduleTool) Name() string { return "task.schedule" }

func (t *taskScheduleTool) Schema() ToolSchema {
	return ToolSchema{
		ArgsSchema: []byte(`{
			"type": "object",
			"required": ["name", "type"],
			"properties": {
				"name": {"type": "string", "minLength": 1},
				"type": {"type": "string", "enum": ["one_time_date", "one_time_duration", "recurring_cron"]},
				"executeAt": {"type": "string"},
				"durationSeconds": {"type": "number", "minimum": 1},
				"cronExpression": {"type": "string"},
				"transition": {"type": "string"},
				"payload": {"type": "object"}
			},
			"additionalProperties": false
		}`),
		Description: "Schedule a deferred or recurring run of the current pipeline.",
	}
}

func (t *taskScheduleTool) Execute(ctx context.Context, input ToolInput) (*ToolResult, error) {
	if input.Workflow == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "task.schedule requires a workflow")
	}
	name, err := argString(input.Args, "name")
	if err != nil {
		return nil, err
	}
	taskType, err := argString(input.Args, "type")
	if err != nil {
		return nil, err
	}

	spec := schema.TaskSpec{
		WorkspaceID:     input.Workflow.WorkspaceID,
		RootPipelineID:  input.Workflow.PipelineID,
		Name:            name,
		Type:            schema.TaskType(taskType),
		DurationSeconds: argInt64Opt(input.Args, "durationSeconds"),
		CronExpression:  argStringOpt(input.Args, "cronExpression", ""),
		Payload: schema.RunPipelineRequest{
			PipelineID: input.Workflow.PipelineID,
		},
	}
	if at := argStringOpt(input.Args, "executeAt", ""); at != "" {
		parsed, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"invalid executeAt %q: %s", at, err.Error()).WithCause(err)
		}
		spec.ExecuteAt = &parsed
	}
	if transition := argStringOpt(input.Args, "transition", ""); transition != "" {
		spec.Payload.Transition = &schema.TransitionRequest{
			ID:         transition,
			WorkflowID: input.Workflow.ID,
			Payload:    argMapOpt(input.Args, "payload"),
		}
	}

	task, err := t.tasks.CreateTask(ctx, spec)
	if err != nil {
		return nil, err
	}

	out := map[string]any{"id": task.ID, "name": task.Name}
	if task.NextExecutionAt != nil {
		out["nextExecutionAt"] = task.NextExecutionAt.Format(time.RFC3339)
	}
	return &ToolResult{Output: out}, nil
}

// taskRemoveTool deletes a scheduled task by name.
type taskRemoveTool struct {
	tasks TaskService
}

func (t *taskRemoveTool) Name() string { return "task.remove" }

func (t *taskRemoveTool) Schema() ToolSchema {
	return ToolSchema{
		ArgsSchema: []byte(`{
			"type": "object",
			"required": ["name"],
			"properties": {"name": {"type": "string", "minLength": 1}},
			"additionalProperties": false
		}`),
		Description: "Remove a scheduled task owned by the current pipeline.",
	}
}

func (t *taskRemoveTool) Execute(ctx context.Context, input ToolInput) (*ToolResult, error) {
	if input.Workflow == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "task.remove requires a workflow")
	}
	name, err := argString(input.Args, "name")
	if err != nil {
		return nil, err
	}
	if err := t.tasks.RemoveTask(ctx, input.Workflow.WorkspaceID, input.Workflow.PipelineID, name); err != nil {
		return nil, err
	}
	return &ToolResult{}, nil
}
