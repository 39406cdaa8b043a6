package tools

import (
	"context"

	"github.com/rendis/conveyor/pkg/schema"
)

// eventWaitTool registers the current workflow as a subscriber of a named,
// correlated event. The workflow then rests in its current place until the
// event is published and the dispatcher schedules the continuation
// transition.
type eventWaitTool struct {
	events EventService
}

func (t *eventWaitTool) Name() string { return "event.wait" }

func (t *eventWaitTool) Schema() ToolSchema {
	return ToolSchema{
		ArgsSchema: []byte(`{
			"type": "object",
			"required": ["event", "correlationId", "transition"],
			"properties": {
				"event": {"type": "string", "minLength": 1},
				"correlationId": {"type": "string", "minLength": 1},
				"transition": {"type": "string", "minLength": 1},
				"once": {"type": "boolean"}
			},
			"additionalProperties": false
		}`),
		Description: "Suspend progress until a correlated event fires the given transition.",
	}
}

func (t *eventWaitTool) Execute(ctx context.Context, input ToolInput) (*ToolResult, error) {
	if input.Workflow == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "event.wait requires a workflow")
	}
	event, err := argString(input.Args, "event")
	if err != nil {
		return nil, err
	}
	correlationID, err := argString(input.Args, "correlationId")
	if err != nil {
		return nil, err
	}
	transition, err := argString(input.Args, "transition")
	if err != nil {
		return nil, err
	}

	sub, err := t.events.RegisterSubscriber(ctx, schema.SubscriberSpec{
		WorkspaceID:          input.Workflow.WorkspaceID,
		SubscriberPipelineID: input.Workflow.PipelineID,
		SubscriberWorkflowID: input.Workflow.ID,
		SubscriberTransition: transition,
		EventCorrelationID:   correlationID,
		EventName:            event,
		Once:                 argBoolOpt(input.Args, "once"),
	})
	if err != nil {
		return nil, err
	}
	return &ToolResult{Output: map[string]any{"subscriberId": sub.ID}}, nil
}

// eventPublishTool publishes a correlated event, scheduling continuation
// tasks for every matching subscriber.
type eventPublishTool struct {
	events EventService
}

func (t *eventPublishTool) Name() string { return "event.publish" }

func (t *eventPublishTool) Schema() ToolSchema {
	return ToolSchema{
		ArgsSchema: []byte(`{
			"type": "object",
			"required": ["event", "correlationId"],
			"properties": {
				"event": {"type": "string", "minLength": 1},
				"correlationId": {"type": "string", "minLength": 1},
				"data": {"type": "object"}
			},
			"additionalProperties": false
		}`),
		Description: "Publish a correlated event to all matching subscribers.",
	}
}

func (t *eventPublishTool) Execute(ctx context.Context, input ToolInput) (*ToolResult, error) {
	if input.Workflow == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "event.publish requires a workflow")
	}
	event, err := argString(input.Args, "event")
	if err != nil {
		return nil, err
	}
	correlationID, err := argString(input.Args, "correlationId")
	if err != nil {
		return nil, err
	}
	if err := t.events.Dispatch(ctx, schema.PipelineEvent{
		EventPipelineID:    input.Workflow.PipelineID,
		EventCorrelationID: correlationID,
		EventName:          event,
		WorkspaceID:        input.Workflow.WorkspaceID,
		Data:               argMapOpt(input.Args, "data"),
	}); err != nil {
		return nil, err
	}
	return &ToolResult{}, nil
}
