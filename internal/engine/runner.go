package engine

import (
	"context"
	"log/slog"

	"github.com/rendis/conveyor/internal/logging"
	"github.com/rendis/conveyor/internal/store"
	"github.com/rendis/conveyor/pkg/schema"
)

// ConfigProvider hands the engine already-validated machine configurations.
// Satisfied by the definition loader built at startup.
type ConfigProvider interface {
	MachineConfig(name string) (*schema.MachineConfig, error)
}

// EventPublisher publishes pipeline events to registered subscribers.
// Satisfied by the event dispatcher (avoids import cycle).
type EventPublisher interface {
	Dispatch(ctx context.Context, event schema.PipelineEvent) error
}

// Runner loads a pipeline's workflows and drives each through the processor.
// It is the unit of work executed under the workspace lock.
type Runner struct {
	store     store.Store
	processor *Processor
	configs   ConfigProvider
	events    EventPublisher
	logger    *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(s store.Store, processor *Processor, configs ConfigProvider, events EventPublisher, logger *slog.Logger) *Runner {
	return &Runner{
		store:     s,
		processor: processor,
		configs:   configs,
		events:    events,
		logger:    logger,
	}
}

// RunPipeline executes one pipeline run. Every child workflow passes through
// the processor; the skip validators turn that into a no-op for workflows the
// request does not touch. On entering a terminal status the corresponding
// pipeline event is published.
//
// The caller must hold the workspace lock for the pipeline's workspace.
func (r *Runner) RunPipeline(ctx context.Context, req schema.RunPipelineRequest) error {
	pipeline, err := r.store.GetPipeline(ctx, req.PipelineID)
	if err != nil {
		return err
	}
	ctx = logging.WithWorkspaceID(ctx, pipeline.WorkspaceID)
	ctx = logging.WithPipelineID(ctx, pipeline.ID)

	workflows, err := r.store.ListWorkflows(ctx, pipeline.ID)
	if err != nil {
		return err
	}
	if len(workflows) == 0 {
		r.logger.WarnContext(ctx, "pipeline has no workflows")
		return nil
	}

	for _, wf := range workflows {
		cfg, err := r.configs.MachineConfig(wf.Machine)
		if err != nil {
			return err
		}
		var pending *schema.TransitionRequest
		if req.Transition != nil && req.Transition.WorkflowID == wf.ID {
			pending = req.Transition
		}
		wfCtx := logging.WithWorkflowID(ctx, wf.ID)
		if _, err := r.processor.Run(wfCtx, wf, cfg, pending, req.Options); err != nil {
			return err
		}
	}

	status := aggregateStatus(workflows)
	if status == pipeline.Status {
		return nil
	}
	if err := r.store.UpdatePipelineStatus(ctx, pipeline.ID, string(status)); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "pipeline status changed",
		slog.String("from", string(pipeline.Status)),
		slog.String("to", string(status)),
	)

	eventName := ""
	switch status {
	case schema.PipelineStatusCompleted:
		eventName = schema.EventPipelineCompleted
	case schema.PipelineStatusFailed:
		eventName = schema.EventPipelineFailed
	}
	if eventName == "" {
		return nil
	}

	correlationID := pipeline.ParentID
	if correlationID == "" {
		correlationID = pipeline.ID
	}
	return r.events.Dispatch(ctx, schema.PipelineEvent{
		EventPipelineID:    pipeline.ID,
		EventCorrelationID: correlationID,
		EventName:          eventName,
		WorkspaceID:        pipeline.WorkspaceID,
		Data: map[string]any{
			"pipelineId": pipeline.ID,
			"status":     string(status),
		},
	})
}

// aggregateStatus derives the pipeline status from its child workflows.
func aggregateStatus(workflows []*store.Workflow) schema.PipelineStatus {
	var pending, running, completed int
	for _, wf := range workflows {
		switch wf.Status() {
		case schema.PipelineStatusFailed:
			return schema.PipelineStatusFailed
		case schema.PipelineStatusRunning:
			running++
		case schema.PipelineStatusPending:
			pending++
		case schema.PipelineStatusCompleted:
			completed++
		}
	}
	switch {
	case running > 0:
		return schema.PipelineStatusRunning
	case completed == len(workflows):
		return schema.PipelineStatusCompleted
	case pending == len(workflows):
		return schema.PipelineStatusPending
	default:
		return schema.PipelineStatusRunning
	}
}
