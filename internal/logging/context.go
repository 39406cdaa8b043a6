package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	workspaceIDKey ctxKey = iota
	pipelineIDKey
	workflowIDKey
	taskNameKey
)

// WithWorkspaceID returns a context with the workspace ID set.
func WithWorkspaceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workspaceIDKey, id)
}

// WithPipelineID returns a context with the pipeline ID set.
func WithPipelineID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, pipelineIDKey, id)
}

// WithWorkflowID returns a context with the workflow ID set.
func WithWorkflowID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workflowIDKey, id)
}

// WithTaskName returns a context with the scheduled task name set.
func WithTaskName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, taskNameKey, name)
}

// WorkspaceID extracts the workspace ID from the context, or "" if absent.
func WorkspaceID(ctx context.Context) string {
	v, _ := ctx.Value(workspaceIDKey).(string)
	return v
}

// PipelineID extracts the pipeline ID from the context, or "" if absent.
func PipelineID(ctx context.Context) string {
	v, _ := ctx.Value(pipelineIDKey).(string)
	return v
}

// WorkflowID extracts the workflow ID from the context, or "" if absent.
func WorkflowID(ctx context.Context) string {
	v, _ := ctx.Value(workflowIDKey).(string)
	return v
}

// TaskName extracts the task name from the context, or "" if absent.
func TaskName(ctx context.Context) string {
	v, _ := ctx.Value(taskNameKey).(string)
	return v
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := WorkspaceID(ctx); v != "" {
		r.AddAttrs(slog.String("workspace_id", v))
	}
	if v := PipelineID(ctx); v != "" {
		r.AddAttrs(slog.String("pipeline_id", v))
	}
	if v := WorkflowID(ctx); v != "" {
		r.AddAttrs(slog.String("workflow_id", v))
	}
	if v := TaskName(ctx); v != "" {
		r.AddAttrs(slog.String("task", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
