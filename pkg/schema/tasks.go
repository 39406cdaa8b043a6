package schema

import "time"

// TaskType enumerates the scheduling modes of a task.
type TaskType string

const (
	TaskTypeOneTimeDate     TaskType = "one_time_date"
	TaskTypeOneTimeDuration TaskType = "one_time_duration"
	TaskTypeRecurringCron   TaskType = "recurring_cron"
)

// IsRecurring reports whether tasks of this type reschedule after success.
func (t TaskType) IsRecurring() bool {
	return t == TaskTypeRecurringCron
}

// TaskStatus enumerates the lifecycle states of a scheduled task.
type TaskStatus string

const (
	TaskStatusActive    TaskStatus = "active"
	TaskStatusPaused    TaskStatus = "paused"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// TaskSpec is the request to create a scheduled task. Exactly one of
// ExecuteAt, DurationSeconds, or CronExpression must be set, matching Type.
type TaskSpec struct {
	WorkspaceID     string             `json:"workspaceId" yaml:"workspaceId"`
	RootPipelineID  string             `json:"rootPipelineId" yaml:"rootPipelineId"`
	Name            string             `json:"name" yaml:"name"`
	Type            TaskType           `json:"type" yaml:"type"`
	ExecuteAt       *time.Time         `json:"executeAt,omitempty" yaml:"executeAt,omitempty"`
	DurationSeconds int64              `json:"durationSeconds,omitempty" yaml:"durationSeconds,omitempty"`
	CronExpression  string             `json:"cronExpression,omitempty" yaml:"cronExpression,omitempty"`
	Payload         RunPipelineRequest `json:"payload" yaml:"payload"`
	UserID          string             `json:"user,omitempty" yaml:"user,omitempty"`
}

// RunPipelineRequest asks the engine to drive one pipeline run. When
// Transition is nil only auto-fired (onEntry) transitions are attempted.
type RunPipelineRequest struct {
	PipelineID string             `json:"pipelineId" yaml:"pipelineId"`
	Transition *TransitionRequest `json:"transition,omitempty" yaml:"transition,omitempty"`
	Options    map[string]any     `json:"options,omitempty" yaml:"options,omitempty"`
}

// TaskBody is the task portion of a queue message.
type TaskBody struct {
	Name    string             `json:"name"`
	Type    string             `json:"type"`
	Payload RunPipelineRequest `json:"payload"`
	User    string             `json:"user,omitempty"`
}

// TaskTypeRunPipeline is the only task body type the worker understands.
const TaskTypeRunPipeline = "run_pipeline"

// QueueMessage is the durable queue job payload consumed by the task worker.
type QueueMessage struct {
	ID             string   `json:"id"`
	WorkspaceID    string   `json:"workspaceId"`
	RootPipelineID string   `json:"rootPipelineId"`
	Name           string   `json:"name"`
	Task           TaskBody `json:"task"`
}
