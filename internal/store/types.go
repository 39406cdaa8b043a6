package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/conveyor/pkg/schema"
)

// Pipeline is the root execution container owning one or more workflows.
// Its status is derived from the statuses of its child workflows.
type Pipeline struct {
	ID          string                `json:"id"`
	WorkspaceID string                `json:"workspace_id"`
	Name        string                `json:"name"`
	ParentID    string                `json:"parent_pipeline_id,omitempty"`
	Status      schema.PipelineStatus `json:"status"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// HistoryEntry is one executed transition in a workflow's append-only history.
type HistoryEntry struct {
	TransitionID string `json:"transitionId"`
	From         string `json:"from"`
	To           string `json:"to"`
}

// Workflow is the persisted representation of a running state machine.
// Place always equals the To of the last history entry; history is never
// rewritten, only appended to.
type Workflow struct {
	ID                   string         `json:"id"`
	PipelineID           string         `json:"pipeline_id"`
	WorkspaceID          string         `json:"workspace_id"`
	Namespace            string         `json:"namespace,omitempty"`
	Name                 string         `json:"name"`
	Machine              string         `json:"machine"`
	Place                string         `json:"place"`
	History              []HistoryEntry `json:"history"`
	AvailableTransitions []string       `json:"available_transitions"`
	Context              map[string]any `json:"context,omitempty"`
	OptionsHash          string         `json:"options_hash,omitempty"`
	IsWorking            bool           `json:"is_working"`
	Error                string         `json:"error,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// Status derives the workflow's lifecycle status from its persisted fields.
func (w *Workflow) Status() schema.PipelineStatus {
	switch {
	case w.Error != "":
		return schema.PipelineStatusFailed
	case w.IsWorking:
		return schema.PipelineStatusRunning
	case w.Place == schema.PlaceInitial:
		return schema.PipelineStatusPending
	default:
		return schema.PipelineStatusCompleted
	}
}

// Document is an immutable artifact produced by a transition's tool call.
// Documents are never mutated, only soft-invalidated when their workflow is
// re-initialized.
type Document struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflow_id"`
	Name            string          `json:"name"`
	Transition      string          `json:"transition,omitempty"`
	Place           string          `json:"place,omitempty"`
	Index           int             `json:"index"`
	Version         int             `json:"version"`
	Content         json.RawMessage `json:"content,omitempty"`
	ValidationError string          `json:"validation_error,omitempty"`
	Invalidated     bool            `json:"invalidated"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ScheduledTask is a persisted unit of deferred or recurring work, uniquely
// keyed by (workspace_id, root_pipeline_id, name).
type ScheduledTask struct {
	ID              string            `json:"id"`
	WorkspaceID     string            `json:"workspace_id"`
	RootPipelineID  string            `json:"root_pipeline_id"`
	Name            string            `json:"name"`
	Type            schema.TaskType   `json:"type"`
	Status          schema.TaskStatus `json:"status"`
	CronExpression  string            `json:"cron_expression,omitempty"`
	ExecuteAt       *time.Time        `json:"execute_at,omitempty"`
	DurationSeconds int64             `json:"duration_seconds,omitempty"`
	Payload         json.RawMessage   `json:"payload,omitempty"`
	UserID          string            `json:"user_id,omitempty"`
	NextExecutionAt *time.Time        `json:"next_execution_at,omitempty"`
	ExecutionCount  int               `json:"execution_count"`
	FailureCount    int               `json:"failure_count"`
	LastError       string            `json:"last_error,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// EventSubscriber is a registered continuation waiting on a named, correlated
// event.
type EventSubscriber struct {
	ID                   string    `json:"id"`
	WorkspaceID          string    `json:"workspace_id"`
	SubscriberPipelineID string    `json:"subscriber_pipeline_id"`
	SubscriberWorkflowID string    `json:"subscriber_workflow_id"`
	SubscriberTransition string    `json:"subscriber_transition"`
	EventCorrelationID   string    `json:"event_correlation_id"`
	EventName            string    `json:"event_name"`
	UserID               string    `json:"user_id,omitempty"`
	Once                 bool      `json:"once"`
	CreatedAt            time.Time `json:"created_at"`
}

// Queue job statuses.
const (
	JobStatusPending = "pending"
	JobStatusLeased  = "leased"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

// QueueJob is one durable queue entry consumed by the task worker.
type QueueJob struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspace_id"`
	TaskID      string          `json:"task_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	Error       string          `json:"error,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	LeasedAt    *time.Time      `json:"leased_at,omitempty"`
}

// --- Update types ---

// WorkflowUpdate specifies mutable fields of a workflow. Nil fields are
// left unchanged.
type WorkflowUpdate struct {
	Place                *string        `json:"place,omitempty"`
	History              []HistoryEntry `json:"history,omitempty"`
	AvailableTransitions []string       `json:"available_transitions,omitempty"`
	Context              map[string]any `json:"context,omitempty"`
	OptionsHash          *string        `json:"options_hash,omitempty"`
	IsWorking            *bool          `json:"is_working,omitempty"`
	Error                *string        `json:"error,omitempty"`
}

// TaskUpdate specifies mutable fields of a scheduled task. ClearNextExecution
// nulls next_execution_at regardless of NextExecutionAt.
type TaskUpdate struct {
	Status             *schema.TaskStatus `json:"status,omitempty"`
	NextExecutionAt    *time.Time         `json:"next_execution_at,omitempty"`
	ClearNextExecution bool               `json:"-"`
	ExecutionCount     *int               `json:"execution_count,omitempty"`
	FailureCount       *int               `json:"failure_count,omitempty"`
	LastError          *string            `json:"last_error,omitempty"`
}
