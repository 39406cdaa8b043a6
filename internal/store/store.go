package store

import (
	"context"
	"time"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Pipelines
	CreatePipeline(ctx context.Context, p *Pipeline) error
	GetPipeline(ctx context.Context, id string) (*Pipeline, error)
	UpdatePipelineStatus(ctx context.Context, id string, status string) error
	DeletePipeline(ctx context.Context, id string) error

	// Workflows
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	ListWorkflows(ctx context.Context, pipelineID string) ([]*Workflow, error)
	UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error
	DeleteWorkflow(ctx context.Context, id string) error

	// Documents (immutable, soft-invalidated)
	CreateDocument(ctx context.Context, doc *Document) error
	ListDocuments(ctx context.Context, workflowID string) ([]*Document, error)
	InvalidateDocuments(ctx context.Context, workflowID string) error

	// Scheduled tasks
	CreateTask(ctx context.Context, task *ScheduledTask) error
	GetTask(ctx context.Context, workspaceID, rootPipelineID, name string) (*ScheduledTask, error)
	GetTaskByID(ctx context.Context, id string) (*ScheduledTask, error)
	UpdateTask(ctx context.Context, id string, update TaskUpdate) error
	ListDueTasks(ctx context.Context, now time.Time, limit int) ([]*ScheduledTask, error)
	DeleteTask(ctx context.Context, workspaceID, rootPipelineID, name string) error
	DeleteTasksForPipeline(ctx context.Context, workspaceID, rootPipelineID string) error

	// Event subscribers
	CreateSubscriber(ctx context.Context, sub *EventSubscriber) error
	FindSubscriber(ctx context.Context, sub *EventSubscriber) (*EventSubscriber, error)
	ListSubscribers(ctx context.Context, eventCorrelationID, eventName, workspaceID string) ([]*EventSubscriber, error)
	DeleteSubscriber(ctx context.Context, id string) error

	// Durable job queue
	EnqueueJob(ctx context.Context, job *QueueJob) error
	LeaseJobs(ctx context.Context, limit int) ([]*QueueJob, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	RequeueStaleLeases(ctx context.Context) (int, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
