package schema

// Event names published by the engine.
const (
	EventPipelineCompleted = "pipeline.completed"
	EventPipelineFailed    = "pipeline.failed"
)

// PipelineEvent is the payload published when a pipeline reaches a terminal
// state. EventCorrelationID is the value subscribers registered against,
// conventionally the root pipeline ID.
type PipelineEvent struct {
	EventPipelineID    string         `json:"eventPipelineId"`
	EventCorrelationID string         `json:"eventCorrelationId"`
	EventName          string         `json:"eventName"`
	WorkspaceID        string         `json:"workspaceId"`
	Data               map[string]any `json:"data,omitempty"`
}

// SubscriberSpec registers a continuation transition against a named,
// correlated event.
type SubscriberSpec struct {
	WorkspaceID          string `json:"workspaceId"`
	SubscriberPipelineID string `json:"subscriberPipelineId"`
	SubscriberWorkflowID string `json:"subscriberWorkflowId"`
	SubscriberTransition string `json:"subscriberTransition"`
	EventCorrelationID   string `json:"eventCorrelationId"`
	EventName            string `json:"eventName"`
	UserID               string `json:"user,omitempty"`
	Once                 bool   `json:"once,omitempty"`
}

// PipelineStatus is the aggregate status of a pipeline, derived from the
// statuses of its child workflows.
type PipelineStatus string

const (
	PipelineStatusPending   PipelineStatus = "pending"
	PipelineStatusRunning   PipelineStatus = "running"
	PipelineStatusCompleted PipelineStatus = "completed"
	PipelineStatusFailed    PipelineStatus = "failed"
)
