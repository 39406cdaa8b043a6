// Package events implements the wait-for-event continuation mechanism:
// workflows register subscribers against named, correlated events, and
// dispatching an event schedules the continuation transitions of every
// matching subscriber.
package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rendis/conveyor/internal/store"
	"github.com/rendis/conveyor/pkg/schema"
)

// TaskCreator enqueues an immediate pipeline run. Implemented by the
// scheduler.
type TaskCreator interface {
	ScheduleRun(ctx context.Context, workspaceID, rootPipelineID, name string, payload schema.RunPipelineRequest, user string) error
}

// Dispatcher registers event subscribers and fans dispatched events out to
// their continuation transitions.
type Dispatcher struct {
	store  store.Store
	tasks  TaskCreator
	logger *slog.Logger
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(s store.Store, tasks TaskCreator, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{store: s, tasks: tasks, logger: logger}
}

// RegisterSubscriber persists a subscriber. Registration is idempotent: an
// identical registration returns the existing subscriber instead of creating
// a duplicate.
func (d *Dispatcher) RegisterSubscriber(ctx context.Context, spec schema.SubscriberSpec) (*store.EventSubscriber, error) {
	if spec.EventName == "" || spec.EventCorrelationID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"subscriber requires eventName and eventCorrelationId")
	}
	if spec.SubscriberPipelineID == "" || spec.SubscriberTransition == "" {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"subscriber requires subscriberPipelineId and subscriberTransition")
	}

	sub := &store.EventSubscriber{
		WorkspaceID:          spec.WorkspaceID,
		SubscriberPipelineID: spec.SubscriberPipelineID,
		SubscriberWorkflowID: spec.SubscriberWorkflowID,
		SubscriberTransition: spec.SubscriberTransition,
		EventCorrelationID:   spec.EventCorrelationID,
		EventName:            spec.EventName,
		UserID:               spec.UserID,
		Once:                 spec.Once,
	}

	existing, err := d.store.FindSubscriber(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("find subscriber: %w", err)
	}
	if existing != nil {
		d.logger.DebugContext(ctx, "subscriber already registered",
			slog.String("event", spec.EventName),
			slog.String("subscriber_id", existing.ID),
		)
		return existing, nil
	}

	sub.ID = uuid.New().String()
	if err := d.store.CreateSubscriber(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscriber: %w", err)
	}

	d.logger.InfoContext(ctx, "subscriber registered",
		slog.String("event", spec.EventName),
		slog.String("correlation_id", spec.EventCorrelationID),
		slog.String("subscriber_id", sub.ID),
	)
	return sub, nil
}

// Dispatch schedules the continuation of every subscriber matching the
// correlated event. Zero matches is a no-op. Subscribers registered with
// once are removed after their continuation is scheduled.
func (d *Dispatcher) Dispatch(ctx context.Context, event schema.PipelineEvent) error {
	subs, err := d.store.ListSubscribers(ctx, event.EventCorrelationID, event.EventName, event.WorkspaceID)
	if err != nil {
		return fmt.Errorf("list subscribers: %w", err)
	}
	if len(subs) == 0 {
		d.logger.DebugContext(ctx, "no subscribers for event",
			slog.String("event", event.EventName),
			slog.String("correlation_id", event.EventCorrelationID),
		)
		return nil
	}

	for _, sub := range subs {
		payload := schema.RunPipelineRequest{
			PipelineID: sub.SubscriberPipelineID,
			Transition: &schema.TransitionRequest{
				ID:         sub.SubscriberTransition,
				WorkflowID: sub.SubscriberWorkflowID,
				Payload:    event.Data,
			},
		}
		name := fmt.Sprintf("event:%s:%s", event.EventName, sub.ID)
		if err := d.tasks.ScheduleRun(ctx, sub.WorkspaceID, sub.SubscriberPipelineID, name, payload, sub.UserID); err != nil {
			return fmt.Errorf("schedule continuation for subscriber %s: %w", sub.ID, err)
		}

		d.logger.InfoContext(ctx, "event continuation scheduled",
			slog.String("event", event.EventName),
			slog.String("pipeline_id", sub.SubscriberPipelineID),
			slog.String("transition", sub.SubscriberTransition),
		)

		if sub.Once {
			if err := d.store.DeleteSubscriber(ctx, sub.ID); err != nil {
				d.logger.Error("failed to remove one-shot subscriber",
					slog.String("subscriber_id", sub.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return nil
}
