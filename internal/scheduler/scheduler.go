package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/conveyor/internal/store"
	"github.com/rendis/conveyor/pkg/schema"
)

const (
	// pollInterval is how often the scheduler checks for due tasks.
	pollInterval = 30 * time.Second

	// batchLimit caps the number of due tasks dispatched per tick.
	batchLimit = 100

	// retryBackoff delays the next attempt of a failed recurring task.
	retryBackoff = 5 * time.Minute

	// maxFailures pauses a recurring task after this many consecutive failures.
	maxFailures = 3
)

// Scheduler persists scheduled tasks and periodically enqueues the due ones
// onto the durable job queue. Execution results are reported back via
// OnJobResult by the task worker.
type Scheduler struct {
	store  store.Store
	parser cron.Parser
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	// inflight dedups task dispatch within this process. It starts empty on
	// every boot, which doubles as the post-crash reset; durability across
	// crashes comes from the queue, not this set.
	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s store.Store, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    s,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// CreateTask validates the task spec, computes the first execution time, persists
// the task, and returns it. Exactly one timing field must be set, matching
// the declared type.
func (s *Scheduler) CreateTask(ctx context.Context, spec schema.TaskSpec) (*store.ScheduledTask, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	next, err := s.firstExecution(spec, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(spec.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal task payload: %w", err)
	}

	task := &store.ScheduledTask{
		ID:              uuid.New().String(),
		WorkspaceID:     spec.WorkspaceID,
		RootPipelineID:  spec.RootPipelineID,
		Name:            spec.Name,
		Type:            spec.Type,
		Status:          schema.TaskStatusActive,
		CronExpression:  spec.CronExpression,
		ExecuteAt:       spec.ExecuteAt,
		DurationSeconds: spec.DurationSeconds,
		Payload:         payload,
		UserID:          spec.UserID,
		NextExecutionAt: &next,
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "task created",
		slog.String("task", task.Name),
		slog.String("type", string(task.Type)),
		slog.Time("next_execution_at", next),
	)
	return task, nil
}

// RemoveTask deletes a task by its unique key. Missing tasks are an error.
func (s *Scheduler) RemoveTask(ctx context.Context, workspaceID, rootPipelineID, name string) error {
	return s.store.DeleteTask(ctx, workspaceID, rootPipelineID, name)
}

// InitializeTasks clears all tasks for the pipeline and reinstalls the given
// specs. Consumed once at startup from the tasks.initialize surface.
func (s *Scheduler) InitializeTasks(ctx context.Context, workspaceID, rootPipelineID string, specs []schema.TaskSpec) error {
	if err := s.store.DeleteTasksForPipeline(ctx, workspaceID, rootPipelineID); err != nil {
		return fmt.Errorf("clear tasks: %w", err)
	}
	for _, spec := range specs {
		if _, err := s.CreateTask(ctx, spec); err != nil {
			return err
		}
	}
	s.logger.InfoContext(ctx, "tasks initialized", slog.Int("count", len(specs)))
	return nil
}

// ScheduleRun enqueues an immediate pipeline run onto the durable queue,
// bypassing the scheduled-task table. Used by the event dispatcher and by
// external triggers.
func (s *Scheduler) ScheduleRun(ctx context.Context, workspaceID, rootPipelineID, name string, payload schema.RunPipelineRequest, user string) error {
	msg := schema.QueueMessage{
		ID:             uuid.New().String(),
		WorkspaceID:    workspaceID,
		RootPipelineID: rootPipelineID,
		Name:           name,
		Task: schema.TaskBody{
			Name:    name,
			Type:    schema.TaskTypeRunPipeline,
			Payload: payload,
			User:    user,
		},
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal queue message: %w", err)
	}
	return s.store.EnqueueJob(ctx, &store.QueueJob{
		ID:          msg.ID,
		WorkspaceID: workspaceID,
		Payload:     raw,
	})
}

// Start launches the background polling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick dispatches every due task. Dispatches run concurrently but
// independently: one failure never aborts the rest of the batch.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	tasks, err := s.store.ListDueTasks(ctx, now, batchLimit)
	if err != nil {
		s.logger.Error("failed to list due tasks", slog.String("error", err.Error()))
		return
	}

	var wg sync.WaitGroup
	for _, task := range tasks {
		if !s.tryAcquire(task.ID) {
			continue // already dispatched or executing
		}
		wg.Add(1)
		go func(task *store.ScheduledTask) {
			defer wg.Done()
			if err := s.dispatch(ctx, task); err != nil {
				s.logger.Error("failed to dispatch task",
					slog.String("task", task.Name),
					slog.String("error", err.Error()),
				)
				s.release(task.ID)
			}
		}(task)
	}
	wg.Wait()
}

// dispatch enqueues one due task onto the durable queue. The task stays in
// the inflight set until the worker reports its result.
func (s *Scheduler) dispatch(ctx context.Context, task *store.ScheduledTask) error {
	var payload schema.RunPipelineRequest
	if len(task.Payload) > 0 {
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload of task %q: %w", task.Name, err)
		}
	}

	msg := schema.QueueMessage{
		ID:             uuid.New().String(),
		WorkspaceID:    task.WorkspaceID,
		RootPipelineID: task.RootPipelineID,
		Name:           task.Name,
		Task: schema.TaskBody{
			Name:    task.Name,
			Type:    schema.TaskTypeRunPipeline,
			Payload: payload,
			User:    task.UserID,
		},
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal queue message: %w", err)
	}

	if err := s.store.EnqueueJob(ctx, &store.QueueJob{
		ID:          msg.ID,
		WorkspaceID: task.WorkspaceID,
		TaskID:      task.ID,
		Payload:     raw,
	}); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "task dispatched",
		slog.String("task", task.Name),
		slog.String("job_id", msg.ID),
	)
	return nil
}

// OnJobResult applies the execution outcome to the scheduled task: success
// reschedules recurring tasks and completes one-time tasks; failure retries
// recurring tasks with backoff until the failure threshold pauses them.
func (s *Scheduler) OnJobResult(ctx context.Context, taskID string, execErr error) {
	defer s.release(taskID)

	task, err := s.store.GetTaskByID(ctx, taskID)
	if err != nil {
		s.logger.Error("failed to load task for result handling",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		return
	}

	update, logErr := s.resultUpdate(task, execErr)
	if err := s.store.UpdateTask(ctx, task.ID, update); err != nil {
		s.logger.Error("failed to record task result",
			slog.String("task", task.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	if logErr != "" {
		s.logger.WarnContext(ctx, "task execution failed",
			slog.String("task", task.Name),
			slog.String("error", logErr),
		)
	}
}

func (s *Scheduler) resultUpdate(task *store.ScheduledTask, execErr error) (store.TaskUpdate, string) {
	now := time.Now().UTC()

	if execErr == nil {
		count := task.ExecutionCount + 1
		empty := ""
		zero := 0
		update := store.TaskUpdate{
			ExecutionCount: &count,
			FailureCount:   &zero,
			LastError:      &empty,
		}
		if task.Type.IsRecurring() {
			if next, err := s.CalculateNextRun(task.CronExpression, now); err == nil {
				update.NextExecutionAt = &next
			} else {
				// Unparseable cron on a task that already ran; pause it.
				failed := schema.TaskStatusFailed
				update.Status = &failed
				update.ClearNextExecution = true
			}
		} else {
			completed := schema.TaskStatusCompleted
			update.Status = &completed
			update.ClearNextExecution = true
		}
		return update, ""
	}

	failures := task.FailureCount + 1
	msg := execErr.Error()
	update := store.TaskUpdate{
		FailureCount: &failures,
		LastError:    &msg,
	}
	if !task.Type.IsRecurring() || failures >= maxFailures {
		failed := schema.TaskStatusFailed
		update.Status = &failed
		update.ClearNextExecution = true
	} else {
		retryAt := now.Add(retryBackoff)
		update.NextExecutionAt = &retryAt
	}
	return update, msg
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// CalculateNextRun computes the next run time strictly after from for a cron
// expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	sched, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return sched.Next(from), nil
}

func (s *Scheduler) firstExecution(spec schema.TaskSpec, now time.Time) (time.Time, error) {
	switch spec.Type {
	case schema.TaskTypeOneTimeDate:
		return *spec.ExecuteAt, nil
	case schema.TaskTypeOneTimeDuration:
		return now.Add(time.Duration(spec.DurationSeconds) * time.Second), nil
	case schema.TaskTypeRecurringCron:
		return s.CalculateNextRun(spec.CronExpression, now)
	default:
		return time.Time{}, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown task type %q", spec.Type)
	}
}

// validateSpec enforces that exactly one timing field is present and matches
// the declared type.
func validateSpec(spec schema.TaskSpec) error {
	if spec.WorkspaceID == "" || spec.RootPipelineID == "" || spec.Name == "" {
		return schema.NewError(schema.ErrCodeValidation,
			"task requires workspaceId, rootPipelineId, and name")
	}

	set := 0
	if spec.ExecuteAt != nil {
		set++
	}
	if spec.DurationSeconds > 0 {
		set++
	}
	if spec.CronExpression != "" {
		set++
	}
	if set != 1 {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"task %q must set exactly one of executeAt, durationSeconds, cronExpression (got %d)", spec.Name, set)
	}

	switch spec.Type {
	case schema.TaskTypeOneTimeDate:
		if spec.ExecuteAt == nil {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"task %q of type %s requires executeAt", spec.Name, spec.Type)
		}
	case schema.TaskTypeOneTimeDuration:
		if spec.DurationSeconds <= 0 {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"task %q of type %s requires durationSeconds", spec.Name, spec.Type)
		}
	case schema.TaskTypeRecurringCron:
		if spec.CronExpression == "" {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"task %q of type %s requires cronExpression", spec.Name, spec.Type)
		}
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown task type %q", spec.Type)
	}
	return nil
}

// tryAcquire returns true and marks the task as in-flight if it is not
// already dispatched.
func (s *Scheduler) tryAcquire(taskID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[taskID]; ok {
		return false
	}
	s.inflight[taskID] = struct{}{}
	return true
}

// release removes the task from the in-flight set.
func (s *Scheduler) release(taskID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, taskID)
}
