package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/conveyor/internal/engine"
	"github.com/rendis/conveyor/internal/logging"
	"github.com/rendis/conveyor/internal/store"
	"github.com/rendis/conveyor/pkg/schema"
)

const (
	// queuePollInterval is how often the worker leases pending jobs.
	queuePollInterval = 5 * time.Second

	// leaseBatch caps the number of jobs leased per poll.
	leaseBatch = 25
)

// PipelineRunner executes a full pipeline run. Implemented by the engine
// runner.
type PipelineRunner interface {
	RunPipeline(ctx context.Context, req schema.RunPipelineRequest) error
}

// ResultHandler receives the outcome of a scheduled-task job so the
// scheduler can reschedule or retire the task.
type ResultHandler interface {
	OnJobResult(ctx context.Context, taskID string, execErr error)
}

// TaskProcessor drains the durable job queue: it leases pending jobs, runs
// each pipeline on the worker pool under the workspace lock, and settles the
// job as done or failed.
type TaskProcessor struct {
	store   store.Store
	pool    *engine.WorkerPool
	locks   *engine.WorkspaceLock
	runner  PipelineRunner
	results ResultHandler
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTaskProcessor creates a new TaskProcessor.
func NewTaskProcessor(s store.Store, pool *engine.WorkerPool, locks *engine.WorkspaceLock, runner PipelineRunner, results ResultHandler, logger *slog.Logger) *TaskProcessor {
	return &TaskProcessor{
		store:   s,
		pool:    pool,
		locks:   locks,
		runner:  runner,
		results: results,
		logger:  logger,
	}
}

// Start reclaims abandoned leases and launches the polling loop.
func (p *TaskProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.done != nil {
		p.mu.Unlock()
		return fmt.Errorf("task processor already started")
	}

	procCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.mu.Unlock()

	requeued, err := p.store.RequeueStaleLeases(procCtx)
	if err != nil {
		p.logger.Error("failed to requeue stale leases", slog.String("error", err.Error()))
	} else if requeued > 0 {
		p.logger.Info("requeued stale leases", slog.Int("count", requeued))
	}

	go p.loop(procCtx)
	p.logger.Info("task processor started")
	return nil
}

func (p *TaskProcessor) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(queuePollInterval)
	defer ticker.Stop()

	p.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *TaskProcessor) poll(ctx context.Context) {
	jobs, err := p.store.LeaseJobs(ctx, leaseBatch)
	if err != nil {
		p.logger.Error("failed to lease jobs", slog.String("error", err.Error()))
		return
	}

	for _, job := range jobs {
		if err := p.pool.Submit(ctx, &queuedJob{proc: p, job: job}); err != nil {
			// Pool refused the job; the lease expires and a later poll
			// picks it up again.
			p.logger.Warn("failed to submit job to pool",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

// queuedJob adapts a leased queue row to the pool's job contract. The
// execution error flows back to the pool so its metrics count failed runs.
type queuedJob struct {
	proc *TaskProcessor
	job  *store.QueueJob
}

func (j *queuedJob) ID() string { return j.job.ID }

func (j *queuedJob) Execute(ctx context.Context) error {
	return j.proc.handle(ctx, j.job)
}

// handle runs one queued job to completion and settles its state.
func (p *TaskProcessor) handle(ctx context.Context, job *store.QueueJob) error {
	execErr := p.run(ctx, job)

	if execErr != nil {
		if err := p.store.FailJob(ctx, job.ID, execErr.Error()); err != nil {
			p.logger.Error("failed to mark job failed",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
	} else if err := p.store.CompleteJob(ctx, job.ID); err != nil {
		p.logger.Error("failed to mark job done",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	if job.TaskID != "" {
		p.results.OnJobResult(ctx, job.TaskID, execErr)
	}
	return execErr
}

func (p *TaskProcessor) run(ctx context.Context, job *store.QueueJob) error {
	var msg schema.QueueMessage
	if err := json.Unmarshal(job.Payload, &msg); err != nil {
		return fmt.Errorf("unmarshal queue message: %w", err)
	}
	if msg.Task.Type != schema.TaskTypeRunPipeline {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"unsupported task type %q", msg.Task.Type)
	}

	ctx = logging.WithWorkspaceID(ctx, msg.WorkspaceID)
	ctx = logging.WithTaskName(ctx, msg.Name)

	release, err := p.locks.Acquire(ctx, msg.WorkspaceID)
	if err != nil {
		return fmt.Errorf("acquire workspace lock: %w", err)
	}
	defer release()

	p.logger.InfoContext(ctx, "executing queued task", slog.String("job_id", job.ID))

	if err := p.runner.RunPipeline(ctx, msg.Task.Payload); err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "queued task completed", slog.String("job_id", job.ID))
	return nil
}

// Stop gracefully shuts down the processor. In-flight jobs drain through the
// worker pool's own shutdown.
func (p *TaskProcessor) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel == nil {
		return nil
	}

	p.cancel()
	<-p.done
	p.cancel = nil
	p.done = nil

	p.logger.Info("task processor stopped")
	return nil
}
