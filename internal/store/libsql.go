package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/conveyor/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Pipelines ---

func (s *LibSQLStore) CreatePipeline(ctx context.Context, p *Pipeline) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipelines (id, workspace_id, name, parent_pipeline_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.WorkspaceID, p.Name, nullStr(p.ParentID), string(p.Status),
		timeOrNow(p.CreatedAt), timeOrNow(p.UpdatedAt),
	)
	return wrapStoreErr(err)
}

func (s *LibSQLStore) GetPipeline(ctx context.Context, id string) (*Pipeline, error) {
	p := &Pipeline{}
	var parentID sql.NullString
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, name, parent_pipeline_id, status, created_at, updated_at
		 FROM pipelines WHERE id = ?`, id,
	).Scan(&p.ID, &p.WorkspaceID, &p.Name, &parentID, &status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("pipeline", id)
	}
	if err != nil {
		return nil, err
	}
	p.ParentID = parentID.String
	p.Status = schema.PipelineStatus(status)
	return p, nil
}

func (s *LibSQLStore) UpdatePipelineStatus(ctx context.Context, id string, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipelines SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "pipeline", id)
}

func (s *LibSQLStore) DeletePipeline(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pipelines WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "pipeline", id)
}

// --- Workflows ---

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	history, err := marshalOrDefault(wf.History, "[]")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	available, err := marshalOrDefault(wf.AvailableTransitions, "[]")
	if err != nil {
		return fmt.Errorf("marshal available_transitions: %w", err)
	}
	wfCtx, err := marshalOrDefault(wf.Context, "{}")
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	place := wf.Place
	if place == "" {
		place = schema.PlaceInitial
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, pipeline_id, workspace_id, namespace, name, machine, place, history, available_transitions, context, options_hash, is_working, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.PipelineID, wf.WorkspaceID, nullStr(wf.Namespace), wf.Name, wf.Machine,
		place, history, available, wfCtx, nullStr(wf.OptionsHash), boolToInt(wf.IsWorking),
		nullStr(wf.Error), timeOrNow(wf.CreatedAt), timeOrNow(wf.UpdatedAt),
	)
	return wrapStoreErr(err)
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	wf, err := s.scanWorkflow(s.db.QueryRowContext(ctx,
		workflowColumns+` FROM workflows WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	return wf, err
}

const workflowColumns = `SELECT id, pipeline_id, workspace_id, namespace, name, machine, place, history, available_transitions, context, options_hash, is_working, error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *LibSQLStore) scanWorkflow(row rowScanner) (*Workflow, error) {
	wf := &Workflow{}
	var (
		namespace, optionsHash, errMsg         sql.NullString
		historyJSON, availableJSON, contextJSON string
		isWorking                              int
	)
	err := row.Scan(&wf.ID, &wf.PipelineID, &wf.WorkspaceID, &namespace, &wf.Name, &wf.Machine,
		&wf.Place, &historyJSON, &availableJSON, &contextJSON, &optionsHash, &isWorking,
		&errMsg, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return nil, err
	}
	wf.Namespace = namespace.String
	wf.OptionsHash = optionsHash.String
	wf.Error = errMsg.String
	wf.IsWorking = isWorking != 0
	if err := json.Unmarshal([]byte(historyJSON), &wf.History); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	if err := json.Unmarshal([]byte(availableJSON), &wf.AvailableTransitions); err != nil {
		return nil, fmt.Errorf("unmarshal available_transitions: %w", err)
	}
	if err := json.Unmarshal([]byte(contextJSON), &wf.Context); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	return wf, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, pipelineID string) ([]*Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		workflowColumns+` FROM workflows WHERE pipeline_id = ? ORDER BY created_at, id`, pipelineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wfs []*Workflow
	for rows.Next() {
		wf, err := s.scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		wfs = append(wfs, wf)
	}
	return wfs, rows.Err()
}

func (s *LibSQLStore) UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error {
	var sets []string
	var args []any

	if update.Place != nil {
		sets = append(sets, "place = ?")
		args = append(args, *update.Place)
	}
	if update.History != nil {
		historyJSON, err := json.Marshal(update.History)
		if err != nil {
			return fmt.Errorf("marshal history: %w", err)
		}
		sets = append(sets, "history = ?")
		args = append(args, string(historyJSON))
	}
	if update.AvailableTransitions != nil {
		availableJSON, err := json.Marshal(update.AvailableTransitions)
		if err != nil {
			return fmt.Errorf("marshal available_transitions: %w", err)
		}
		sets = append(sets, "available_transitions = ?")
		args = append(args, string(availableJSON))
	}
	if update.Context != nil {
		contextJSON, err := json.Marshal(update.Context)
		if err != nil {
			return fmt.Errorf("marshal context: %w", err)
		}
		sets = append(sets, "context = ?")
		args = append(args, string(contextJSON))
	}
	if update.OptionsHash != nil {
		sets = append(sets, "options_hash = ?")
		args = append(args, *update.OptionsHash)
	}
	if update.IsWorking != nil {
		sets = append(sets, "is_working = ?")
		args = append(args, boolToInt(*update.IsWorking))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, nullStr(*update.Error))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE workflows SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

// --- Documents ---

func (s *LibSQLStore) CreateDocument(ctx context.Context, doc *Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, workflow_id, name, transition_id, place, doc_index, version, content, validation_error, invalidated, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.WorkflowID, doc.Name, nullStr(doc.Transition), nullStr(doc.Place),
		doc.Index, doc.Version, nullRaw(doc.Content), nullStr(doc.ValidationError),
		boolToInt(doc.Invalidated), timeOrNow(doc.CreatedAt),
	)
	return wrapStoreErr(err)
}

func (s *LibSQLStore) ListDocuments(ctx context.Context, workflowID string) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, name, transition_id, place, doc_index, version, content, validation_error, invalidated, created_at
		 FROM documents WHERE workflow_id = ? ORDER BY doc_index`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc := &Document{}
		var transition, place, content, validationErr sql.NullString
		var invalidated int
		if err := rows.Scan(&doc.ID, &doc.WorkflowID, &doc.Name, &transition, &place,
			&doc.Index, &doc.Version, &content, &validationErr, &invalidated, &doc.CreatedAt); err != nil {
			return nil, err
		}
		doc.Transition = transition.String
		doc.Place = place.String
		doc.ValidationError = validationErr.String
		doc.Invalidated = invalidated != 0
		if content.Valid {
			doc.Content = json.RawMessage(content.String)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *LibSQLStore) InvalidateDocuments(ctx context.Context, workflowID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET invalidated = 1 WHERE workflow_id = ?`, workflowID)
	return err
}

// --- Scheduled tasks ---

func (s *LibSQLStore) CreateTask(ctx context.Context, task *ScheduledTask) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_tasks (id, workspace_id, root_pipeline_id, name, task_type, status, cron_expression, execute_at, duration_seconds, payload, user_id, next_execution_at, execution_count, failure_count, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.WorkspaceID, task.RootPipelineID, task.Name,
		string(task.Type), string(task.Status), nullStr(task.CronExpression),
		nullTime(task.ExecuteAt), task.DurationSeconds, nullRaw(task.Payload),
		nullStr(task.UserID), nullTime(task.NextExecutionAt),
		task.ExecutionCount, task.FailureCount, nullStr(task.LastError),
		timeOrNow(task.CreatedAt), timeOrNow(task.UpdatedAt),
	)
	return wrapStoreErr(err)
}

const taskColumns = `SELECT id, workspace_id, root_pipeline_id, name, task_type, status, cron_expression, execute_at, duration_seconds, payload, user_id, next_execution_at, execution_count, failure_count, last_error, created_at, updated_at`

func (s *LibSQLStore) scanTask(row rowScanner) (*ScheduledTask, error) {
	task := &ScheduledTask{}
	var (
		taskType, status                string
		cronExpr, payload, userID, lastErr sql.NullString
		executeAt, nextExecAt           sql.NullTime
	)
	err := row.Scan(&task.ID, &task.WorkspaceID, &task.RootPipelineID, &task.Name,
		&taskType, &status, &cronExpr, &executeAt, &task.DurationSeconds, &payload,
		&userID, &nextExecAt, &task.ExecutionCount, &task.FailureCount, &lastErr,
		&task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}
	task.Type = schema.TaskType(taskType)
	task.Status = schema.TaskStatus(status)
	task.CronExpression = cronExpr.String
	task.UserID = userID.String
	task.LastError = lastErr.String
	if payload.Valid {
		task.Payload = json.RawMessage(payload.String)
	}
	if executeAt.Valid {
		task.ExecuteAt = &executeAt.Time
	}
	if nextExecAt.Valid {
		task.NextExecutionAt = &nextExecAt.Time
	}
	return task, nil
}

func (s *LibSQLStore) GetTask(ctx context.Context, workspaceID, rootPipelineID, name string) (*ScheduledTask, error) {
	task, err := s.scanTask(s.db.QueryRowContext(ctx,
		taskColumns+` FROM scheduled_tasks WHERE workspace_id = ? AND root_pipeline_id = ? AND name = ?`,
		workspaceID, rootPipelineID, name))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("task", name)
	}
	return task, err
}

func (s *LibSQLStore) GetTaskByID(ctx context.Context, id string) (*ScheduledTask, error) {
	task, err := s.scanTask(s.db.QueryRowContext(ctx,
		taskColumns+` FROM scheduled_tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("task", id)
	}
	return task, err
}

func (s *LibSQLStore) UpdateTask(ctx context.Context, id string, update TaskUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.ClearNextExecution {
		sets = append(sets, "next_execution_at = NULL")
	} else if update.NextExecutionAt != nil {
		sets = append(sets, "next_execution_at = ?")
		args = append(args, *update.NextExecutionAt)
	}
	if update.ExecutionCount != nil {
		sets = append(sets, "execution_count = ?")
		args = append(args, *update.ExecutionCount)
	}
	if update.FailureCount != nil {
		sets = append(sets, "failure_count = ?")
		args = append(args, *update.FailureCount)
	}
	if update.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, nullStr(*update.LastError))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE scheduled_tasks SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "task", id)
}

func (s *LibSQLStore) ListDueTasks(ctx context.Context, now time.Time, limit int) ([]*ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx,
		taskColumns+` FROM scheduled_tasks
		 WHERE status = ? AND next_execution_at IS NOT NULL AND next_execution_at <= ?
		 ORDER BY next_execution_at ASC LIMIT ?`,
		string(schema.TaskStatusActive), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*ScheduledTask
	for rows.Next() {
		task, err := s.scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *LibSQLStore) DeleteTask(ctx context.Context, workspaceID, rootPipelineID, name string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scheduled_tasks WHERE workspace_id = ? AND root_pipeline_id = ? AND name = ?`,
		workspaceID, rootPipelineID, name)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "task", name)
}

func (s *LibSQLStore) DeleteTasksForPipeline(ctx context.Context, workspaceID, rootPipelineID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM scheduled_tasks WHERE workspace_id = ? AND root_pipeline_id = ?`,
		workspaceID, rootPipelineID)
	return err
}

// --- Event subscribers ---

func (s *LibSQLStore) CreateSubscriber(ctx context.Context, sub *EventSubscriber) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_subscribers (id, workspace_id, subscriber_pipeline_id, subscriber_workflow_id, subscriber_transition, event_correlation_id, event_name, user_id, once, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.WorkspaceID, sub.SubscriberPipelineID, sub.SubscriberWorkflowID,
		sub.SubscriberTransition, sub.EventCorrelationID, sub.EventName,
		nullStr(sub.UserID), boolToInt(sub.Once), timeOrNow(sub.CreatedAt),
	)
	return wrapStoreErr(err)
}

const subscriberColumns = `SELECT id, workspace_id, subscriber_pipeline_id, subscriber_workflow_id, subscriber_transition, event_correlation_id, event_name, user_id, once, created_at`

func (s *LibSQLStore) scanSubscriber(row rowScanner) (*EventSubscriber, error) {
	sub := &EventSubscriber{}
	var userID sql.NullString
	var once int
	err := row.Scan(&sub.ID, &sub.WorkspaceID, &sub.SubscriberPipelineID, &sub.SubscriberWorkflowID,
		&sub.SubscriberTransition, &sub.EventCorrelationID, &sub.EventName, &userID, &once, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	sub.UserID = userID.String
	sub.Once = once != 0
	return sub, nil
}

// FindSubscriber returns the subscriber exactly matching sub's identifying
// fields, or nil if none exists.
func (s *LibSQLStore) FindSubscriber(ctx context.Context, sub *EventSubscriber) (*EventSubscriber, error) {
	found, err := s.scanSubscriber(s.db.QueryRowContext(ctx,
		subscriberColumns+` FROM event_subscribers
		 WHERE workspace_id = ? AND subscriber_pipeline_id = ? AND subscriber_workflow_id = ?
		   AND subscriber_transition = ? AND event_correlation_id = ? AND event_name = ?`,
		sub.WorkspaceID, sub.SubscriberPipelineID, sub.SubscriberWorkflowID,
		sub.SubscriberTransition, sub.EventCorrelationID, sub.EventName))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return found, err
}

func (s *LibSQLStore) ListSubscribers(ctx context.Context, eventCorrelationID, eventName, workspaceID string) ([]*EventSubscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		subscriberColumns+` FROM event_subscribers
		 WHERE event_correlation_id = ? AND event_name = ? AND workspace_id = ?
		 ORDER BY created_at, id`,
		eventCorrelationID, eventName, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*EventSubscriber
	for rows.Next() {
		sub, err := s.scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *LibSQLStore) DeleteSubscriber(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM event_subscribers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "subscriber", id)
}

// --- Durable job queue ---

func (s *LibSQLStore) EnqueueJob(ctx context.Context, job *QueueJob) error {
	status := job.Status
	if status == "" {
		status = JobStatusPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO queue_jobs (id, workspace_id, task_id, payload, status, attempts, error, enqueued_at, leased_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.WorkspaceID, nullStr(job.TaskID), string(job.Payload),
		status, job.Attempts, nullStr(job.Error), timeOrNow(job.EnqueuedAt), nullTime(job.LeasedAt),
	)
	return wrapStoreErr(err)
}

// LeaseJobs atomically marks up to limit pending jobs as leased and returns
// them in enqueue order.
func (s *LibSQLStore) LeaseJobs(ctx context.Context, limit int) ([]*QueueJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, workspace_id, task_id, payload, status, attempts, error, enqueued_at, leased_at
		 FROM queue_jobs WHERE status = ? ORDER BY enqueued_at, id LIMIT ?`,
		JobStatusPending, limit)
	if err != nil {
		return nil, err
	}

	var jobs []*QueueJob
	for rows.Next() {
		job := &QueueJob{}
		var taskID, errMsg sql.NullString
		var leasedAt sql.NullTime
		var payload string
		if err := rows.Scan(&job.ID, &job.WorkspaceID, &taskID, &payload, &job.Status,
			&job.Attempts, &errMsg, &job.EnqueuedAt, &leasedAt); err != nil {
			rows.Close()
			return nil, err
		}
		job.TaskID = taskID.String
		job.Error = errMsg.String
		job.Payload = json.RawMessage(payload)
		if leasedAt.Valid {
			job.LeasedAt = &leasedAt.Time
		}
		jobs = append(jobs, job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, job := range jobs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE queue_jobs SET status = ?, leased_at = ?, attempts = attempts + 1 WHERE id = ?`,
			JobStatusLeased, now, job.ID); err != nil {
			return nil, err
		}
		job.Status = JobStatusLeased
		job.LeasedAt = &now
		job.Attempts++
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *LibSQLStore) CompleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_jobs SET status = ? WHERE id = ?`, JobStatusDone, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "job", id)
}

func (s *LibSQLStore) FailJob(ctx context.Context, id string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_jobs SET status = ?, error = ? WHERE id = ?`, JobStatusFailed, errMsg, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "job", id)
}

// RequeueStaleLeases returns leased jobs to pending. Called once at startup to
// recover jobs orphaned by an abnormal shutdown.
func (s *LibSQLStore) RequeueStaleLeases(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_jobs SET status = ?, leased_at = NULL WHERE status = ?`,
		JobStatusPending, JobStatusLeased)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- Helpers ---

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalOrDefault(v any, def string) (string, error) {
	if v == nil {
		return def, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return def, nil
	}
	return string(data), nil
}

func storeNotFound(kind, id string) error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", kind, id)
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(kind, id)
	}
	return nil
}

func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return schema.NewError(schema.ErrCodeConflict, err.Error()).WithCause(err)
	}
	return err
}
