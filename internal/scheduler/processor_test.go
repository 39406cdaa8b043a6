package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/conveyor/internal/engine"
	"github.com/rendis/conveyor/internal/store"
	"github.com/rendis/conveyor/pkg/schema"
)

type queueMockStore struct {
	store.Store

	mu        sync.Mutex
	completed []string
	failed    map[string]string
}

func newQueueMockStore() *queueMockStore {
	return &queueMockStore{failed: make(map[string]string)}
}

func (m *queueMockStore) CompleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, id)
	return nil
}

func (m *queueMockStore) FailJob(_ context.Context, id, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[id] = errMsg
	return nil
}

type mockRunner struct {
	mu   sync.Mutex
	runs []schema.RunPipelineRequest
	err  error
}

func (m *mockRunner) RunPipeline(_ context.Context, req schema.RunPipelineRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, req)
	return m.err
}

type mockResults struct {
	mu      sync.Mutex
	results map[string]error
}

func (m *mockResults) OnJobResult(_ context.Context, taskID string, execErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.results == nil {
		m.results = make(map[string]error)
	}
	m.results[taskID] = execErr
}

func newTaskProcessorForTest(st store.Store, runner *mockRunner, results *mockResults) *TaskProcessor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewTaskProcessor(st, engine.NewWorkerPool(2, logger), engine.NewWorkspaceLock(), runner, results, logger)
}

func queueJob(t *testing.T, id, taskID string) *store.QueueJob {
	t.Helper()
	msg := schema.QueueMessage{
		ID:             id,
		WorkspaceID:    "ws-1",
		RootPipelineID: "pipe-1",
		Name:           "nightly-report",
		Task: schema.TaskBody{
			Name:    "nightly-report",
			Type:    schema.TaskTypeRunPipeline,
			Payload: schema.RunPipelineRequest{PipelineID: "pipe-1"},
		},
	}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return &store.QueueJob{ID: id, WorkspaceID: "ws-1", TaskID: taskID, Payload: raw}
}

func TestHandle_CompletesJobAndReportsResult(t *testing.T) {
	st := newQueueMockStore()
	runner := &mockRunner{}
	results := &mockResults{}
	p := newTaskProcessorForTest(st, runner, results)

	p.handle(context.Background(), queueJob(t, "job-1", "task-1"))

	assert.Equal(t, []string{"job-1"}, st.completed)
	require.Len(t, runner.runs, 1)
	assert.Equal(t, "pipe-1", runner.runs[0].PipelineID)

	err, reported := results.results["task-1"]
	require.True(t, reported)
	assert.NoError(t, err)
}

func TestHandle_FailsJobOnRunnerError(t *testing.T) {
	st := newQueueMockStore()
	runner := &mockRunner{err: assert.AnError}
	results := &mockResults{}
	p := newTaskProcessorForTest(st, runner, results)

	p.handle(context.Background(), queueJob(t, "job-1", "task-1"))

	assert.Empty(t, st.completed)
	assert.Contains(t, st.failed["job-1"], assert.AnError.Error())
	assert.Error(t, results.results["task-1"])
}

func TestQueuedJob_SurfacesOutcomeToPool(t *testing.T) {
	st := newQueueMockStore()
	runner := &mockRunner{}
	results := &mockResults{}
	p := newTaskProcessorForTest(st, runner, results)

	j := &queuedJob{proc: p, job: queueJob(t, "job-1", "")}
	assert.Equal(t, "job-1", j.ID())
	require.NoError(t, j.Execute(context.Background()))

	runner.err = assert.AnError
	j = &queuedJob{proc: p, job: queueJob(t, "job-2", "")}
	err := j.Execute(context.Background())
	require.ErrorIs(t, err, assert.AnError, "pipeline failure must reach the pool metrics")
	assert.Contains(t, st.failed["job-2"], assert.AnError.Error())
}

func TestHandle_DirectRunSkipsResultHandler(t *testing.T) {
	st := newQueueMockStore()
	runner := &mockRunner{}
	results := &mockResults{}
	p := newTaskProcessorForTest(st, runner, results)

	p.handle(context.Background(), queueJob(t, "job-1", ""))

	assert.Equal(t, []string{"job-1"}, st.completed)
	assert.Empty(t, results.results)
}

func TestHandle_RejectsUnknownTaskType(t *testing.T) {
	st := newQueueMockStore()
	runner := &mockRunner{}
	results := &mockResults{}
	p := newTaskProcessorForTest(st, runner, results)

	msg := schema.QueueMessage{
		ID: "job-1", WorkspaceID: "ws-1",
		Task: schema.TaskBody{Type: "send_email"},
	}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	p.handle(context.Background(), &store.QueueJob{ID: "job-1", Payload: raw})

	assert.Empty(t, runner.runs)
	assert.Contains(t, st.failed["job-1"], "send_email")
}

func TestHandle_MalformedPayloadFailsJob(t *testing.T) {
	st := newQueueMockStore()
	runner := &mockRunner{}
	p := newTaskProcessorForTest(st, runner, &mockResults{})

	p.handle(context.Background(), &store.QueueJob{ID: "job-1", Payload: []byte("{not json")})

	assert.Empty(t, runner.runs)
	assert.NotEmpty(t, st.failed["job-1"])
}
