package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/conveyor/internal/expressions"
	"github.com/rendis/conveyor/internal/store"
	"github.com/rendis/conveyor/internal/tools"
	"github.com/rendis/conveyor/pkg/schema"
)

// --- mock store for processor tests ---

type procMockStore struct {
	store.Store // embed to satisfy interface; only override what we need
	updates     int
	invalidated []string
	updateErr   error
}

func (m *procMockStore) UpdateWorkflow(_ context.Context, _ string, _ store.WorkflowUpdate) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updates++
	return nil
}

func (m *procMockStore) InvalidateDocuments(_ context.Context, workflowID string) error {
	m.invalidated = append(m.invalidated, workflowID)
	return nil
}

// --- mock tool invoker ---

type mockInvoker struct {
	results map[string]*tools.ToolResult
	errs    map[string]error
	calls   []string
}

func (m *mockInvoker) Invoke(_ context.Context, call schema.ToolCall, _ tools.ToolInput) (*tools.ToolResult, error) {
	m.calls = append(m.calls, call.Tool)
	if err, ok := m.errs[call.Tool]; ok {
		return nil, err
	}
	if res, ok := m.results[call.Tool]; ok {
		return res, nil
	}
	return &tools.ToolResult{}, nil
}

// --- helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newProcessorForTest(t *testing.T, st store.Store, inv ToolInvoker) *Processor {
	t.Helper()
	guards, err := expressions.NewCELEngine()
	require.NoError(t, err)
	validators := newValidatorsForTest(t)
	return NewProcessor(st, validators, inv, guards, testLogger())
}

func approvalMachine() *schema.MachineConfig {
	return &schema.MachineConfig{
		Name: "approval",
		Transitions: []schema.TransitionDefinition{
			{ID: "draft", From: schema.StringList{schema.PlaceInitial}, To: schema.StringList{"draft"}, Trigger: schema.TriggerOnEntry},
			{ID: "submit", From: schema.StringList{"draft"}, To: schema.StringList{"review"}, Trigger: schema.TriggerOnEntry},
			{ID: "approve", From: schema.StringList{"review"}, To: schema.StringList{"done"}},
			{ID: "reject", From: schema.StringList{"review"}, To: schema.StringList{"draft"}},
		},
	}
}

// --- Tests ---

func TestProcessorRun_SkipsUpToDateWorkflow(t *testing.T) {
	st := &procMockStore{}
	p := newProcessorForTest(t, st, &mockInvoker{})

	wf := &store.Workflow{ID: "wf-1", Place: "done"}
	out, err := p.Run(context.Background(), wf, approvalMachine(), nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "done", out.Place)
	assert.Zero(t, st.updates, "skipped run must not touch the store")
	assert.Empty(t, st.invalidated)
}

func TestProcessorRun_InitializationResetsToInitial(t *testing.T) {
	st := &procMockStore{}
	p := newProcessorForTest(t, st, &mockInvoker{})

	wf := &store.Workflow{ID: "wf-1", Place: schema.PlaceInitial}
	out, err := p.Run(context.Background(), wf, approvalMachine(), nil, nil)

	require.NoError(t, err)
	require.NotEmpty(t, out.History)

	first := out.History[0]
	assert.Equal(t, schema.TransitionInvalidation, first.TransitionID)
	assert.Equal(t, schema.PlaceInitial, first.To)
	assert.Equal(t, []string{"wf-1"}, st.invalidated)
}

func TestProcessorRun_OnEntryChainAutoFires(t *testing.T) {
	st := &procMockStore{}
	p := newProcessorForTest(t, st, &mockInvoker{})

	wf := &store.Workflow{ID: "wf-1", Place: schema.PlaceInitial}
	out, err := p.Run(context.Background(), wf, approvalMachine(), nil, nil)

	require.NoError(t, err)
	// initial -> draft -> review, then the run settles waiting for a manual
	// transition.
	assert.Equal(t, "review", out.Place)
	assert.False(t, out.IsWorking)
	assert.Empty(t, out.Error)
	assert.ElementsMatch(t, []string{"approve", "reject"}, out.AvailableTransitions)
}

func TestProcessorRun_PendingTransitionFires(t *testing.T) {
	st := &procMockStore{}
	p := newProcessorForTest(t, st, &mockInvoker{})

	wf := &store.Workflow{ID: "wf-1", Place: "review"}
	pending := &schema.TransitionRequest{ID: "approve", WorkflowID: "wf-1"}
	out, err := p.Run(context.Background(), wf, approvalMachine(), pending, nil)

	require.NoError(t, err)
	assert.Equal(t, "done", out.Place)

	last := out.History[len(out.History)-1]
	assert.Equal(t, "approve", last.TransitionID)
	assert.Equal(t, "review", last.From)
	assert.Equal(t, "done", last.To)
}

func TestProcessorRun_HistoryIsAppendOnly(t *testing.T) {
	st := &procMockStore{}
	p := newProcessorForTest(t, st, &mockInvoker{})

	prior := []store.HistoryEntry{
		{TransitionID: "draft", From: schema.PlaceInitial, To: "draft"},
		{TransitionID: "submit", From: "draft", To: "review"},
	}
	wf := &store.Workflow{ID: "wf-1", Place: "review", History: append([]store.HistoryEntry{}, prior...)}
	pending := &schema.TransitionRequest{ID: "approve"}

	out, err := p.Run(context.Background(), wf, approvalMachine(), pending, nil)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(out.History), len(prior))
	for i, entry := range prior {
		assert.Equal(t, entry, out.History[i], "prior history must be preserved verbatim")
	}
}

func TestProcessorRun_GuardBlocksTransition(t *testing.T) {
	st := &procMockStore{}
	p := newProcessorForTest(t, st, &mockInvoker{})

	cfg := &schema.MachineConfig{
		Name: "guarded",
		Transitions: []schema.TransitionDefinition{
			{
				ID:      "advance",
				From:    schema.StringList{schema.PlaceInitial},
				To:      schema.StringList{"ready"},
				Trigger: schema.TriggerOnEntry,
				If:      `options["enabled"] == true`,
			},
		},
	}

	wf := &store.Workflow{ID: "wf-1", Place: schema.PlaceInitial}
	out, err := p.Run(context.Background(), wf, cfg, nil, map[string]any{"enabled": false})
	require.NoError(t, err)
	assert.Equal(t, schema.PlaceInitial, out.Place)

	wf2 := &store.Workflow{ID: "wf-2", Place: schema.PlaceInitial}
	out2, err := p.Run(context.Background(), wf2, cfg, nil, map[string]any{"enabled": true})
	require.NoError(t, err)
	assert.Equal(t, "ready", out2.Place)
}

func TestProcessorRun_WildcardFromMatchesAnyPlace(t *testing.T) {
	st := &procMockStore{}
	p := newProcessorForTest(t, st, &mockInvoker{})

	cfg := approvalMachine()
	cfg.Transitions = append(cfg.Transitions, schema.TransitionDefinition{
		ID:   "cancel",
		From: schema.StringList{schema.FromAny},
		To:   schema.StringList{"cancelled"},
	})

	wf := &store.Workflow{ID: "wf-1", Place: "review"}
	pending := &schema.TransitionRequest{ID: "cancel"}
	out, err := p.Run(context.Background(), wf, cfg, pending, nil)

	require.NoError(t, err)
	assert.Equal(t, "cancelled", out.Place)
}

func TestProcessorRun_ToolErrorRecordedOnWorkflow(t *testing.T) {
	st := &procMockStore{}
	inv := &mockInvoker{errs: map[string]error{
		"notify": schema.NewError(schema.ErrCodeExecution, "smtp unreachable"),
	}}
	p := newProcessorForTest(t, st, inv)

	cfg := &schema.MachineConfig{
		Name: "notify",
		Transitions: []schema.TransitionDefinition{
			{
				ID:      "send",
				From:    schema.StringList{schema.PlaceInitial},
				To:      schema.StringList{"sent"},
				Trigger: schema.TriggerOnEntry,
				Calls:   []schema.ToolCall{{Tool: "notify"}},
			},
		},
	}

	wf := &store.Workflow{ID: "wf-1", Place: schema.PlaceInitial}
	out, err := p.Run(context.Background(), wf, cfg, nil, nil)

	// Execution failures end the run as completed-with-error, not as a
	// returned error.
	require.NoError(t, err)
	assert.Contains(t, out.Error, "smtp unreachable")
	assert.False(t, out.IsWorking)
	assert.Equal(t, schema.PlaceInitial, out.Place, "failed transition must not advance the place")
}

func TestProcessorRun_OnErrorRoutesToRecoveryPlace(t *testing.T) {
	st := &procMockStore{}
	inv := &mockInvoker{errs: map[string]error{
		"notify": schema.NewError(schema.ErrCodeExecution, "smtp unreachable"),
	}}
	p := newProcessorForTest(t, st, inv)

	cfg := &schema.MachineConfig{
		Name: "notify",
		Transitions: []schema.TransitionDefinition{
			{
				ID:      "send",
				From:    schema.StringList{schema.PlaceInitial},
				To:      schema.StringList{"sent"},
				Trigger: schema.TriggerOnEntry,
				Calls:   []schema.ToolCall{{Tool: "notify"}},
				OnError: "failed_delivery",
			},
		},
	}

	wf := &store.Workflow{ID: "wf-1", Place: schema.PlaceInitial}
	out, err := p.Run(context.Background(), wf, cfg, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "failed_delivery", out.Place)
	assert.Empty(t, out.Error, "routed failure is not a workflow error")
}

func TestProcessorRun_MultiTargetRequiresToolRoute(t *testing.T) {
	st := &procMockStore{}
	p := newProcessorForTest(t, st, &mockInvoker{})

	cfg := &schema.MachineConfig{
		Name: "branching",
		Transitions: []schema.TransitionDefinition{
			{
				ID:      "triage",
				From:    schema.StringList{schema.PlaceInitial},
				To:      schema.StringList{"low", "high"},
				Trigger: schema.TriggerOnEntry,
			},
		},
	}

	wf := &store.Workflow{ID: "wf-1", Place: schema.PlaceInitial}
	out, err := p.Run(context.Background(), wf, cfg, nil, nil)

	require.NoError(t, err)
	assert.Contains(t, out.Error, "no tool supplied a next place")
	assert.Equal(t, schema.PlaceInitial, out.Place)
}

func TestProcessorRun_ToolRouteSelectsTarget(t *testing.T) {
	st := &procMockStore{}
	inv := &mockInvoker{results: map[string]*tools.ToolResult{
		"workflow.route": {NextPlace: "high"},
	}}
	p := newProcessorForTest(t, st, inv)

	cfg := &schema.MachineConfig{
		Name: "branching",
		Transitions: []schema.TransitionDefinition{
			{
				ID:      "triage",
				From:    schema.StringList{schema.PlaceInitial},
				To:      schema.StringList{"low", "high"},
				Trigger: schema.TriggerOnEntry,
				Calls:   []schema.ToolCall{{Tool: "workflow.route"}},
			},
		},
	}

	wf := &store.Workflow{ID: "wf-1", Place: schema.PlaceInitial}
	out, err := p.Run(context.Background(), wf, cfg, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "high", out.Place)
}

func TestProcessorRun_RouteOutsideTargetsRejected(t *testing.T) {
	st := &procMockStore{}
	inv := &mockInvoker{results: map[string]*tools.ToolResult{
		"workflow.route": {NextPlace: "elsewhere"},
	}}
	p := newProcessorForTest(t, st, inv)

	cfg := &schema.MachineConfig{
		Name: "branching",
		Transitions: []schema.TransitionDefinition{
			{
				ID:      "triage",
				From:    schema.StringList{schema.PlaceInitial},
				To:      schema.StringList{"low", "high"},
				Trigger: schema.TriggerOnEntry,
				Calls:   []schema.ToolCall{{Tool: "workflow.route"}},
			},
		},
	}

	wf := &store.Workflow{ID: "wf-1", Place: schema.PlaceInitial}
	out, err := p.Run(context.Background(), wf, cfg, nil, nil)

	require.NoError(t, err)
	assert.Contains(t, out.Error, "not a declared target")
}

func TestProcessorRun_ContextUpdatesMerged(t *testing.T) {
	st := &procMockStore{}
	inv := &mockInvoker{results: map[string]*tools.ToolResult{
		"context.set": {ContextUpdates: map[string]any{"owner": "ops"}},
	}}
	p := newProcessorForTest(t, st, inv)

	cfg := &schema.MachineConfig{
		Name: "ctx",
		Transitions: []schema.TransitionDefinition{
			{
				ID:      "assign",
				From:    schema.StringList{schema.PlaceInitial},
				To:      schema.StringList{"assigned"},
				Trigger: schema.TriggerOnEntry,
				Calls:   []schema.ToolCall{{Tool: "context.set"}},
			},
		},
	}

	wf := &store.Workflow{ID: "wf-1", Place: schema.PlaceInitial, Context: map[string]any{"env": "prod"}}
	out, err := p.Run(context.Background(), wf, cfg, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "ops", out.Context["owner"])
	assert.Equal(t, "prod", out.Context["env"], "existing context keys survive merges")
}

func TestProcessorRun_OptionsFingerprintStored(t *testing.T) {
	st := &procMockStore{}
	p := newProcessorForTest(t, st, &mockInvoker{})

	options := map[string]any{"mode": "fast"}
	wf := &store.Workflow{ID: "wf-1", Place: schema.PlaceInitial}
	out, err := p.Run(context.Background(), wf, approvalMachine(), nil, options)

	require.NoError(t, err)
	assert.Equal(t, OptionsFingerprint(options), out.OptionsHash)
}
