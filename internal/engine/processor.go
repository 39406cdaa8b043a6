package engine

import (
	"context"
	"log/slog"

	"github.com/rendis/conveyor/internal/expressions"
	"github.com/rendis/conveyor/internal/store"
	"github.com/rendis/conveyor/internal/tools"
	"github.com/rendis/conveyor/pkg/schema"
)

// maxTransitionsPerRun bounds a single run so a misconfigured onEntry cycle
// cannot spin forever. Self-loops and back edges are ordinary transitions;
// the cap only stops runaway auto-fire chains.
const maxTransitionsPerRun = 1000

// ToolInvoker runs one tool call. Satisfied by *tools.Invoker.
type ToolInvoker interface {
	Invoke(ctx context.Context, call schema.ToolCall, input tools.ToolInput) (*tools.ToolResult, error)
}

// Processor is the transition-resolution and execution loop of the engine.
type Processor struct {
	store      store.Store
	validators *ValidatorRegistry
	invoker    ToolInvoker
	guards     *expressions.CELEngine
	logger     *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(s store.Store, validators *ValidatorRegistry, invoker ToolInvoker, guards *expressions.CELEngine, logger *slog.Logger) *Processor {
	return &Processor{
		store:      s,
		validators: validators,
		invoker:    invoker,
		guards:     guards,
		logger:     logger,
	}
}

// edge is one resolvable (source place, transition) pair. A transition
// declaring several from places expands into one edge per place, all sharing
// the transition's id.
type edge struct {
	def  *schema.TransitionDefinition
	from string
}

// Run drives the workflow through its state machine until no transition is
// resolvable. Transition execution errors are recorded on the workflow and
// end the run without being returned; only skip-check and persistence
// failures surface as errors.
func (p *Processor) Run(ctx context.Context, wf *store.Workflow, cfg *schema.MachineConfig, pending *schema.TransitionRequest, options map[string]any) (*store.Workflow, error) {
	skip, reasons := p.validators.CanSkip(pending, wf, options)
	if skip {
		p.logger.DebugContext(ctx, "run skipped, workflow up to date")
		return wf, nil
	}

	if err := p.initialize(ctx, wf, cfg, options, reasons); err != nil {
		return nil, err
	}

	data := map[string]any{}
	if pending != nil {
		data = pending.Payload
	}

	fired := 0
	for {
		if fired >= maxTransitionsPerRun {
			return wf, p.terminate(ctx, wf, schema.NewErrorf(schema.ErrCodeExecution,
				"transition limit %d exceeded", maxTransitionsPerRun))
		}

		e, usedPending, err := p.resolveNext(ctx, cfg, wf, pending, data, options)
		if err != nil {
			return wf, p.terminate(ctx, wf, err)
		}
		if e == nil {
			break
		}
		if usedPending {
			pending = nil
		}

		if err := p.fire(ctx, wf, cfg, e, data, options); err != nil {
			return wf, p.terminate(ctx, wf, err)
		}
		fired++
	}

	working := false
	if err := p.store.UpdateWorkflow(ctx, wf.ID, store.WorkflowUpdate{IsWorking: &working}); err != nil {
		return nil, err
	}
	wf.IsWorking = false
	return wf, nil
}

// initialize appends the synthetic invalidation transition back to the
// initial place, soft-invalidates existing documents, and records the new
// options fingerprint.
func (p *Processor) initialize(ctx context.Context, wf *store.Workflow, cfg *schema.MachineConfig, options map[string]any, reasons []string) error {
	p.logger.InfoContext(ctx, "initializing workflow run",
		slog.String("place", wf.Place),
		slog.Any("reasons", reasons),
	)

	wf.History = append(wf.History, store.HistoryEntry{
		TransitionID: schema.TransitionInvalidation,
		From:         wf.Place,
		To:           schema.PlaceInitial,
	})
	wf.Place = schema.PlaceInitial
	wf.OptionsHash = OptionsFingerprint(options)
	wf.IsWorking = true
	wf.AvailableTransitions = availableTransitions(cfg, wf.Place)

	if err := p.store.InvalidateDocuments(ctx, wf.ID); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"invalidate documents: %s", err.Error()).WithCause(err)
	}
	return p.persist(ctx, wf)
}

// resolveNext finds the next transition to fire: an auto-fired onEntry edge
// matching the current place wins; otherwise the queued pending transition
// is matched by id against the edges reachable from the current place.
func (p *Processor) resolveNext(ctx context.Context, cfg *schema.MachineConfig, wf *store.Workflow, pending *schema.TransitionRequest, data, options map[string]any) (*edge, bool, error) {
	for _, e := range expandEdges(cfg) {
		if !e.def.IsOnEntry() || !e.matches(wf.Place) {
			continue
		}
		ok, err := p.guardPasses(ctx, e.def, wf, data, options)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return e, false, nil
		}
	}

	if pending == nil {
		return nil, false, nil
	}
	for _, e := range expandEdges(cfg) {
		if e.def.ID != pending.ID || e.def.IsOnEntry() || !e.matches(wf.Place) {
			continue
		}
		ok, err := p.guardPasses(ctx, e.def, wf, data, options)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return e, true, nil
		}
	}
	return nil, false, nil
}

func (p *Processor) guardPasses(ctx context.Context, def *schema.TransitionDefinition, wf *store.Workflow, data, options map[string]any) (bool, error) {
	if def.If == "" {
		return true, nil
	}
	ok, err := p.guards.EvaluateBool(ctx, def.If, map[string]any{
		"workflow": workflowScope(wf),
		"context":  wf.Context,
		"data":     data,
		"options":  options,
	})
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeExecution,
			"guard for transition %q: %s", def.ID, err.Error()).
			WithTransition(def.ID).WithCause(err)
	}
	return ok, nil
}

// fire executes one transition: runs its tool calls in declared order,
// persisting the workflow after every call that mutates it, then resolves
// and validates the destination place and appends the history entry.
func (p *Processor) fire(ctx context.Context, wf *store.Workflow, cfg *schema.MachineConfig, e *edge, data, options map[string]any) error {
	p.logger.InfoContext(ctx, "firing transition",
		slog.String("transition", e.def.ID),
		slog.String("from", wf.Place),
	)

	nextPlace, err := p.runToolCalls(ctx, wf, e, data, options)
	if err != nil {
		if e.def.OnError != "" {
			// The transition declares a recovery place; route there instead
			// of failing the run.
			p.logger.WarnContext(ctx, "transition failed, routing to error place",
				slog.String("transition", e.def.ID),
				slog.String("on_error", e.def.OnError),
				slog.String("error", err.Error()),
			)
			return p.advance(ctx, wf, cfg, e.def.ID, e.def.OnError)
		}
		return err
	}

	dest, err := resolveDestination(e, nextPlace)
	if err != nil {
		return err
	}
	return p.advance(ctx, wf, cfg, e.def.ID, dest)
}

func (p *Processor) runToolCalls(ctx context.Context, wf *store.Workflow, e *edge, data, options map[string]any) (string, error) {
	var nextPlace string
	for _, call := range e.def.Calls {
		result, err := p.invoker.Invoke(ctx, call, tools.ToolInput{
			Workflow:     wf,
			TransitionID: e.def.ID,
			Context:      wf.Context,
			Data:         data,
			Options:      options,
		})
		if err != nil {
			return "", schema.NewErrorf(schema.ErrCodeExecution,
				"tool %q: %s", call.Tool, err.Error()).
				WithTransition(e.def.ID).WithCause(err)
		}
		if result.NextPlace != "" {
			nextPlace = result.NextPlace
		}
		if len(result.ContextUpdates) > 0 {
			if wf.Context == nil {
				wf.Context = make(map[string]any, len(result.ContextUpdates))
			}
			for k, v := range result.ContextUpdates {
				wf.Context[k] = v
			}
			// Persist after every mutating call so a partial run is
			// resumable after a crash.
			if err := p.persist(ctx, wf); err != nil {
				return "", err
			}
		}
	}
	return nextPlace, nil
}

// resolveDestination picks and validates the destination place. A transition
// with several declared targets must be disambiguated by a tool-provided
// next place; picking the first target silently would mask configuration
// mistakes.
func resolveDestination(e *edge, nextPlace string) (string, error) {
	targets := e.def.To
	if nextPlace == "" {
		if len(targets) != 1 {
			return "", schema.NewErrorf(schema.ErrCodeInvalidTransition,
				"transition %q has %d targets and no tool supplied a next place",
				e.def.ID, len(targets)).WithTransition(e.def.ID)
		}
		return targets[0], nil
	}
	if targets.Contains(nextPlace) || nextPlace == e.from {
		return nextPlace, nil
	}
	return "", schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"next place %q is not a declared target of transition %q", nextPlace, e.def.ID).
		WithTransition(e.def.ID)
}

// advance appends the history entry, moves the workflow to dest, refreshes
// the cached available transitions, and persists.
func (p *Processor) advance(ctx context.Context, wf *store.Workflow, cfg *schema.MachineConfig, transitionID, dest string) error {
	wf.History = append(wf.History, store.HistoryEntry{
		TransitionID: transitionID,
		From:         wf.Place,
		To:           dest,
	})
	wf.Place = dest
	wf.AvailableTransitions = availableTransitions(cfg, dest)
	return p.persist(ctx, wf)
}

// terminate records a transition execution error on the workflow and ends
// the run. The run surfaces to the caller as completed-with-error, not as a
// returned error.
func (p *Processor) terminate(ctx context.Context, wf *store.Workflow, cause error) error {
	p.logger.ErrorContext(ctx, "workflow run failed",
		slog.String("error", cause.Error()),
	)
	wf.Error = cause.Error()
	wf.IsWorking = false
	if err := p.persist(ctx, wf); err != nil {
		return err
	}
	return nil
}

func (p *Processor) persist(ctx context.Context, wf *store.Workflow) error {
	working := wf.IsWorking
	update := store.WorkflowUpdate{
		Place:                &wf.Place,
		History:              wf.History,
		AvailableTransitions: wf.AvailableTransitions,
		Context:              wf.Context,
		OptionsHash:          &wf.OptionsHash,
		IsWorking:            &working,
		Error:                &wf.Error,
	}
	if update.AvailableTransitions == nil {
		update.AvailableTransitions = []string{}
	}
	if update.Context == nil {
		update.Context = map[string]any{}
	}
	if update.History == nil {
		update.History = []store.HistoryEntry{}
	}
	if err := p.store.UpdateWorkflow(ctx, wf.ID, update); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"persist workflow: %s", err.Error()).WithCause(err)
	}
	return nil
}

// --- edge helpers ---

func (e *edge) matches(place string) bool {
	return e.from == place || e.from == schema.FromAny
}

func expandEdges(cfg *schema.MachineConfig) []*edge {
	edges := make([]*edge, 0, len(cfg.Transitions))
	for i := range cfg.Transitions {
		def := &cfg.Transitions[i]
		for _, from := range def.From {
			edges = append(edges, &edge{def: def, from: from})
		}
	}
	return edges
}

// availableTransitions returns the ids of transitions reachable from place,
// in declaration order without duplicates.
func availableTransitions(cfg *schema.MachineConfig, place string) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, e := range expandEdges(cfg) {
		if !e.matches(place) {
			continue
		}
		if _, ok := seen[e.def.ID]; ok {
			continue
		}
		seen[e.def.ID] = struct{}{}
		ids = append(ids, e.def.ID)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids
}

func workflowScope(wf *store.Workflow) map[string]any {
	return map[string]any{
		"id":        wf.ID,
		"pipeline":  wf.PipelineID,
		"workspace": wf.WorkspaceID,
		"namespace": wf.Namespace,
		"name":      wf.Name,
		"place":     wf.Place,
	}
}
