package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/trisync/internal/conflict"
	"github.com/roach88/trisync/internal/engine"
	"github.com/roach88/trisync/internal/ir"
	"github.com/roach88/trisync/internal/store"
)

// Epoch is the first instant of the harness clock. Every engine clock read
// advances it by ClockStep.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ClockStep is the harness clock increment.
const ClockStep = time.Second

// IDPrefix prefixes every pass id and minted object id ("id-1", "id-2", ...).
const IDPrefix = "id"

// Harness holds the per-scenario execution state.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	logger *slog.Logger

	// ordinals maps pass ids to "pass-N" in execution order.
	ordinals map[string]string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory ledger with a stepping clock
// and sequential ids, so two runs of the same scenario produce identical
// traces.
//
// Execution flow:
// 1. Create fresh in-memory ledger and engine
// 2. Run each step: a pass, checking its expectations, or a set of decisions
// 3. Collect the trace and final object set
// 4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	strategy, err := conflict.ParseStrategy(scenario.Strategy)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := engine.NewSteppingClock(Epoch, ClockStep)
	eng := engine.New(st,
		engine.WithStrategy(strategy),
		engine.WithNow(clock.Now),
		engine.WithIDGenerator(engine.NewSequenceGenerator(IDPrefix)),
		engine.WithLogger(logger),
	)
	defer eng.Close()

	h := &Harness{
		store:    st,
		engine:   eng,
		logger:   logger,
		ordinals: make(map[string]string),
	}

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Steps {
		if step.IsDecision() {
			h.executeDecisions(ctx, i, step.Resolve, result)
			continue
		}
		if err := h.executePass(ctx, i, step, result); err != nil {
			return nil, err
		}
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// executePass runs one pass step and checks its expectations. Only a pass
// that yields no result at all is an execution error; a failed pass is an
// outcome to assert on.
func (h *Harness) executePass(ctx context.Context, index int, step Step, result *Result) error {
	pass := engine.Pass{Origin: step.Origin, Client: step.Client}
	if step.Strategy != "" {
		s, err := conflict.ParseStrategy(step.Strategy)
		if err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
		pass.Strategy = &s
	}

	pr, err := h.engine.Run(ctx, pass)
	if pr == nil {
		return fmt.Errorf("steps[%d]: pass produced no result: %w", index, err)
	}

	ordinal := fmt.Sprintf("pass-%d", len(result.Passes)+1)
	h.ordinals[pr.PassID] = ordinal

	outcome := PassOutcome{
		Pass:   ordinal,
		Status: pr.Status,
		Counts: pr.Counts,
		Output: make([]string, 0, len(pr.Output)),
	}
	for _, obj := range pr.Output {
		outcome.Output = append(outcome.Output, obj.ID)
	}
	result.Passes = append(result.Passes, outcome)

	h.logger.Info("pass step completed",
		"step", index,
		"pass", pr.PassID,
		"status", string(pr.Status),
		"err", err,
	)

	if step.Expect != nil {
		for _, msg := range checkPass(index, outcome, step.Expect) {
			result.AddError(msg)
		}
	}
	return nil
}

// executeDecisions applies each decision in order. A rejected decision is a
// scenario failure, not an execution error.
func (h *Harness) executeDecisions(ctx context.Context, index int, decisions []Decision, result *Result) {
	for j, d := range decisions {
		side, err := conflict.ParseSide(d.Choose)
		if err != nil {
			result.AddError(fmt.Sprintf("steps[%d].resolve[%d]: %v", index, j, err))
			continue
		}
		obj, err := h.engine.ResolveConflict(ctx, d.Object, side)
		if err != nil {
			result.AddError(fmt.Sprintf("steps[%d].resolve[%d]: resolve %s: %v", index, j, d.Object, err))
			continue
		}
		h.logger.Info("conflict resolved",
			"step", index,
			"object", obj.ID,
			"choice", string(side),
			"version", obj.Version,
		)
	}
}

// collect reads the event log and ledger into result.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	events, err := h.store.Events(ctx, store.EventFilter{})
	if err != nil {
		return fmt.Errorf("read events: %w", err)
	}
	for _, ev := range events {
		result.Trace = append(result.Trace, TraceEvent{
			Seq:         ev.Seq,
			Pass:        h.ordinal(ev.PassID),
			Kind:        string(ev.Kind),
			ObjectID:    ev.ObjectID,
			Source:      ev.Source,
			Destination: ev.Destination,
			Outcome:     ev.Outcome,
			Version:     ev.Version,
		})
	}

	records, err := h.store.Records(ctx)
	if err != nil {
		return fmt.Errorf("read records: %w", err)
	}
	for _, rec := range records {
		result.Objects = append(result.Objects, objectState(rec.Object))
	}
	return nil
}

func (h *Harness) ordinal(passID string) string {
	if o, ok := h.ordinals[passID]; ok {
		return o
	}
	return passID
}

func objectState(obj ir.VersionedObject) ObjectState {
	return ObjectState{
		ID:         obj.ID,
		Type:       obj.Type,
		Version:    obj.Version,
		Provenance: string(obj.Provenance),
		Lifecycle:  string(obj.Lifecycle),
		ExternalID: obj.ExternalID,
		Properties: obj.Properties,
		Geometry:   obj.Geometry,
	}
}

// checkPass compares a pass outcome with its expectation.
func checkPass(index int, got PassOutcome, want *PassExpect) []string {
	var errs []string
	if want.Status != "" && string(got.Status) != want.Status {
		errs = append(errs, fmt.Sprintf("steps[%d]: status = %s, want %s", index, got.Status, want.Status))
	}
	for _, key := range sortedKeys(want.Counts) {
		if n := passCountKeys[key](got.Counts); n != want.Counts[key] {
			errs = append(errs, fmt.Sprintf("steps[%d]: %s = %d, want %d", index, key, n, want.Counts[key]))
		}
	}
	if want.Output != nil && !equalStrings(got.Output, want.Output) {
		errs = append(errs, fmt.Sprintf("steps[%d]: output = %v, want %v", index, got.Output, want.Output))
	}
	return errs
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
