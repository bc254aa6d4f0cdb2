package harness

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/trisync/internal/ir"
	"github.com/roach88/trisync/internal/store"
)

// AssertionContext gives assertions access to the scenario's ledger.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s %s\n", ev.Seq, ev.Pass, ev.Kind, ev.ObjectID, ev.Outcome)
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns one message per
// failure, in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertEventCount:
			err = assertEventCount(result.Trace, a)
		case AssertEventOrder:
			err = assertEventOrder(result.Trace, a)
		case AssertFinalObject:
			err = assertFinalObject(result, a)
		case AssertPendingConflicts:
			err = assertPendingConflicts(actx, a)
		case AssertReplayConsistent:
			err = assertReplayConsistent(actx)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// assertEventCount checks that events of the given kind (for the given
// object, if any) occur exactly Count times.
func assertEventCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Kind == a.Kind && (a.Object == "" || ev.ObjectID == a.Object) {
			count++
		}
	}
	if count == a.Count {
		return nil
	}

	subject := a.Kind
	if a.Object != "" {
		subject += " for " + a.Object
	}
	return &AssertionError{
		Type:     AssertEventCount,
		Expected: fmt.Sprintf("%d %s events", a.Count, subject),
		Actual:   fmt.Sprintf("%d events", count),
		Trace:    trace,
	}
}

// assertEventOrder checks that the object's events have exactly the given
// kinds, in log order.
func assertEventOrder(trace []TraceEvent, a Assertion) error {
	var kinds []string
	for _, ev := range trace {
		if ev.ObjectID == a.Object {
			kinds = append(kinds, ev.Kind)
		}
	}
	if slices.Equal(kinds, a.Kinds) {
		return nil
	}
	return &AssertionError{
		Type:     AssertEventOrder,
		Expected: fmt.Sprintf("%s events %v", a.Object, a.Kinds),
		Actual:   fmt.Sprintf("%v", kinds),
		Trace:    trace,
	}
}

// assertFinalObject checks the object's final baseline against Expect.
// Scalar fields must match exactly; properties and geometry match as
// subsets, comparing values by canonical form so 3 and 3.0 agree.
func assertFinalObject(result *Result, a Assertion) error {
	obj, ok := result.Object(a.Object)
	if !ok {
		return &AssertionError{
			Type:     AssertFinalObject,
			Expected: fmt.Sprintf("object %s in ledger", a.Object),
			Actual:   "object not found",
		}
	}

	actual := map[string]any{
		"type":        obj.Type,
		"version":     obj.Version,
		"provenance":  obj.Provenance,
		"lifecycle":   obj.Lifecycle,
		"external_id": obj.ExternalID,
	}

	for _, key := range sortedKeys(a.Expect) {
		want := a.Expect[key]
		switch key {
		case "properties", "geometry":
			got := obj.Properties
			if key == "geometry" {
				got = obj.Geometry
			}
			if err := matchSubset(key, got, want); err != nil {
				return err
			}
		default:
			if !scalarEqual(want, actual[key]) {
				return &AssertionError{
					Type:     AssertFinalObject,
					Expected: fmt.Sprintf("%s.%s = %v", a.Object, key, want),
					Actual:   fmt.Sprintf("%s.%s = %v", a.Object, key, actual[key]),
				}
			}
		}
	}
	return nil
}

// matchSubset checks that every key of want is present in got with the same
// canonical value.
func matchSubset(field string, got ir.IRObject, want any) error {
	wantMap, ok := want.(map[string]any)
	if !ok {
		return fmt.Errorf("%s: expected a map, got %T", field, want)
	}
	wantObj, err := ir.ToIRObject(wantMap)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}

	for _, key := range wantObj.SortedKeys() {
		gotVal, ok := got[key]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalObject,
				Expected: fmt.Sprintf("%s.%s to exist", field, key),
				Actual:   fmt.Sprintf("keys %v", got.SortedKeys()),
			}
		}
		wantJSON, err := ir.MarshalCanonical(wantObj[key])
		if err != nil {
			return fmt.Errorf("%s.%s: %w", field, key, err)
		}
		gotJSON, err := ir.MarshalCanonical(gotVal)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", field, key, err)
		}
		if !bytes.Equal(wantJSON, gotJSON) {
			return &AssertionError{
				Type:     AssertFinalObject,
				Expected: fmt.Sprintf("%s.%s = %s", field, key, wantJSON),
				Actual:   fmt.Sprintf("%s.%s = %s", field, key, gotJSON),
			}
		}
	}
	return nil
}

// scalarEqual compares a YAML-decoded expectation with an actual field.
// YAML yields int for small integers; the ledger uses int64.
func scalarEqual(want, got any) bool {
	switch w := want.(type) {
	case int:
		g, ok := got.(int64)
		return ok && g == int64(w)
	case int64:
		g, ok := got.(int64)
		return ok && g == w
	case string:
		g, ok := got.(string)
		return ok && g == w
	}
	return false
}

func assertPendingConflicts(actx *AssertionContext, a Assertion) error {
	open, err := actx.Store.PendingConflicts(actx.Ctx)
	if err != nil {
		return fmt.Errorf("read pending conflicts: %w", err)
	}
	if len(open) == a.Count {
		return nil
	}
	ids := make([]string, 0, len(open))
	for _, pc := range open {
		ids = append(ids, pc.ObjectID)
	}
	return &AssertionError{
		Type:     AssertPendingConflicts,
		Expected: fmt.Sprintf("%d open conflicts", a.Count),
		Actual:   fmt.Sprintf("%d open conflicts %v", len(open), ids),
	}
}

func assertReplayConsistent(actx *AssertionContext) error {
	report, err := actx.Store.VerifyReplay(actx.Ctx)
	if err != nil {
		return fmt.Errorf("verify replay: %w", err)
	}
	if report.Consistent() {
		return nil
	}
	reasons := make([]string, 0, len(report.Mismatches))
	for _, m := range report.Mismatches {
		reasons = append(reasons, m.ObjectID+": "+m.Reason)
	}
	return &AssertionError{
		Type:     AssertReplayConsistent,
		Expected: "event log folds to the ledger",
		Actual:   strings.Join(reasons, "; "),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
