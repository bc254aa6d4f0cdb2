package harness

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/sebdah/goldie/v2"

	"github.com/roach88/trisync/internal/ir"
)

// toCanonicalMap converts a result to the generic form ir.MarshalCanonical
// accepts. Empty optional fields are left out.
func toCanonicalMap(name string, result *Result) map[string]any {
	passes := make([]any, len(result.Passes))
	for i, p := range result.Passes {
		output := make([]any, len(p.Output))
		for j, id := range p.Output {
			output[j] = id
		}
		passes[i] = map[string]any{
			"pass":   p.Pass,
			"status": string(p.Status),
			"counts": map[string]any{
				"ingested":      p.Counts.Ingested,
				"committed":     p.Counts.Committed,
				"unchanged":     p.Counts.Unchanged,
				"unresolved":    p.Counts.Unresolved,
				"errored":       p.Counts.Errored,
				"requeued":      p.Counts.Requeued,
				"not_committed": p.Counts.NotCommitted,
			},
			"output": output,
		}
	}

	trace := make([]any, len(result.Trace))
	for i, ev := range result.Trace {
		m := map[string]any{
			"seq":         ev.Seq,
			"pass":        ev.Pass,
			"kind":        ev.Kind,
			"source":      ev.Source,
			"destination": ev.Destination,
			"outcome":     ev.Outcome,
		}
		if ev.ObjectID != "" {
			m["object_id"] = ev.ObjectID
		}
		if ev.Version != 0 {
			m["version"] = ev.Version
		}
		trace[i] = m
	}

	objects := make([]any, len(result.Objects))
	for i, o := range result.Objects {
		m := map[string]any{
			"id":         o.ID,
			"type":       o.Type,
			"version":    o.Version,
			"provenance": o.Provenance,
			"lifecycle":  o.Lifecycle,
			"properties": o.Properties,
			"geometry":   o.Geometry,
		}
		if o.ExternalID != "" {
			m["external_id"] = o.ExternalID
		}
		objects[i] = m
	}

	return map[string]any{
		"scenario": name,
		"passes":   passes,
		"trace":    trace,
		"objects":  objects,
	}
}

// Snapshot renders a result as indented canonical JSON. Key order and
// number formatting follow RFC 8785, so the bytes depend only on content.
func Snapshot(name string, result *Result) ([]byte, error) {
	canonical, err := ir.MarshalCanonical(toCanonicalMap(name, result))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, canonical, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, snapshot)
	return nil
}
