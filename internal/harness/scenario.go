package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/trisync/internal/batch"
	"github.com/roach88/trisync/internal/conflict"
	"github.com/roach88/trisync/internal/ir"
)

// Scenario defines a conformance scenario: a sequence of passes and
// conflict decisions run against a fresh ledger, followed by assertions on
// the event log and the final object set.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Strategy is the engine default for every pass. Empty means
	// LastWriteWins.
	Strategy string `yaml:"strategy,omitempty"`

	// Steps run in order. Each is either a pass or a list of decisions.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final event log and ledger.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one pass (Origin/Client/Strategy/Expect) or one round of
// decisions on pending conflicts (Resolve). The two forms are exclusive.
type Step struct {
	Origin   []batch.RawRecord `yaml:"origin,omitempty"`
	Client   []batch.RawRecord `yaml:"client,omitempty"`
	Strategy string            `yaml:"strategy,omitempty"`

	// Expect checks the pass summary. Only the fields given are checked.
	Expect *PassExpect `yaml:"expect,omitempty"`

	Resolve []Decision `yaml:"resolve,omitempty"`
}

// IsDecision reports whether the step resolves conflicts instead of
// running a pass.
func (s Step) IsDecision() bool {
	return len(s.Resolve) > 0
}

// PassExpect is the expected status and counts of a pass.
type PassExpect struct {
	Status string         `yaml:"status,omitempty"`
	Counts map[string]int `yaml:"counts,omitempty"`

	// Output is the expected id order of the merged batch.
	Output []string `yaml:"output,omitempty"`
}

// Decision picks the winning side of one pending conflict.
type Decision struct {
	Object string `yaml:"object"`
	Choose string `yaml:"choose"`
}

// Assertion validates the final event log or ledger.
type Assertion struct {
	// Type specifies the assertion type:
	// - "event_count": events of Kind (optionally for Object) occur Count times
	// - "event_order": Object's events have exactly Kinds, in order
	// - "final_object": Object's baseline matches Expect (subset match)
	// - "pending_conflicts": Count conflicts remain open
	// - "replay_consistent": folding the event log reproduces the ledger
	Type string `yaml:"type"`

	Object string   `yaml:"object,omitempty"`
	Kind   string   `yaml:"kind,omitempty"`
	Kinds  []string `yaml:"kinds,omitempty"`
	Count  int      `yaml:"count,omitempty"`

	// Expect holds the expected object fields (used by final_object):
	// type, version, provenance, lifecycle, external_id, properties and
	// geometry. Properties and geometry are subset matches.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertEventCount       = "event_count"
	AssertEventOrder       = "event_order"
	AssertFinalObject      = "final_object"
	AssertPendingConflicts = "pending_conflicts"
	AssertReplayConsistent = "replay_consistent"
)

// passCountKeys are the keys accepted in PassExpect.Counts.
var passCountKeys = map[string]func(ir.PassCounts) int{
	"ingested":      func(c ir.PassCounts) int { return c.Ingested },
	"committed":     func(c ir.PassCounts) int { return c.Committed },
	"unchanged":     func(c ir.PassCounts) int { return c.Unchanged },
	"unresolved":    func(c ir.PassCounts) int { return c.Unresolved },
	"errored":       func(c ir.PassCounts) int { return c.Errored },
	"requeued":      func(c ir.PassCounts) int { return c.Requeued },
	"not_committed": func(c ir.PassCounts) int { return c.NotCommitted },
}

// finalObjectKeys are the keys accepted in a final_object Expect map.
var finalObjectKeys = map[string]bool{
	"type": true, "version": true, "provenance": true, "lifecycle": true,
	"external_id": true, "properties": true, "geometry": true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := conflict.ParseStrategy(s.Strategy); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step Step) error {
	if step.IsDecision() {
		if len(step.Origin) > 0 || len(step.Client) > 0 || step.Strategy != "" || step.Expect != nil {
			return fmt.Errorf("steps[%d]: resolve cannot be combined with a pass", index)
		}
		for j, d := range step.Resolve {
			if d.Object == "" {
				return fmt.Errorf("steps[%d].resolve[%d]: object is required", index, j)
			}
			if _, err := conflict.ParseSide(d.Choose); err != nil {
				return fmt.Errorf("steps[%d].resolve[%d]: %w", index, j, err)
			}
		}
		return nil
	}

	if step.Strategy != "" {
		if _, err := conflict.ParseStrategy(step.Strategy); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
	}
	if step.Expect != nil {
		if st := step.Expect.Status; st != "" &&
			st != string(ir.PassSuccess) && st != string(ir.PassPartial) && st != string(ir.PassFailed) {
			return fmt.Errorf("steps[%d].expect: unknown status %q", index, st)
		}
		for key := range step.Expect.Counts {
			if _, ok := passCountKeys[key]; !ok {
				return fmt.Errorf("steps[%d].expect: unknown count %q", index, key)
			}
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEventCount:
		if !ir.EventKind(a.Kind).Valid() {
			return fmt.Errorf("assertions[%d]: valid kind is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertEventOrder:
		if a.Object == "" {
			return fmt.Errorf("assertions[%d]: object is required for event_order", index)
		}
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for event_order", index)
		}
		for _, k := range a.Kinds {
			if !ir.EventKind(k).Valid() {
				return fmt.Errorf("assertions[%d]: unknown event kind %q", index, k)
			}
		}
	case AssertFinalObject:
		if a.Object == "" {
			return fmt.Errorf("assertions[%d]: object is required for final_object", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_object", index)
		}
		for key := range a.Expect {
			if !finalObjectKeys[key] {
				return fmt.Errorf("assertions[%d]: unknown final_object field %q", index, key)
			}
		}
	case AssertPendingConflicts:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for pending_conflicts", index)
		}
	case AssertReplayConsistent:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
