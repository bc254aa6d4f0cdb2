package harness

import "github.com/roach88/trisync/internal/ir"

// TraceEvent is one sync event as the harness records it. Pass ids are
// replaced by ordinals ("pass-1") and digests are left out so traces stay
// readable in golden files.
type TraceEvent struct {
	Seq         int64  `json:"seq"`
	Pass        string `json:"pass"`
	Kind        string `json:"kind"`
	ObjectID    string `json:"object_id,omitempty"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Outcome     string `json:"outcome"`
	Version     int64  `json:"version,omitempty"`
}

// PassOutcome is the summary of one pass step.
type PassOutcome struct {
	Pass   string        `json:"pass"`
	Status ir.PassStatus `json:"status"`
	Counts ir.PassCounts `json:"counts"`
	// Output lists the ids of the merged batch in output order.
	Output []string `json:"output"`
}

// ObjectState is the final ledger baseline for one object.
type ObjectState struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Version    int64       `json:"version"`
	Provenance string      `json:"provenance"`
	Lifecycle  string      `json:"lifecycle"`
	ExternalID string      `json:"external_id,omitempty"`
	Properties ir.IRObject `json:"properties"`
	Geometry   ir.IRObject `json:"geometry"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every expectation and assertion held.
	Pass bool `json:"pass"`

	Passes  []PassOutcome `json:"passes"`
	Trace   []TraceEvent  `json:"trace"`
	Objects []ObjectState `json:"objects"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Passes:  []PassOutcome{},
		Trace:   []TraceEvent{},
		Objects: []ObjectState{},
		Errors:  []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Object returns the final state of id.
func (r *Result) Object(id string) (ObjectState, bool) {
	for _, o := range r.Objects {
		if o.ID == id {
			return o, true
		}
	}
	return ObjectState{}, false
}
