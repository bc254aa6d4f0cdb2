package batch

import (
	"fmt"
	"strings"
)

// Problem is a record-level defect found by Check.
type Problem struct {
	Index   int    `json:"index"`
	Label   string `json:"label,omitempty"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	if p.Label != "" {
		return fmt.Sprintf("[%d] %s: %s", p.Index, p.Label, p.Message)
	}
	return fmt.Sprintf("[%d] %s", p.Index, p.Message)
}

// Check reports the defects a pass would reject a record for without
// consulting the ledger: a missing type, content that is not IR-convertible,
// and a repeated id or external id. Deletes of ids unknown to the ledger are
// only detectable during a pass.
func Check(records []RawRecord) []Problem {
	problems := []Problem{}
	ids := make(map[string]int, len(records))
	externals := make(map[string]int)

	for i, rec := range records {
		label := rec.Label()
		if strings.TrimSpace(rec.Type) == "" {
			problems = append(problems, Problem{Index: i, Label: label, Message: "type is required"})
		}
		if _, _, err := rec.Content(); err != nil {
			problems = append(problems, Problem{Index: i, Label: label, Message: err.Error()})
		}

		switch {
		case rec.ID != "":
			if first, dup := ids[rec.ID]; dup {
				problems = append(problems, Problem{Index: i, Label: label,
					Message: fmt.Sprintf("duplicate id %s (first at [%d])", rec.ID, first)})
			} else {
				ids[rec.ID] = i
			}
		case rec.ExternalID != "":
			if first, dup := externals[rec.ExternalID]; dup {
				problems = append(problems, Problem{Index: i, Label: label,
					Message: fmt.Sprintf("duplicate external id %s (first at [%d])", rec.ExternalID, first)})
			} else {
				externals[rec.ExternalID] = i
			}
		case rec.Deleted:
			problems = append(problems, Problem{Index: i, Message: "delete needs an id or external id"})
		}
	}
	return problems
}
