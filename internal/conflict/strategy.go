package conflict

import (
	"fmt"
	"strings"

	"github.com/roach88/trisync/internal/ir"
)

// Strategy names a resolution policy for true conflicts.
type Strategy string

const (
	LastWriteWins  Strategy = "LastWriteWins"
	OriginPriority Strategy = "OriginPriority"
	Manual         Strategy = "Manual"
)

// DefaultStrategy is used when a pass does not name one.
const DefaultStrategy = LastWriteWins

// ParseStrategy accepts the canonical names and their snake_case forms.
// An empty string yields DefaultStrategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.TrimSpace(s) {
	case "":
		return DefaultStrategy, nil
	case "LastWriteWins", "last_write_wins":
		return LastWriteWins, nil
	case "OriginPriority", "origin_priority":
		return OriginPriority, nil
	case "Manual", "manual":
		return Manual, nil
	}
	return "", fmt.Errorf("unknown strategy %q (want LastWriteWins, OriginPriority, or Manual)", s)
}

// Picker chooses a side of a true conflict. Returning ErrUnresolved leaves the
// conflict for an external decision.
type Picker interface {
	Pick(a, b ir.VersionedObject) (Side, string, error)
}

// Picker returns the policy implementing s.
func (s Strategy) Picker() (Picker, error) {
	switch s {
	case LastWriteWins:
		return lastWriteWins{}, nil
	case OriginPriority:
		return originPriority{}, nil
	case Manual:
		return manual{}, nil
	}
	return nil, fmt.Errorf("unknown strategy %q", string(s))
}

// provenanceRank orders candidates for timestamp ties: origin first.
func provenanceRank(p ir.Provenance) int {
	switch p {
	case ir.ProvenanceOrigin:
		return 0
	case ir.ProvenanceClient:
		return 1
	default:
		return 2
	}
}

type lastWriteWins struct{}

func (lastWriteWins) Pick(a, b ir.VersionedObject) (Side, string, error) {
	switch {
	case a.Timestamp.After(b.Timestamp):
		return SideA, "origin written later", nil
	case b.Timestamp.After(a.Timestamp):
		return SideB, "client written later", nil
	}
	if provenanceRank(b.Provenance) < provenanceRank(a.Provenance) {
		return SideB, "same timestamp, client provenance ranks first", nil
	}
	return SideA, "same timestamp, origin first", nil
}

type originPriority struct{}

func (originPriority) Pick(a, b ir.VersionedObject) (Side, string, error) {
	return SideA, "origin priority", nil
}

type manual struct{}

func (manual) Pick(a, b ir.VersionedObject) (Side, string, error) {
	return "", "manual review required", ErrUnresolved
}
