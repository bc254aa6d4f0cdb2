package conflict

import (
	"errors"
	"fmt"

	"github.com/roach88/trisync/internal/ir"
)

// ErrUnresolved is returned by Resolve when the strategy declines to pick a
// winner. The caller must surface both candidates for an external decision.
var ErrUnresolved = errors.New("conflict: unresolved")

// Outcome is the result of a three-way compare.
type Outcome int

const (
	NoChange Outcome = iota
	OnlyAChanged
	OnlyBChanged
	BothChanged
)

func (o Outcome) String() string {
	switch o {
	case NoChange:
		return "NoChange"
	case OnlyAChanged:
		return "OnlyAChanged"
	case OnlyBChanged:
		return "OnlyBChanged"
	case BothChanged:
		return "BothChanged"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Side names one of the two candidates.
type Side string

const (
	SideA Side = "origin"
	SideB Side = "client"
)

// ParseSide accepts "origin"/"a" and "client"/"b".
func ParseSide(s string) (Side, error) {
	switch s {
	case "origin", "a", "A":
		return SideA, nil
	case "client", "b", "B":
		return SideB, nil
	}
	return "", fmt.Errorf("unknown side %q (want origin or client)", s)
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Outcome Outcome
	Winner  ir.VersionedObject
	// Side is the candidate whose content won. Empty for NoChange.
	Side Side
	// Merged is true when the winner went through a strategy and carries
	// merged provenance and a fresh version.
	Merged bool
	Reason string
}

// Detect classifies how a and b diverged from original.
//
// A nil original means the id has no baseline; it never equals either
// candidate, so two differing creations are BothChanged and two identical
// ones are NoChange.
func Detect(original *ir.VersionedObject, a, b ir.VersionedObject) Outcome {
	ka, kb := a.ChangeKey(), b.ChangeKey()
	if ka == kb {
		return NoChange
	}
	if original != nil {
		ko := original.ChangeKey()
		if ka == ko {
			return OnlyBChanged
		}
		if kb == ko {
			return OnlyAChanged
		}
	}
	return BothChanged
}

// Resolve picks the object that becomes the new baseline.
//
// One-sided outcomes return that candidate untouched. NoChange returns the
// candidate with the higher version (A on ties). BothChanged is decided by
// strategy; a Manual strategy yields ErrUnresolved.
func Resolve(outcome Outcome, original *ir.VersionedObject, a, b ir.VersionedObject, strategy Strategy) (Resolution, error) {
	picker, err := strategy.Picker()
	if err != nil {
		return Resolution{Outcome: outcome}, err
	}
	return ResolveWith(outcome, original, a, b, picker)
}

// ResolveWith is Resolve with an explicit Picker, for callers that supply
// their own policy.
func ResolveWith(outcome Outcome, original *ir.VersionedObject, a, b ir.VersionedObject, picker Picker) (Resolution, error) {
	switch outcome {
	case NoChange:
		if b.Version > a.Version {
			return Resolution{Outcome: outcome, Winner: b, Reason: "identical content, higher version"}, nil
		}
		return Resolution{Outcome: outcome, Winner: a, Reason: "identical content"}, nil

	case OnlyAChanged:
		return Resolution{Outcome: outcome, Winner: a, Side: SideA, Reason: "only origin changed"}, nil

	case OnlyBChanged:
		return Resolution{Outcome: outcome, Winner: b, Side: SideB, Reason: "only client changed"}, nil

	case BothChanged:
		side, reason, err := picker.Pick(a, b)
		if err != nil {
			return Resolution{Outcome: outcome, Reason: reason}, err
		}
		return Resolution{
			Outcome: outcome,
			Winner:  Merge(a, b, side),
			Side:    side,
			Merged:  true,
			Reason:  reason,
		}, nil
	}

	return Resolution{Outcome: outcome}, fmt.Errorf("resolve: unknown outcome %v", outcome)
}

// Merge builds the merged object for a decided conflict: the chosen side's
// content and timestamp, version max(A, B)+1, provenance merged.
func Merge(a, b ir.VersionedObject, side Side) ir.VersionedObject {
	winner := a
	if side == SideB {
		winner = b
	}
	merged := winner
	merged.Properties = winner.Properties.Clone()
	merged.Geometry = winner.Geometry.Clone()
	merged.Version = max(a.Version, b.Version) + 1
	merged.Provenance = ir.ProvenanceMerged
	if merged.ExternalID == "" {
		merged.ExternalID = a.ExternalID
	}
	return merged
}
