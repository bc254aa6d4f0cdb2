package ir

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func buildProps(keys []string, values []int64, reverse bool) IRObject {
	n := min(len(keys), len(values))
	pairs := make([]IRPair, 0, n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, O(keys[i], IRInt(values[i])))
	}
	if reverse {
		for i, j := 0, len(pairs)-1; i < j; i, j = i+1, j-1 {
			pairs[i], pairs[j] = pairs[j], pairs[i]
		}
	}
	return NewIRObjectFromPairs(pairs...)
}

// TestContentDigestProperties checks determinism and bookkeeping independence
// over generated property maps.
func TestContentDigestProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("digest ignores construction order", prop.ForAll(
		func(elementType string, keys []string, values []int64) bool {
			forward := buildProps(keys, values, false)
			backward := buildProps(keys, values, true)
			// Duplicate keys resolve last-wins, so only compare when both
			// orders produced the same mapping.
			if len(forward) != len(backward) {
				return true
			}
			for k, v := range forward {
				if backward[k] != v {
					return true
				}
			}
			return MustContentDigest(elementType, forward, nil) == MustContentDigest(elementType, backward, nil)
		},
		gen.AlphaString(),
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.Int64()),
	))

	properties.Property("digest ignores provenance and timestamp", prop.ForAll(
		func(height int64, offset int64) bool {
			props := IRObject{"h": IRInt(height)}
			a, errA := Create("x", "Wall", props, nil, ProvenanceOrigin, t0)
			b, errB := Create("y", "Wall", props, nil, ProvenanceClient, t0.Add(time.Duration(offset)))
			if errA != nil || errB != nil {
				return false
			}
			return a.Digest == b.Digest
		},
		gen.Int64(),
		gen.Int64Range(0, int64(time.Hour)),
	))

	properties.Property("no-op change keeps version digest and timestamp", prop.ForAll(
		func(height int64) bool {
			obj, err := Create("w", "Wall", IRObject{"h": IRInt(height)}, nil, ProvenanceOrigin, t0)
			if err != nil {
				return false
			}
			next, err := obj.ApplyContentChange(ContentChange{Properties: IRObject{"h": IRInt(height)}}, ProvenanceClient, t0.Add(time.Hour))
			if err != nil {
				return false
			}
			return next.Version == obj.Version && next.Digest == obj.Digest && next.Timestamp.Equal(obj.Timestamp)
		},
		gen.Int64(),
	))

	properties.Property("accepted change bumps version by one", prop.ForAll(
		func(from, to int64) bool {
			obj, err := Create("w", "Wall", IRObject{"h": IRInt(from)}, nil, ProvenanceOrigin, t0)
			if err != nil {
				return false
			}
			next, err := obj.ApplyContentChange(ContentChange{Properties: IRObject{"h": IRInt(to)}}, ProvenanceClient, t0)
			if err != nil {
				return false
			}
			if from == to {
				return next.Version == obj.Version
			}
			return next.Version == obj.Version+1
		},
		gen.Int64Range(-5, 5),
		gen.Int64Range(-5, 5),
	))

	properties.TestingRun(t)
}
