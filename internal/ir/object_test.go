package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newWall(t *testing.T, height int64) VersionedObject {
	t.Helper()
	obj, err := Create("w1", "Wall", IRObject{"h": IRInt(height)}, wallGeometry(), ProvenanceOrigin, t0)
	require.NoError(t, err)
	return obj
}

func TestCreate(t *testing.T) {
	obj := newWall(t, 3)

	assert.Equal(t, "w1", obj.ID)
	assert.Equal(t, int64(1), obj.Version)
	assert.Equal(t, ProvenanceOrigin, obj.Provenance)
	assert.Equal(t, LifecycleActive, obj.Lifecycle)
	assert.Equal(t, t0, obj.Timestamp)
	assert.Equal(t, MustContentDigest("Wall", IRObject{"h": IRInt(3)}, wallGeometry()), obj.Digest)
	require.NoError(t, obj.Validate())
}

func TestCreateCopiesInput(t *testing.T) {
	props := IRObject{"h": IRInt(3)}
	obj, err := Create("w1", "Wall", props, nil, ProvenanceClient, t0)
	require.NoError(t, err)

	props["h"] = IRInt(99)
	assert.Equal(t, IRInt(3), obj.Properties["h"])
	assert.Equal(t, IRObject{}, obj.Geometry)
}

func TestApplyContentChangeBumpsVersion(t *testing.T) {
	obj := newWall(t, 3)
	later := t0.Add(time.Minute)

	next, err := obj.ApplyContentChange(ContentChange{Properties: IRObject{"h": IRInt(4)}}, ProvenanceClient, later)
	require.NoError(t, err)

	assert.Equal(t, int64(2), next.Version)
	assert.Equal(t, ProvenanceClient, next.Provenance)
	assert.Equal(t, later, next.Timestamp)
	assert.NotEqual(t, obj.Digest, next.Digest)
	assert.Equal(t, obj.Geometry, next.Geometry, "geometry left unchanged when not supplied")

	// Receiver untouched.
	assert.Equal(t, int64(1), obj.Version)
	assert.Equal(t, IRInt(3), obj.Properties["h"])
}

func TestApplyContentChangeNoOpIsIdempotent(t *testing.T) {
	obj := newWall(t, 3)

	// Same content, different insertion and a later clock.
	same := NewIRObjectFromPairs(O("h", IRFloat(3)))
	next, err := obj.ApplyContentChange(ContentChange{Properties: same}, ProvenanceClient, t0.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, obj.Version, next.Version)
	assert.Equal(t, obj.Digest, next.Digest)
	assert.Equal(t, obj.Timestamp, next.Timestamp)
	assert.Equal(t, obj.Provenance, next.Provenance)
}

func TestApplyContentChangeType(t *testing.T) {
	obj := newWall(t, 3)
	kind := "CurtainWall"

	next, err := obj.ApplyContentChange(ContentChange{Type: &kind}, ProvenanceOrigin, t0)
	require.NoError(t, err)
	assert.Equal(t, "CurtainWall", next.Type)
	assert.Equal(t, int64(2), next.Version)
}

func TestTombstonePreservesHistory(t *testing.T) {
	obj := newWall(t, 3)
	later := t0.Add(time.Minute)

	dead := obj.Tombstone(ProvenanceClient, later)

	assert.True(t, dead.IsTombstoned())
	assert.Equal(t, int64(2), dead.Version)
	assert.Equal(t, later, dead.Timestamp)
	assert.Equal(t, obj.Digest, dead.Digest)
	assert.Equal(t, obj.Properties, dead.Properties)
	assert.Equal(t, obj.Geometry, dead.Geometry)
	require.NoError(t, dead.Validate())

	again := dead.Tombstone(ProvenanceOrigin, later.Add(time.Minute))
	assert.Equal(t, dead, again, "tombstoning twice is a no-op")
}

func TestChangeKeySeesTombstones(t *testing.T) {
	obj := newWall(t, 3)
	dead := obj.Tombstone(ProvenanceOrigin, t0)

	assert.Equal(t, obj.Digest, obj.ChangeKey())
	assert.NotEqual(t, obj.ChangeKey(), dead.ChangeKey())
	assert.Equal(t, obj.Digest, dead.Digest)
}

func TestApplyContentChangeRevivesTombstone(t *testing.T) {
	dead := newWall(t, 3).Tombstone(ProvenanceOrigin, t0)

	// Same content still revives: lifecycle is part of the change.
	alive, err := dead.ApplyContentChange(ContentChange{}, ProvenanceClient, t0.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, LifecycleActive, alive.Lifecycle)
	assert.Equal(t, int64(3), alive.Version)
}

func TestValidate(t *testing.T) {
	good := newWall(t, 3)

	tests := []struct {
		name   string
		mutate func(o *VersionedObject)
		errMsg string
	}{
		{"missing id", func(o *VersionedObject) { o.ID = "" }, "id is required"},
		{"missing type", func(o *VersionedObject) { o.Type = "" }, "type is required"},
		{"zero version", func(o *VersionedObject) { o.Version = 0 }, "version"},
		{"bad provenance", func(o *VersionedObject) { o.Provenance = "robot" }, "provenance"},
		{"bad lifecycle", func(o *VersionedObject) { o.Lifecycle = "gone" }, "lifecycle"},
		{"stale digest", func(o *VersionedObject) { o.Properties = IRObject{"h": IRInt(9)} }, "digest mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := good
			tt.mutate(&o)
			err := o.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRecordFor(t *testing.T) {
	obj := newWall(t, 3)
	obj.ExternalID = "rvt-100"

	rec := RecordFor(obj)
	assert.Equal(t, obj.ID, rec.ID)
	assert.Equal(t, obj.Digest, rec.Digest)
	assert.Equal(t, obj.Version, rec.Version)
	assert.Equal(t, "rvt-100", rec.ExternalID)
	assert.Equal(t, obj, rec.Object)
}

func TestEventKinds(t *testing.T) {
	assert.True(t, EventConflictResolved.MutatesBaseline())
	assert.False(t, EventConflictUnresolved.MutatesBaseline())
	assert.False(t, EventError.MutatesBaseline())
	assert.True(t, EventDelete.Valid())
	assert.False(t, EventKind("rename").Valid())
}
