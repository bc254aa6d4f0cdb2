package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trisync/internal/ir"
	"github.com/roach88/trisync/internal/store"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// populate commits w1 (active, v2) and d1 (tombstoned) plus a pass summary.
func populate(t *testing.T, s *store.Store) {
	t.Helper()
	ctx := t.Context()

	w1, err := ir.Create("w1", "Wall",
		ir.IRObject{"h": ir.IRInt(3), "ratio": ir.IRFloat(0.5)},
		ir.IRObject{"type": ir.IRString("LineString"), "coordinates": ir.IRArray{ir.Point(0, 0), ir.Point(10, 0)}},
		ir.ProvenanceOrigin, t0)
	require.NoError(t, err)
	w1.ExternalID = "rvt-1"
	w1v2, err := w1.ApplyContentChange(ir.ContentChange{Properties: ir.IRObject{"h": ir.IRInt(4), "ratio": ir.IRFloat(0.5)}}, ir.ProvenanceClient, t0.Add(time.Minute))
	require.NoError(t, err)

	d1, err := ir.Create("d1", "Door", nil, nil, ir.ProvenanceOrigin, t0)
	require.NoError(t, err)
	d1gone := d1.Tombstone(ir.ProvenanceOrigin, t0.Add(time.Minute))

	commit := func(obj ir.VersionedObject, base *ir.VersionedObject, kind ir.EventKind) {
		rec := ir.RecordFor(obj)
		req := store.CommitRequest{
			Record: &rec,
			Event: ir.SyncEvent{
				PassID: "p1", Timestamp: t0, Kind: kind, ObjectID: obj.ID,
				Source: "origin", Destination: "ledger", Outcome: "ok",
				Digest: obj.Digest, Version: obj.Version,
			},
		}
		if base != nil {
			req.ExpectedDigest = base.Digest
			req.ExpectedVersion = base.Version
		}
		_, err := s.Commit(ctx, req)
		require.NoError(t, err)
	}
	commit(w1, nil, ir.EventCreate)
	commit(w1v2, &w1, ir.EventUpdate)
	commit(d1, nil, ir.EventCreate)
	commit(d1gone, &d1, ir.EventDelete)

	require.NoError(t, s.RecordPass(ctx, ir.PassSummary{
		PassID: "p1", StartedAt: t0, FinishedAt: t0, Strategy: "LastWriteWins", Status: ir.PassSuccess,
	}))
}

func TestSaveLoadRestore(t *testing.T) {
	src := openStore(t)
	populate(t, src)

	path := filepath.Join(t.TempDir(), FileName("p1"))
	snap, err := Save(t.Context(), src, path, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "p1", snap.LastPassID)
	assert.Len(t, snap.Objects, 2)
	assert.Equal(t, ir.LedgerFormatVersion, snap.FormatVersion)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, snap.LastPassID, loaded.LastPassID)
	assert.True(t, snap.CreatedAt.Equal(loaded.CreatedAt))
	require.Len(t, loaded.Objects, 2)
	for i := range snap.Objects {
		assert.Equal(t, snap.Objects[i].Digest, loaded.Objects[i].Digest)
		assert.Equal(t, snap.Objects[i].Version, loaded.Objects[i].Version)
		assert.Equal(t, snap.Objects[i].Lifecycle, loaded.Objects[i].Lifecycle)
	}

	dst := openStore(t)
	n, err := Restore(t.Context(), dst, loaded, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	w1, err := dst.Get(t.Context(), "w1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), w1.Version)
	assert.Equal(t, ir.IRInt(4), w1.Object.Properties["h"])
	assert.Equal(t, ir.IRFloat(0.5), w1.Object.Properties["ratio"])

	id, err := dst.LookupExternal(t.Context(), "rvt-1")
	require.NoError(t, err)
	assert.Equal(t, "w1", id, "external mapping restored")

	d1, err := dst.Get(t.Context(), "d1")
	require.NoError(t, err)
	assert.Equal(t, ir.LifecycleTombstoned, d1.Lifecycle)

	deletes, err := dst.Events(t.Context(), store.EventFilter{Kind: ir.EventDelete})
	require.NoError(t, err)
	require.Len(t, deletes, 1)
	assert.Equal(t, "checkpoint", deletes[0].Source)

	report, err := dst.VerifyReplay(t.Context())
	require.NoError(t, err)
	assert.True(t, report.Consistent(), "%+v", report.Mismatches)
}

func TestRestoreRequiresEmptyLedger(t *testing.T) {
	s := openStore(t)
	populate(t, s)

	snap, err := Take(t.Context(), s, t0)
	require.NoError(t, err)

	_, err = Restore(t.Context(), s, snap, t0)
	assert.ErrorIs(t, err, ErrNotEmpty)
}

func TestSaveEmptyLedger(t *testing.T) {
	s := openStore(t)
	path := filepath.Join(t.TempDir(), "empty"+Extension)

	snap, err := Save(t.Context(), s, path, t0)
	require.NoError(t, err)
	assert.Empty(t, snap.LastPassID)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.NotNil(t, loaded.Objects)
	assert.Empty(t, loaded.Objects)
}

func TestWriteReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap"+Extension)
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	require.NoError(t, Write(path, Snapshot{FormatVersion: ir.LedgerFormatVersion, CreatedAt: t0}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	_, err = Load(path)
	require.NoError(t, err)
}

func writeRaw(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "raw"+Extension)
	require.NoError(t, os.WriteFile(path, enc.EncodeAll(data, nil), 0o644))
	return path
}

func TestLoadRejectsBadSnapshots(t *testing.T) {
	t.Run("not zstd", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plain"+Extension)
		require.NoError(t, os.WriteFile(path, []byte(`{"objects":[]}`), 0o644))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("future format", func(t *testing.T) {
		path := writeRaw(t, map[string]any{"format_version": "99", "objects": []any{}})
		_, err := Load(path)
		assert.ErrorIs(t, err, ErrFormat)
	})

	t.Run("tampered digest", func(t *testing.T) {
		obj, err := ir.Create("w1", "Wall", ir.IRObject{"h": ir.IRInt(3)}, nil, ir.ProvenanceOrigin, t0)
		require.NoError(t, err)
		obj.Properties["h"] = ir.IRInt(99)
		path := writeRaw(t, Snapshot{FormatVersion: ir.LedgerFormatVersion, Objects: []ir.VersionedObject{obj}})
		_, err = Load(path)
		assert.ErrorContains(t, err, "digest mismatch")
	})

	t.Run("duplicate ids", func(t *testing.T) {
		obj, err := ir.Create("w1", "Wall", nil, nil, ir.ProvenanceOrigin, t0)
		require.NoError(t, err)
		path := writeRaw(t, Snapshot{FormatVersion: ir.LedgerFormatVersion, Objects: []ir.VersionedObject{obj, obj}})
		_, err = Load(path)
		assert.ErrorContains(t, err, "duplicate object w1")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope"+Extension))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
