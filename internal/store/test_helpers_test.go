package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/trisync/internal/ir"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore opens a fresh ledger in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestObject builds a version-1 wall with the given height.
func createTestObject(t *testing.T, id string, height int64) ir.VersionedObject {
	t.Helper()
	obj, err := ir.Create(id, "Wall",
		ir.IRObject{"h": ir.IRInt(height)},
		ir.IRObject{
			"type":        ir.IRString("LineString"),
			"coordinates": ir.IRArray{ir.Point(0, 0), ir.Point(10, 0)},
		},
		ir.ProvenanceOrigin, testNow)
	if err != nil {
		t.Fatalf("ir.Create() failed: %v", err)
	}
	return obj
}

// testEvent builds a minimal valid event.
func testEvent(passID, objectID string) ir.SyncEvent {
	return ir.SyncEvent{
		PassID:      passID,
		Timestamp:   testNow,
		Kind:        ir.EventCreate,
		ObjectID:    objectID,
		Source:      "origin",
		Destination: "ledger",
		Outcome:     "ok",
	}
}

// eventFor builds the event that accompanies committing obj.
func eventFor(passID string, kind ir.EventKind, obj ir.VersionedObject) ir.SyncEvent {
	ev := testEvent(passID, obj.ID)
	ev.Kind = kind
	ev.Digest = obj.Digest
	ev.Version = obj.Version
	return ev
}
