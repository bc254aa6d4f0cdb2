package store

import (
	"errors"
	"testing"

	"github.com/roach88/trisync/internal/ir"
)

func TestGet_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Get(t.Context(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestGet_RoundTripsObject(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	obj, err := ir.Create("s1", "Slab",
		ir.IRObject{
			"thickness": ir.IRFloat(0.25),
			"big":       ir.IRInt(9007199254740993), // 2^53 + 1
			"note":      ir.IRNull{},
			"tags":      ir.IRArray{ir.IRString("structural"), ir.IRBool(true)},
		},
		ir.IRObject{
			"type":        ir.IRString("Polygon"),
			"coordinates": ir.IRArray{ir.IRArray{ir.Point(0, 0), ir.Point(5.5, 0), ir.Point(5.5, 3), ir.Point(0, 0)}},
		},
		ir.ProvenanceClient, testNow)
	if err != nil {
		t.Fatalf("ir.Create() failed: %v", err)
	}
	if err := s.Put(ctx, ir.RecordFor(obj), "", 0); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	rec, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if err := rec.Object.Validate(); err != nil {
		t.Errorf("stored object no longer validates: %v", err)
	}
	if rec.Object.Properties["big"] != ir.IRInt(9007199254740993) {
		t.Errorf("big = %v, precision lost", rec.Object.Properties["big"])
	}
	if _, ok := rec.Object.Properties["note"].(ir.IRNull); !ok {
		t.Errorf("note = %T, want IRNull", rec.Object.Properties["note"])
	}
	if !rec.Timestamp.Equal(testNow) || !rec.Object.Timestamp.Equal(testNow) {
		t.Errorf("timestamps = %v / %v, want %v", rec.Timestamp, rec.Object.Timestamp, testNow)
	}
}

func TestGet_DetectsCorruptRow(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	obj := createTestObject(t, "w1", 3)
	if err := s.Put(ctx, ir.RecordFor(obj), "", 0); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	if _, err := s.db.Exec("UPDATE ledger_records SET digest = 'tampered' WHERE id = 'w1'"); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	if _, err := s.Get(ctx, "w1"); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Get() on corrupt row error = %v, want corruption error", err)
	}
}

func TestRecords_OrderedByID(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	empty, err := s.Records(ctx)
	if err != nil {
		t.Fatalf("Records() failed: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("Records() on empty ledger = %#v, want empty non-nil slice", empty)
	}

	for _, id := range []string{"w3", "w1", "w2"} {
		if err := s.Put(ctx, ir.RecordFor(createTestObject(t, id, 3)), "", 0); err != nil {
			t.Fatalf("Put(%s) failed: %v", id, err)
		}
	}

	records, err := s.Records(ctx)
	if err != nil {
		t.Fatalf("Records() failed: %v", err)
	}
	var ids []string
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	if len(ids) != 3 || ids[0] != "w1" || ids[1] != "w2" || ids[2] != "w3" {
		t.Errorf("Records() order = %v, want [w1 w2 w3]", ids)
	}
}

func TestEvents_Filters(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	seed := []ir.SyncEvent{
		testEvent("p1", "w1"),
		testEvent("p1", "w2"),
		testEvent("p2", "w1"),
	}
	seed[2].Kind = ir.EventUpdate
	for _, ev := range seed {
		if _, err := s.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent() failed: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter EventFilter
		want   int
	}{
		{"all", EventFilter{}, 3},
		{"by object", EventFilter{ObjectID: "w1"}, 2},
		{"by pass", EventFilter{PassID: "p1"}, 2},
		{"by kind", EventFilter{Kind: ir.EventUpdate}, 1},
		{"combined", EventFilter{ObjectID: "w1", PassID: "p1"}, 1},
		{"after seq", EventFilter{AfterSeq: 1}, 2},
		{"limit", EventFilter{Limit: 1}, 1},
		{"no match", EventFilter{ObjectID: "nope"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := s.Events(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Events() failed: %v", err)
			}
			if events == nil {
				t.Fatal("Events() returned nil, want empty slice")
			}
			if len(events) != tt.want {
				t.Errorf("Events(%+v) = %d events, want %d", tt.filter, len(events), tt.want)
			}
			for i := 1; i < len(events); i++ {
				if events[i].Seq <= events[i-1].Seq {
					t.Errorf("events not in seq order: %d after %d", events[i].Seq, events[i-1].Seq)
				}
			}
		})
	}
}
