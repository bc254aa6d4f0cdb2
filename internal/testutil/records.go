package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/roach88/trisync/internal/batch"
)

// Record builds a batch record with the given properties and no geometry.
func Record(id, elementType string, properties map[string]any) batch.RawRecord {
	return batch.RawRecord{ID: id, Type: elementType, Properties: properties}
}

// Wall builds a Wall record of height h along (0,0)-(10,0).
func Wall(id string, h int) batch.RawRecord {
	return batch.RawRecord{
		ID:         id,
		Type:       "Wall",
		Properties: map[string]any{"h": h},
		Geometry: map[string]any{
			"type":        "LineString",
			"coordinates": []any{[]any{0, 0}, []any{10, 0}},
		},
	}
}

// At returns rec stamped with ts.
func At(rec batch.RawRecord, ts time.Time) batch.RawRecord {
	ts = ts.UTC()
	rec.Timestamp = &ts
	return rec
}

// Deleted builds a delete record for id.
func Deleted(id, elementType string) batch.RawRecord {
	return batch.RawRecord{ID: id, Type: elementType, Deleted: true}
}

// WriteBatch writes records to dir/name as JSON or YAML, by extension, and
// returns the path.
func WriteBatch(t testing.TB, dir, name string, records ...batch.RawRecord) string {
	t.Helper()
	if records == nil {
		records = []batch.RawRecord{}
	}

	format, err := batch.FormatFor(name)
	if err != nil {
		t.Fatalf("write batch: %v", err)
	}
	var data []byte
	switch format {
	case batch.FormatYAML:
		data, err = yaml.Marshal(records)
	default:
		data, err = json.Marshal(records)
	}
	if err != nil {
		t.Fatalf("encode batch %s: %v", name, err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write batch %s: %v", name, err)
	}
	return path
}
