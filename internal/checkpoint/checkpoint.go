// Package checkpoint saves and restores zstd-compressed snapshots of the
// ledger's object set.
//
// A snapshot holds every baseline object at a point in time. Restoring it
// into an empty ledger rebuilds the records and writes one event per object,
// so the restored ledger passes replay verification.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/roach88/trisync/internal/ir"
	"github.com/roach88/trisync/internal/store"
)

// Extension is the file suffix of snapshot files.
const Extension = ".tsnap.zst"

// ErrNotEmpty is returned when restoring into a ledger that already has records.
var ErrNotEmpty = errors.New("ledger is not empty")

// ErrFormat is returned for snapshots written by an incompatible ledger format.
var ErrFormat = errors.New("unsupported snapshot format")

// Snapshot is the decoded content of a snapshot file.
type Snapshot struct {
	FormatVersion string               `json:"format_version"`
	EngineVersion string               `json:"engine_version"`
	CreatedAt     time.Time            `json:"created_at"`
	LastPassID    string               `json:"last_pass_id,omitempty"`
	Objects       []ir.VersionedObject `json:"objects"`
}

// Source is the read side of a ledger. *store.Store satisfies it.
type Source interface {
	Records(ctx context.Context) ([]ir.LedgerRecord, error)
	LastPassID(ctx context.Context) (string, error)
}

// Target is the write side of a ledger. *store.Store satisfies it.
type Target interface {
	Records(ctx context.Context) ([]ir.LedgerRecord, error)
	Commit(ctx context.Context, req store.CommitRequest) (int64, error)
}

var (
	_ Source = (*store.Store)(nil)
	_ Target = (*store.Store)(nil)
)

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

// FileName returns the conventional snapshot file name for a pass.
func FileName(passID string) string {
	return "checkpoint-" + passID + Extension
}

// Take reads the object set from src.
func Take(ctx context.Context, src Source, now time.Time) (Snapshot, error) {
	records, err := src.Records(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("take snapshot: %w", err)
	}
	lastPass, err := src.LastPassID(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("take snapshot: %w", err)
	}

	objects := make([]ir.VersionedObject, 0, len(records))
	for _, rec := range records {
		objects = append(objects, rec.Object)
	}
	return Snapshot{
		FormatVersion: ir.LedgerFormatVersion,
		EngineVersion: ir.EngineVersion,
		CreatedAt:     now.UTC(),
		LastPassID:    lastPass,
		Objects:       objects,
	}, nil
}

// Save takes a snapshot of src and writes it to path atomically.
func Save(ctx context.Context, src Source, path string, now time.Time) (Snapshot, error) {
	snap, err := Take(ctx, src, now)
	if err != nil {
		return Snapshot{}, err
	}
	if err := Write(path, snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Write encodes snap to path via a temp file in the same directory and a
// rename, so a crash never leaves a truncated snapshot behind.
func Write(path string, snap Snapshot) (err error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	compressed := encoder.EncodeAll(data, make([]byte, 0, len(data)/4))

	tmp, err := os.CreateTemp(filepath.Dir(path), ".trisync-snap-*")
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(compressed); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("write snapshot: sync: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Load reads and validates the snapshot at path. Every object must pass
// ir.VersionedObject.Validate, which recomputes its digest.
func Load(path string) (Snapshot, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	data, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot %s: decompress: %w", path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot %s: decode: %w", path, err)
	}
	if snap.FormatVersion != ir.LedgerFormatVersion {
		return Snapshot{}, fmt.Errorf("load snapshot %s: format %q: %w", path, snap.FormatVersion, ErrFormat)
	}

	seen := make(map[string]bool, len(snap.Objects))
	for _, obj := range snap.Objects {
		if err := obj.Validate(); err != nil {
			return Snapshot{}, fmt.Errorf("load snapshot %s: %w", path, err)
		}
		if seen[obj.ID] {
			return Snapshot{}, fmt.Errorf("load snapshot %s: duplicate object %s", path, obj.ID)
		}
		seen[obj.ID] = true
	}
	if snap.Objects == nil {
		snap.Objects = []ir.VersionedObject{}
	}
	return snap, nil
}

// Restore writes every object of snap into dst, which must be empty. Each
// object gets a create event (delete for tombstones) attributed to the
// checkpoint. Returns the number of objects restored.
func Restore(ctx context.Context, dst Target, snap Snapshot, now time.Time) (int, error) {
	existing, err := dst.Records(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore: %w", err)
	}
	if len(existing) > 0 {
		return 0, fmt.Errorf("restore: %d records present: %w", len(existing), ErrNotEmpty)
	}

	passID := "checkpoint:" + snap.CreatedAt.UTC().Format(time.RFC3339)
	for i, obj := range snap.Objects {
		kind := ir.EventCreate
		if obj.IsTombstoned() {
			kind = ir.EventDelete
		}
		rec := ir.RecordFor(obj)
		_, err := dst.Commit(ctx, store.CommitRequest{
			Record: &rec,
			Event: ir.SyncEvent{
				PassID:      passID,
				Timestamp:   now.UTC(),
				Kind:        kind,
				ObjectID:    obj.ID,
				Source:      "checkpoint",
				Destination: "ledger",
				Outcome:     "restored",
				Detail:      fmt.Sprintf("restored from snapshot of pass %s", snap.LastPassID),
				Digest:      obj.Digest,
				Version:     obj.Version,
			},
		})
		if err != nil {
			return i, fmt.Errorf("restore %s: %w", obj.ID, err)
		}
	}
	return len(snap.Objects), nil
}
