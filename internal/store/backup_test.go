package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/roach88/trisync/internal/ir"
)

func TestBackup_ProducesOpenableCopy(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	commitObject(t, s, ir.EventCreate, createTestObject(t, "w1", 3), nil)

	dest := filepath.Join(t.TempDir(), "backup.db")
	if err := s.Backup(ctx, dest); err != nil {
		t.Fatalf("Backup() failed: %v", err)
	}

	copyStore, err := Open(dest)
	if err != nil {
		t.Fatalf("Open(backup) failed: %v", err)
	}
	defer copyStore.Close()

	rec, err := copyStore.Get(ctx, "w1")
	if err != nil {
		t.Fatalf("Get() on backup failed: %v", err)
	}
	if rec.Version != 1 {
		t.Errorf("backup record version = %d, want 1", rec.Version)
	}

	report, err := copyStore.VerifyReplay(ctx)
	if err != nil {
		t.Fatalf("VerifyReplay() on backup failed: %v", err)
	}
	if !report.Consistent() {
		t.Errorf("backup is not replay-consistent: %+v", report.Mismatches)
	}
}

func TestBackup_ReplacesExistingFileAndLeavesNoTemp(t *testing.T) {
	s := createTestStore(t)
	dir := t.TempDir()
	dest := filepath.Join(dir, "backup.db")

	if err := os.WriteFile(dest, []byte("stale"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.Backup(t.Context(), dest); err != nil {
		t.Fatalf("Backup() failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "backup.db" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory after backup = %v, want only backup.db", names)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) == "stale" {
		t.Error("backup did not replace the existing file")
	}
}

func TestBackup_MissingDirectory(t *testing.T) {
	s := createTestStore(t)

	if err := s.Backup(t.Context(), filepath.Join(t.TempDir(), "nope", "backup.db")); err == nil {
		t.Error("expected error for missing destination directory")
	}
}
