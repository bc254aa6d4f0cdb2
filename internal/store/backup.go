package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Backup writes a consistent copy of the ledger to dest.
//
// The copy is produced with VACUUM INTO a temporary file in dest's directory
// and then renamed over dest, so dest is either the previous file or a
// complete new copy, never a partial write.
func (s *Store) Backup(ctx context.Context, dest string) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".trisync-backup-*")
	if err != nil {
		return fmt.Errorf("backup: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	// VACUUM INTO accepts an existing file only if it is empty.
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("backup: close temp: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", tmpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("backup: vacuum into: %w", err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("backup: rename: %w", err)
	}
	return nil
}
