package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trisync/internal/checkpoint"
	"github.com/roach88/trisync/internal/store"
)

func TestBackup(t *testing.T) {
	opts, ledger := seededLedger(t)
	dest := filepath.Join(t.TempDir(), "copy.db")

	out, err := execute(t, opts, "backup", "--db", ledger, "--dest", dest)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Ledger backed up to "+dest)

	copied, err := store.Open(dest)
	require.NoError(t, err)
	defer copied.Close()
	records, err := copied.Records(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)

	_, err = execute(t, opts, "backup", "--db", ledger, "--dest", ledger)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCheckpointSaveAndRestore(t *testing.T) {
	opts, ledger := seededLedger(t)
	snapPath := filepath.Join(t.TempDir(), "snap"+checkpoint.Extension)

	out, err := execute(t, opts, "checkpoint", "save", "--db", ledger, "--out", snapPath)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Saved 2 objects to "+snapPath)

	fresh := filepath.Join(t.TempDir(), "fresh.db")
	out, err = execute(t, opts, "checkpoint", "restore", "--db", fresh, "--from", snapPath, "--format", "json")
	require.NoError(t, err)
	data := decodeResponse(t, out)["data"].(map[string]any)
	assert.Equal(t, float64(2), data["objects"])
	assert.Equal(t, "id-2", data["last_pass_id"])

	out, err = execute(t, opts, "verify", "--db", fresh)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Replay consistent: 2 records")

	_, err = execute(t, opts, "checkpoint", "restore", "--db", fresh, "--from", snapPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, checkpoint.ErrNotEmpty)
}

func TestCheckpointSaveDefaultsToCheckpointDir(t *testing.T) {
	opts, ledger := seededLedger(t)
	dir := t.TempDir()

	_, err := execute(t, opts, "checkpoint", "save", "--db", ledger, "--checkpoint-dir", dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, checkpoint.FileName("id-2")))
}

func TestCheckpointRestoreMissingFile(t *testing.T) {
	_, err := execute(t, testOptions(), "checkpoint", "restore",
		"--db", filepath.Join(t.TempDir(), "l.db"), "--from", "/nonexistent/snap.tsnap.zst")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load checkpoint")
}

func TestVerifyDetectsTampering(t *testing.T) {
	opts, ledger := seededLedger(t)

	st, err := store.Open(ledger)
	require.NoError(t, err)
	_, err = st.DB().Exec(`UPDATE ledger_records SET version = version + 5 WHERE id = 'w1'`)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(t, opts, "verify", "--db", ledger)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Replay inconsistent")
	assert.Contains(t, out, "w1: ")

	out, err = execute(t, opts, "verify", "--db", ledger, "--format", "json")
	require.Error(t, err)
	resp := decodeResponse(t, out)
	assert.Equal(t, "error", resp["status"])
	assert.Equal(t, ErrCodeReplay, resp["error"].(map[string]any)["code"])
}
