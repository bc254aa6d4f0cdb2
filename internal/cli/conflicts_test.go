package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trisync/internal/testutil"
)

// manualConflict leaves w1 (baseline h3) with an open conflict between
// origin h4 and client h5. Returns the options and ledger path to reuse.
func manualConflict(t *testing.T) (*RootOptions, string) {
	t.Helper()
	dir := t.TempDir()
	ledger := filepath.Join(dir, "trisync.db")
	opts := testOptions()

	first := testutil.WriteBatch(t, dir, "first.json", testutil.Wall("w1", 3))
	_, err := execute(t, opts, "sync", "--db", ledger, "--origin", first)
	require.NoError(t, err)

	origin := testutil.WriteBatch(t, dir, "origin.json", testutil.Wall("w1", 4))
	client := testutil.WriteBatch(t, dir, "client.yaml", testutil.Wall("w1", 5))
	out, err := execute(t, opts, "sync", "--db", ledger, "--origin", origin, "--client", client,
		"--strategy", "Manual")
	require.NoError(t, err)
	require.Contains(t, out, "! Pass id-2 (Manual): partial")
	require.Contains(t, out, "Pending conflicts: w1")

	return opts, ledger
}

func TestConflictsListText(t *testing.T) {
	opts, ledger := manualConflict(t)

	out, err := execute(t, opts, "conflicts", "list", "--db", ledger)
	require.NoError(t, err)
	assert.Contains(t, out, "w1 (pass id-2, baseline v1)")
	assert.Contains(t, out, "origin: v2 active")
	assert.Contains(t, out, "client: v2 active")
}

func TestConflictsListJSON(t *testing.T) {
	opts, ledger := manualConflict(t)

	out, err := execute(t, opts, "conflicts", "list", "--db", ledger, "--format", "json")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	list := resp["data"].([]any)
	require.Len(t, list, 1)
	c := list[0].(map[string]any)
	assert.Equal(t, "w1", c["object_id"])
	assert.Equal(t, float64(4), c["origin"].(map[string]any)["properties"].(map[string]any)["h"])
	assert.Equal(t, float64(5), c["client"].(map[string]any)["properties"].(map[string]any)["h"])
	assert.Equal(t, float64(1), c["original"].(map[string]any)["version"])
}

func TestConflictsResolve(t *testing.T) {
	opts, ledger := manualConflict(t)

	out, err := execute(t, opts, "conflicts", "resolve", "--db", ledger, "--id", "w1", "--choose", "client")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ w1 resolved for client: v3 merged")

	out, err = execute(t, opts, "conflicts", "list", "--db", ledger)
	require.NoError(t, err)
	assert.Contains(t, out, "No pending conflicts.")

	_, err = execute(t, opts, "conflicts", "resolve", "--db", ledger, "--id", "w1", "--choose", "client")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "no pending conflict for w1")

	out, err = execute(t, opts, "verify", "--db", ledger)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Replay consistent")
}

func TestConflictsResolveRejectsBadSide(t *testing.T) {
	opts, ledger := manualConflict(t)

	_, err := execute(t, opts, "conflicts", "resolve", "--db", ledger, "--id", "w1", "--choose", "both")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid --choose")
}

func TestConflictsListEmpty(t *testing.T) {
	out, err := execute(t, testOptions(), "conflicts", "list", "--db", filepath.Join(t.TempDir(), "l.db"))
	require.NoError(t, err)
	assert.Equal(t, "No pending conflicts.\n", out)
}
