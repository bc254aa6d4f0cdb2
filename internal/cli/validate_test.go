package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trisync/internal/testutil"
)

func TestValidateValidFiles(t *testing.T) {
	dir := t.TempDir()
	a := testutil.WriteBatch(t, dir, "a.json", testutil.Wall("w1", 3))
	b := testutil.WriteBatch(t, dir, "b.yaml", testutil.Wall("w2", 4), testutil.Deleted("d1", "Door"))

	out, err := execute(t, testOptions(), "validate", a, b)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ "+a+" (1 records)")
	assert.Contains(t, out, "✓ "+b+" (2 records)")
}

func TestValidateReportsProblems(t *testing.T) {
	dir := t.TempDir()
	good := testutil.WriteBatch(t, dir, "good.json", testutil.Wall("w1", 3))
	bad := testutil.WriteBatch(t, dir, "bad.json",
		testutil.Wall("w1", 3),
		testutil.Wall("w1", 4),
		testutil.Record("w2", "", nil),
	)
	broken := filepath.Join(dir, "broken.toml")
	require.NoError(t, writeFile(broken, "x = 1"))

	out, err := execute(t, testOptions(), "validate", good, bad, broken)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "2 of 3 files invalid")
	assert.Contains(t, out, "✗ "+bad+" (3 records, 2 problems)")
	assert.Contains(t, out, "duplicate id w1 (first at [0])")
	assert.Contains(t, out, "[2] w2: type is required")
	assert.Contains(t, out, "✗ "+broken)

	out, err = execute(t, testOptions(), "validate", bad, "--format", "json")
	require.Error(t, err)
	resp := decodeResponse(t, out)
	assert.Equal(t, "error", resp["status"])
	files := resp["data"].([]any)
	require.Len(t, files, 1)
	assert.Equal(t, false, files[0].(map[string]any)["valid"])
	assert.Len(t, files[0].(map[string]any)["problems"], 2)
}

func TestValidateRequiresFile(t *testing.T) {
	_, err := execute(t, testOptions(), "validate")
	require.Error(t, err)
}
