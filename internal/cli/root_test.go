package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trisync/internal/engine"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// testOptions pins the clock and the id source. Reuse one value across the
// commands of a test so pass ids stay unique in the shared ledger.
func testOptions() *RootOptions {
	return &RootOptions{
		Now: engine.NewSteppingClock(testEpoch, time.Second).Now,
		IDs: engine.NewSequenceGenerator("id"),
	}
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommandWithOptions(opts)
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// decodeResponse parses a JSON CLI response.
func decodeResponse(t *testing.T, out string) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "trisync", cmd.Use)
	assert.Contains(t, cmd.Long, "TRISYNC_")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"sync"}, {"objects"}, {"events"}, {"passes"},
		{"conflicts", "list"}, {"conflicts", "resolve"},
		{"backup"}, {"checkpoint", "save"}, {"checkpoint", "restore"},
		{"verify"}, {"validate"}, {"test"},
	}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestLedgerCommandsHaveDBFlag(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{
		{"sync"}, {"objects"}, {"events"}, {"passes"}, {"conflicts", "list"},
		{"conflicts", "resolve"}, {"backup"}, {"checkpoint", "save"},
		{"checkpoint", "restore"}, {"verify"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err)
		dbFlag := sub.Flags().Lookup("db")
		require.NotNil(t, dbFlag, "%v", path)
		assert.Equal(t, "", dbFlag.DefValue, "default comes from config")
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, testOptions(), "passes", "--format", "xml", "--db", t.TempDir()+"/l.db")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestConfigFileSuppliesLedger(t *testing.T) {
	dir := t.TempDir()
	ledger := dir + "/from-config.db"
	cfgPath := dir + "/trisync.yaml"
	require.NoError(t, writeFile(cfgPath, "db: "+ledger+"\nstrategy: manual\n"))

	opts := testOptions()
	out, err := execute(t, opts, "passes", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No passes.")
	assert.FileExists(t, ledger)
}

func TestInvalidConfigIsCommandError(t *testing.T) {
	t.Setenv("TRISYNC_STRATEGY", "coin_flip")
	_, err := execute(t, testOptions(), "passes", "--db", t.TempDir()+"/l.db")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}
