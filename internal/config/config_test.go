package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trisync/internal/conflict"
)

func TestFromSettingsDefaults(t *testing.T) {
	cfg, err := FromSettings(map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, "trisync.db", cfg.LedgerPath)
	assert.Equal(t, conflict.LastWriteWins, cfg.Strategy)
	assert.Equal(t, 300*time.Second, cfg.WaitTimeout)
	assert.Empty(t, cfg.OutputPath)
	assert.Empty(t, cfg.CheckpointDir)
}

func TestFromSettingsNormalizesStrategy(t *testing.T) {
	cfg, err := FromSettings(map[string]any{KeyStrategy: "origin_priority"})
	require.NoError(t, err)
	assert.Equal(t, conflict.OriginPriority, cfg.Strategy)
}

func TestFromSettingsRejects(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
	}{
		{"unknown strategy", map[string]any{KeyStrategy: "coin_flip"}},
		{"empty ledger path", map[string]any{KeyLedger: ""}},
		{"negative wait", map[string]any{KeyWaitTimeout: "-5s"}},
		{"wait without unit", map[string]any{KeyWaitTimeout: "90"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromSettings(tt.settings)
			require.Error(t, err)
			assert.True(t, IsConfigError(err), "got %v", err)
		})
	}
}

func TestLoadLayering(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "trisync.yaml")
	require.NoError(t, os.WriteFile(file, []byte(
		"db: from-file.db\nstrategy: Manual\nwait-timeout: 45s\ncheckpoint-dir: snaps\n"), 0o644))

	t.Setenv("TRISYNC_STRATEGY", "OriginPriority")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String(KeyLedger, "", "")
	flags.String(KeyOutput, "", "")
	require.NoError(t, flags.Parse([]string{"--db", "from-flag.db"}))

	v := New()
	require.NoError(t, v.BindPFlags(flags))
	v.Set(KeyConfigFile, file)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "from-flag.db", cfg.LedgerPath, "flag beats file")
	assert.Equal(t, conflict.OriginPriority, cfg.Strategy, "env beats file")
	assert.Equal(t, 45*time.Second, cfg.WaitTimeout, "file beats default")
	assert.Equal(t, "snaps", cfg.CheckpointDir)
	assert.Empty(t, cfg.OutputPath, "unset flag is not a setting")
}

func TestLoadMissingFile(t *testing.T) {
	v := New()
	v.Set(KeyConfigFile, filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load(v)
	require.Error(t, err)
	assert.False(t, IsConfigError(err))
}

func TestLoadInvalidEnv(t *testing.T) {
	t.Setenv("TRISYNC_WAIT_TIMEOUT", "soon")

	_, err := Load(New())
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}
