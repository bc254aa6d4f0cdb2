package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "one create"
steps:
  - origin:
      - { id: w1, type: Wall, properties: { h: 3 } }
assertions:
  - type: replay_consistent
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "minimal", scenario.Name)
	require.Len(t, scenario.Steps, 1)
	require.Len(t, scenario.Steps[0].Origin, 1)
	assert.Equal(t, "w1", scenario.Steps[0].Origin[0].ID)
	assert.Equal(t, 3, scenario.Steps[0].Origin[0].Properties["h"])
	assert.False(t, scenario.Steps[0].IsDecision())
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_RepositoryScenarios(t *testing.T) {
	paths, err := filepath.Glob("../../testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			_, err := LoadScenario(path)
			require.NoError(t, err)
		})
	}
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown field",
			content: minimalScenario + "flow_token: abc\n",
			wantErr: "failed to parse YAML",
		},
		{
			name: "missing name",
			content: `
description: d
steps: [{ origin: [] }]
assertions: [{ type: replay_consistent }]
`,
			wantErr: "name is required",
		},
		{
			name: "no steps",
			content: `
name: n
description: d
assertions: [{ type: replay_consistent }]
`,
			wantErr: "steps list is required",
		},
		{
			name: "unknown strategy",
			content: `
name: n
description: d
strategy: coin_flip
steps: [{ origin: [] }]
assertions: [{ type: replay_consistent }]
`,
			wantErr: "strategy",
		},
		{
			name: "resolve mixed with pass",
			content: `
name: n
description: d
steps:
  - origin: [{ id: w1, type: Wall }]
    resolve: [{ object: w1, choose: client }]
assertions: [{ type: replay_consistent }]
`,
			wantErr: "resolve cannot be combined",
		},
		{
			name: "bad side",
			content: `
name: n
description: d
steps:
  - resolve: [{ object: w1, choose: both }]
assertions: [{ type: replay_consistent }]
`,
			wantErr: "unknown side",
		},
		{
			name: "unknown count",
			content: `
name: n
description: d
steps:
  - origin: []
    expect: { counts: { merged: 1 } }
assertions: [{ type: replay_consistent }]
`,
			wantErr: `unknown count "merged"`,
		},
		{
			name: "unknown assertion",
			content: `
name: n
description: d
steps: [{ origin: [] }]
assertions: [{ type: trace_contains }]
`,
			wantErr: "unknown assertion type",
		},
		{
			name: "event_count without kind",
			content: `
name: n
description: d
steps: [{ origin: [] }]
assertions: [{ type: event_count, count: 1 }]
`,
			wantErr: "valid kind is required",
		},
		{
			name: "final_object unknown field",
			content: `
name: n
description: d
steps: [{ origin: [] }]
assertions: [{ type: final_object, object: w1, expect: { digest: abc } }]
`,
			wantErr: `unknown final_object field "digest"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
