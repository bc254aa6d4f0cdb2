package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trisync/internal/batch"
)

func TestWriteBatchRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	records := []batch.RawRecord{
		At(Wall("w1", 3), ts),
		Deleted("d1", "Door"),
		Record("", "Slab", map[string]any{"thickness": 0.3}),
	}

	for _, name := range []string{"batch.json", "batch.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := WriteBatch(t, t.TempDir(), name, records...)

			got, err := batch.LoadFile(path)
			require.NoError(t, err)
			require.Len(t, got, 3)

			assert.Equal(t, "w1", got[0].ID)
			require.NotNil(t, got[0].Timestamp)
			assert.True(t, got[0].Timestamp.Equal(ts))
			assert.True(t, got[1].Deleted)
			assert.Empty(t, got[2].ID)

			props, geom, err := got[0].Content()
			require.NoError(t, err)
			assert.Len(t, props, 1)
			assert.Len(t, geom, 2)
		})
	}
}

func TestWriteBatchEmpty(t *testing.T) {
	path := WriteBatch(t, t.TempDir(), "empty.json")

	got, err := batch.LoadFile(path)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOpenLedger(t *testing.T) {
	st, path := OpenLedger(t)
	assert.FileExists(t, path)

	id, err := st.LastPassID(t.Context())
	require.NoError(t, err)
	assert.Empty(t, id)
}
