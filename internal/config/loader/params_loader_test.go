package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeParams(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParamsLoader_LoadsAndNormalizes(t *testing.T) {
	path := writeParams(t, `
universe: [btcusdt, ethusdt]
lookback: 5
top_k: 2
weight: 0.4
`)
	l, err := NewParamsLoader(path)
	require.NoError(t, err)

	snap := l.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, snap.Params.Universe)
	assert.Equal(t, 5, snap.Params.Lookback)
	assert.Equal(t, 2, snap.Params.TopK)
	assert.Equal(t, 0.4, snap.Params.Weight)
}

func TestParamsLoader_SchemaRejectsOutOfRangeWeight(t *testing.T) {
	path := writeParams(t, `
universe: [btcusdt]
lookback: 5
top_k: 1
weight: 1.5
`)
	_, err := NewParamsLoader(path)
	assert.Error(t, err)
}

func TestParamsLoader_SchemaRejectsMissingField(t *testing.T) {
	path := writeParams(t, `
universe: [btcusdt]
lookback: 5
weight: 0.5
`)
	_, err := NewParamsLoader(path)
	assert.Error(t, err)
}

func TestParamsLoader_RejectsUnknownField(t *testing.T) {
	path := writeParams(t, `
universe: [btcusdt]
lookback: 5
top_k: 1
weight: 0.5
leverage: 10
`)
	_, err := NewParamsLoader(path)
	assert.Error(t, err)
}
