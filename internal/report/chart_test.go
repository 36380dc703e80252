package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiver/internal/metrics"
)

func sampleInput() Input {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	equity := []metrics.EquityPoint{
		{At: base, Value: 100000},
		{At: base.AddDate(0, 0, 1), Value: 101000},
		{At: base.AddDate(0, 0, 2), Value: 99500},
		{At: base.AddDate(0, 0, 3), Value: 102000},
	}
	return Input{
		RunID:   "run-1",
		Title:   "Backtest BTCUSDT 1d",
		Equity:  equity,
		Summary: metrics.Compute(equity, 365),
	}
}

func TestBuildHTML_ContainsBothCharts(t *testing.T) {
	html, err := BuildHTML(sampleInput())
	require.NoError(t, err)
	s := string(html)
	assert.Contains(t, s, "Backtest BTCUSDT 1d")
	assert.Contains(t, s, "Drawdown")
	assert.Contains(t, s, "NAV")
}

func TestBuildHTML_EmptyEquityRejected(t *testing.T) {
	_, err := BuildHTML(Input{RunID: "x"})
	assert.Error(t, err)
}

func TestWriteHTML_CreatesFileNamedAfterRun(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteHTML(dir, sampleInput())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run-1.html"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestDrawdownSeries(t *testing.T) {
	eq := []metrics.EquityPoint{
		{Value: 100}, {Value: 120}, {Value: 90}, {Value: 110},
	}
	dd := drawdownSeries(eq)
	require.Len(t, dd, 4)
	assert.Equal(t, 0.0, dd[0])
	assert.Equal(t, 0.0, dd[1])
	assert.InDelta(t, 0.25, dd[2], 1e-9)
	assert.InDelta(t, 1.0/12.0, dd[3], 1e-9)
}
