package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiver/internal/market"
)

func testCandles(n int, startTS, stepMillis int64) []market.Candle {
	out := make([]market.Candle, n)
	for i := 0; i < n; i++ {
		open := startTS + int64(i)*stepMillis
		price := 100 + float64(i)
		out[i] = market.Candle{
			OpenTime:  open,
			CloseTime: open + stepMillis - 1,
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price + 0.5,
			Volume:    10,
		}
	}
	return out
}

func TestCandleStore_InsertAndRange(t *testing.T) {
	cs, err := NewCandleStore(t.TempDir())
	require.NoError(t, err)
	defer cs.Close()

	ctx := context.Background()
	candles := testCandles(5, 1000, 100)
	inserted, err := cs.InsertCandles(ctx, "btcusdt", "1d", candles)
	require.NoError(t, err)
	assert.Equal(t, 5, inserted)

	got, err := cs.RangeCandles(ctx, "BTCUSDT", "1d", 1100, 1300)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(1100), got[0].OpenTime)
	assert.Equal(t, int64(1300), got[2].OpenTime)
}

func TestCandleStore_UpsertOverwritesSameOpenTime(t *testing.T) {
	cs, err := NewCandleStore(t.TempDir())
	require.NoError(t, err)
	defer cs.Close()

	ctx := context.Background()
	first := testCandles(1, 1000, 100)
	_, err = cs.InsertCandles(ctx, "ETHUSDT", "1h", first)
	require.NoError(t, err)

	first[0].Close = 999
	_, err = cs.InsertCandles(ctx, "ETHUSDT", "1h", first)
	require.NoError(t, err)

	got, err := cs.RangeCandles(ctx, "ETHUSDT", "1h", 1000, 2000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 999.0, got[0].Close)
}

func TestCandleStore_RecentCandlesAscendingTail(t *testing.T) {
	cs, err := NewCandleStore(t.TempDir())
	require.NoError(t, err)
	defer cs.Close()

	ctx := context.Background()
	_, err = cs.InsertCandles(ctx, "BTCUSDT", "1m", testCandles(10, 1000, 100))
	require.NoError(t, err)

	got, err := cs.RecentCandles(ctx, "BTCUSDT", "1m", 1700, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// 升序的最后三根，且不越过 until
	assert.Equal(t, int64(1500), got[0].OpenTime)
	assert.Equal(t, int64(1600), got[1].OpenTime)
	assert.Equal(t, int64(1700), got[2].OpenTime)
}

func TestCandleStore_ManifestTracksBounds(t *testing.T) {
	cs, err := NewCandleStore(t.TempDir())
	require.NoError(t, err)
	defer cs.Close()

	ctx := context.Background()
	_, err = cs.InsertCandles(ctx, "btcusdt", "1d", testCandles(4, 5000, 100))
	require.NoError(t, err)

	m, err := cs.Manifest(ctx, "BTCUSDT", "1d")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", m.Symbol)
	assert.Equal(t, "1d", m.Timeframe)
	assert.Equal(t, int64(5000), m.MinTime)
	assert.Equal(t, int64(5300), m.MaxTime)
	assert.Equal(t, int64(4), m.Rows)
	assert.NotZero(t, m.LastSyncAt)
}

func TestCandleStore_RejectsEmptyKeys(t *testing.T) {
	cs, err := NewCandleStore(t.TempDir())
	require.NoError(t, err)
	defer cs.Close()

	_, err = cs.RangeCandles(context.Background(), "", "1d", 1, 2)
	assert.Error(t, err)
	_, err = cs.RecentCandles(context.Background(), "BTCUSDT", "1d", 100, 0)
	assert.Error(t, err)
}
