package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiver/internal/market"
)

const dayMillis = int64(24 * time.Hour / time.Millisecond)

func dailyCandles(opens, closes []float64) []market.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	out := make([]market.Candle, len(opens))
	for i := range opens {
		out[i] = market.Candle{
			OpenTime:  base + int64(i)*dayMillis,
			CloseTime: base + int64(i+1)*dayMillis - 1,
			Open:      opens[i],
			High:      closes[i],
			Low:       opens[i],
			Close:     closes[i],
			Volume:    1000,
		}
	}
	return out
}

func scenarioConfig(symbols []string) RunConfig {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	return RunConfig{
		Symbols:         symbols,
		Timeframe:       "1d",
		StartTS:         base,
		EndTS:           base + 5*dayMillis,
		InitialCash:     100000,
		CommissionRate:  0.0005,
		SlippageRate:    0.001,
		LotSize:         100,
		MaxPendingTicks: 10,
		Lookback:        3,
		TopK:            1,
		Weight:          0.5,
	}
}

func TestExecute_SignalOrderFillLifecycle(t *testing.T) {
	data := map[string][]market.Candle{
		"BTCUSDT": dailyCandles(
			[]float64{100, 101, 102, 103, 106.0, 107.0},
			[]float64{100.5, 101.5, 102.5, 106.5, 106.8, 107.2},
		),
	}

	result, err := Execute(context.Background(), scenarioConfig([]string{"BTCUSDT"}), data)
	require.NoError(t, err)

	// 第 4 根 K 线（历史首次满足回看）发出 LONG：
	// floor((100000*0.5/106.5)/100)*100 = 400 股
	require.Len(t, result.Orders, 1)
	assert.Equal(t, "BUY", result.Orders[0].Side)
	assert.Equal(t, int64(400), result.Orders[0].Quantity)

	// 下一根按开盘价 106.0 加 0.1% 滑点成交
	require.Len(t, result.Fills, 1)
	fill := result.Fills[0]
	assert.Equal(t, result.Orders[0].OrderID, fill.OrderID)
	assert.InDelta(t, 106.106, fill.Price, 1e-9)
	assert.InDelta(t, 21.2212, fill.Commission, 1e-9)

	// 终值 = 现金 + 400 * 最后收盘价
	assert.InDelta(t, 57536.3788+400*107.2, result.Stats.FinalValue, 1e-6)
	assert.Equal(t, 1, result.Stats.Orders)
	assert.Equal(t, 1, result.Stats.Fills)
	assert.Equal(t, 6, result.Stats.NavPoints)
	require.Len(t, result.Nav, 6)
	assert.InDelta(t, 100000, result.Nav[0].Value, 1e-9)
}

func TestExecute_ReportsFinalCashAndPositions(t *testing.T) {
	data := map[string][]market.Candle{
		"BTCUSDT": dailyCandles(
			[]float64{100, 101, 102, 103, 106.0, 107.0},
			[]float64{100.5, 101.5, 102.5, 106.5, 106.8, 107.2},
		),
	}

	result, err := Execute(context.Background(), scenarioConfig([]string{"BTCUSDT"}), data)
	require.NoError(t, err)

	assert.InDelta(t, 57536.3788, result.Stats.FinalCash, 1e-6)
	require.Len(t, result.Stats.Positions, 1)
	pos := result.Stats.Positions[0]
	assert.Equal(t, "BTCUSDT", pos.Symbol)
	assert.Equal(t, int64(400), pos.Quantity)
	assert.InDelta(t, 106.106, pos.CostBasis, 1e-9)
	assert.InDelta(t, 107.2, pos.MarketPrice, 1e-9)
	assert.InDelta(t, 400*107.2, pos.MarketValue, 1e-9)

	// 期末账户恒等式：终值 = 现金 + 持仓市值
	assert.InDelta(t, result.Stats.FinalValue, result.Stats.FinalCash+pos.MarketValue, 1e-9)
}

func TestExecute_NoTradesWhenCashTooSmall(t *testing.T) {
	data := map[string][]market.Candle{
		"BTCUSDT": dailyCandles(
			[]float64{100, 101, 102, 103, 106.0, 107.0},
			[]float64{100.5, 101.5, 102.5, 106.5, 106.8, 107.2},
		),
	}
	cfg := scenarioConfig([]string{"BTCUSDT"})
	// 一手都买不起 → 取整到 0，不产生订单
	cfg.InitialCash = 500

	result, err := Execute(context.Background(), cfg, data)
	require.NoError(t, err)
	assert.Empty(t, result.Orders)
	assert.Empty(t, result.Fills)
	assert.InDelta(t, 500, result.Stats.FinalValue, 1e-9)
}

func TestExecute_DeterministicAcrossRuns(t *testing.T) {
	data := map[string][]market.Candle{
		"AAAUSDT": dailyCandles(
			[]float64{100, 102, 104, 103, 108, 110, 109, 112},
			[]float64{101, 103, 103.5, 107, 109, 109.5, 111, 113},
		),
		"BBBUSDT": dailyCandles(
			[]float64{50, 51, 49, 52, 50, 53, 55, 54},
			[]float64{50.5, 49.5, 51, 50.2, 52.8, 54, 54.5, 56},
		),
	}
	cfg := scenarioConfig([]string{"AAAUSDT", "BBBUSDT"})
	cfg.EndTS = cfg.StartTS + 7*dayMillis

	first, err := Execute(context.Background(), cfg, data)
	require.NoError(t, err)
	second, err := Execute(context.Background(), cfg, data)
	require.NoError(t, err)

	require.Equal(t, len(first.Fills), len(second.Fills))
	for i := range first.Fills {
		assert.Equal(t, first.Fills[i].Symbol, second.Fills[i].Symbol)
		assert.Equal(t, first.Fills[i].Side, second.Fills[i].Side)
		assert.Equal(t, first.Fills[i].Quantity, second.Fills[i].Quantity)
		assert.InDelta(t, first.Fills[i].Price, second.Fills[i].Price, 1e-12)
	}
	assert.InDelta(t, first.Stats.FinalValue, second.Stats.FinalValue, 1e-9)
	assert.Equal(t, first.Nav, second.Nav)
}

func TestExecute_CancelledContext(t *testing.T) {
	data := map[string][]market.Candle{
		"BTCUSDT": dailyCandles(
			[]float64{100, 101, 102},
			[]float64{100.5, 101.5, 102.5},
		),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Execute(ctx, scenarioConfig([]string{"BTCUSDT"}), data)
	assert.Error(t, err)
}

func TestTimeframe_PeriodsPerYear(t *testing.T) {
	tf, err := ParseTimeframe("1d")
	require.NoError(t, err)
	assert.InDelta(t, 365, tf.PeriodsPerYear(), 1e-9)

	tf, err = ParseTimeframe("1h")
	require.NoError(t, err)
	assert.InDelta(t, 8760, tf.PeriodsPerYear(), 1e-9)
}
