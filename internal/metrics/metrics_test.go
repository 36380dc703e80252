package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func equitySeries(values ...float64) []EquityPoint {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]EquityPoint, len(values))
	for i, v := range values {
		out[i] = EquityPoint{At: base.AddDate(0, 0, i), Value: v}
	}
	return out
}

func TestCompute_EmptyAndSinglePoint(t *testing.T) {
	s := Compute(nil, 252)
	assert.Equal(t, 0, s.Periods)
	assert.Zero(t, s.TotalReturn)

	s = Compute(equitySeries(100000), 252)
	assert.Equal(t, 1, s.Periods)
	assert.Equal(t, 100000.0, s.StartValue)
	assert.Equal(t, 100000.0, s.EndValue)
	assert.Zero(t, s.Sharpe)
}

func TestCompute_TotalReturnAndWinRate(t *testing.T) {
	// +10%，-5%，+2% → 三期中两期为正
	s := Compute(equitySeries(100, 110, 104.5, 106.59), 252)
	assert.InDelta(t, 0.0659, s.TotalReturn, 1e-6)
	assert.InDelta(t, 2.0/3.0, s.WinRate, 1e-9)
	assert.Equal(t, 4, s.Periods)
}

func TestCompute_MaxDrawdown(t *testing.T) {
	// 峰值 120，谷底 90 → 回撤 25%
	s := Compute(equitySeries(100, 120, 90, 110), 252)
	assert.InDelta(t, 0.25, s.MaxDrawdown, 1e-9)
}

func TestCompute_MaxDrawdownMonotonicSeries(t *testing.T) {
	s := Compute(equitySeries(100, 105, 111, 120), 252)
	assert.Zero(t, s.MaxDrawdown)
	assert.Equal(t, 1.0, s.WinRate)
}

func TestCompute_SharpeZeroWhenFlat(t *testing.T) {
	s := Compute(equitySeries(100, 100, 100, 100), 252)
	assert.Zero(t, s.Sharpe)
	assert.Zero(t, s.Volatility)
	assert.Zero(t, s.Sortino)
}

func TestCompute_SortinoIgnoresUpside(t *testing.T) {
	// 全为正收益时无下行波动，Sortino 约定为 0
	s := Compute(equitySeries(100, 101, 102, 103), 252)
	assert.Zero(t, s.Sortino)
	assert.Greater(t, s.Sharpe, 0.0)
}

func TestCompute_AnnualReturnOneYear(t *testing.T) {
	// 252 个收益期、净值翻倍 → 年化约 100%
	values := make([]float64, 253)
	for i := range values {
		values[i] = 100 * (1 + float64(i)/252)
	}
	values[252] = 200
	s := Compute(equitySeries(values...), 252)
	assert.InDelta(t, 1.0, s.AnnualReturn, 1e-6)
}

func TestCompute_DefaultPeriodsPerYear(t *testing.T) {
	s := Compute(equitySeries(100, 101), 0)
	assert.Equal(t, float64(PeriodsPerYearDaily), s.PeriodsPerYear)
}
