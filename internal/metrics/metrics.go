// Package metrics 基于 NAV 序列计算绩效指标。
package metrics

import (
	"math"
	"time"
)

// PeriodsPerYearDaily 为日频 K 线的年化因子。
const PeriodsPerYearDaily = 252

// EquityPoint 为一条净值采样。
type EquityPoint struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

// Summary 为一次回测/实盘区间的绩效汇总。
type Summary struct {
	Periods        int     `json:"periods"`
	TotalReturn    float64 `json:"total_return"`
	AnnualReturn   float64 `json:"annual_return"`
	Volatility     float64 `json:"volatility"`
	Sharpe         float64 `json:"sharpe"`
	Sortino        float64 `json:"sortino"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	WinRate        float64 `json:"win_rate"`
	StartValue     float64 `json:"start_value"`
	EndValue       float64 `json:"end_value"`
	PeriodsPerYear float64 `json:"periods_per_year"`
}

// Compute 由净值序列计算各项指标。periodsPerYear<=0 时按日频 252 处理。
// 序列不足 2 个点时返回零值汇总。
func Compute(equity []EquityPoint, periodsPerYear float64) Summary {
	if periodsPerYear <= 0 {
		periodsPerYear = PeriodsPerYearDaily
	}
	s := Summary{Periods: len(equity), PeriodsPerYear: periodsPerYear}
	if len(equity) < 2 {
		if len(equity) == 1 {
			s.StartValue = equity[0].Value
			s.EndValue = equity[0].Value
		}
		return s
	}
	s.StartValue = equity[0].Value
	s.EndValue = equity[len(equity)-1].Value

	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Value
		if prev == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, equity[i].Value/prev-1)
	}

	if s.StartValue > 0 {
		s.TotalReturn = s.EndValue/s.StartValue - 1
	}
	s.AnnualReturn = annualReturn(s.StartValue, s.EndValue, len(returns), periodsPerYear)
	s.Volatility = stddev(returns) * math.Sqrt(periodsPerYear)
	s.Sharpe = sharpe(returns, periodsPerYear)
	s.Sortino = sortino(returns, periodsPerYear)
	s.MaxDrawdown = maxDrawdown(equity)
	s.WinRate = winRate(returns)
	return s
}

// annualReturn 为几何年化（CAGR）。
func annualReturn(start, end float64, periods int, periodsPerYear float64) float64 {
	if start <= 0 || end <= 0 || periods == 0 {
		return 0
	}
	years := float64(periods) / periodsPerYear
	if years <= 0 {
		return 0
	}
	return math.Pow(end/start, 1/years) - 1
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev 为样本标准差（n-1）。
func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

func sharpe(returns []float64, periodsPerYear float64) float64 {
	sd := stddev(returns)
	if sd == 0 {
		return 0
	}
	return mean(returns) / sd * math.Sqrt(periodsPerYear)
}

// sortino 只惩罚下行波动，分母为负收益的均方根。
func sortino(returns []float64, periodsPerYear float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range returns {
		if r < 0 {
			sum += r * r
		}
	}
	downside := math.Sqrt(sum / float64(len(returns)))
	if downside == 0 {
		return 0
	}
	return mean(returns) / downside * math.Sqrt(periodsPerYear)
}

// maxDrawdown 返回峰值到谷底的最大回撤（正数，0.2 表示 -20%）。
func maxDrawdown(equity []EquityPoint) float64 {
	peak := math.Inf(-1)
	maxDD := 0.0
	for _, p := range equity {
		if p.Value > peak {
			peak = p.Value
		}
		if peak > 0 {
			dd := (peak - p.Value) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// winRate 为正收益期数占非零收益期数的比例。
func winRate(returns []float64) float64 {
	wins, total := 0, 0
	for _, r := range returns {
		if r == 0 {
			continue
		}
		total++
		if r > 0 {
			wins++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total)
}
