// Package trading provides trading calculation utilities.
package trading

import (
	"github.com/shopspring/decimal"

	"quiver/internal/event"
)

// RoundToLot 将数量绝对值向下取整到 lot 的整数倍。lot <= 0 时原样返回。
func RoundToLot(quantity, lot int64) int64 {
	if lot <= 0 {
		return quantity
	}
	neg := quantity < 0
	q := quantity
	if neg {
		q = -q
	}
	q = q / lot * lot
	if neg {
		return -q
	}
	return q
}

// Commission 计算成交手续费 price*quantity*rate。
func Commission(price float64, quantity int64, rate float64) float64 {
	c := decimal.NewFromFloat(price).
		Mul(decimal.NewFromInt(quantity)).
		Mul(decimal.NewFromFloat(rate))
	f, _ := c.Float64()
	return f
}

// SlipPrice 对基准价施加滑点：BUY 上浮、SELL 下压。
func SlipPrice(base float64, side event.Side, rate float64) float64 {
	d := decimal.NewFromFloat(base)
	slip := d.Mul(decimal.NewFromFloat(rate))
	if side == event.SideBuy {
		d = d.Add(slip)
	} else {
		d = d.Sub(slip)
	}
	f, _ := d.Float64()
	return f
}

// CashDelta 返回一笔成交对现金的净影响：
// BUY 为 -(value+commission)，SELL 为 +(value-commission)。
// 中间量用 decimal 累计，避免长序列成交的浮点漂移。
func CashDelta(side event.Side, price float64, quantity int64, commission float64) float64 {
	value := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(quantity))
	comm := decimal.NewFromFloat(commission)
	var out decimal.Decimal
	if side == event.SideBuy {
		out = value.Add(comm).Neg()
	} else {
		out = value.Sub(comm)
	}
	f, _ := out.Float64()
	return f
}

// EstimateBuyCost 估算 BUY 的占用资金（含滑点与手续费），用于下单前风控。
func EstimateBuyCost(price float64, quantity int64, slippageRate, commissionRate float64) float64 {
	fill := SlipPrice(price, event.SideBuy, slippageRate)
	value := decimal.NewFromFloat(fill).Mul(decimal.NewFromInt(quantity))
	comm := decimal.NewFromFloat(Commission(fill, quantity, commissionRate))
	f, _ := value.Add(comm).Float64()
	return f
}
