package broker

import (
	"quiver/internal/event"
)

// Position 由 Broker 独占维护。Quantity 有符号（正=多头，负=空头），
// CostBasis 仅在 Quantity != 0 时有意义，归零即复位。
type Position struct {
	Quantity    int64   `json:"quantity"`
	CostBasis   float64 `json:"cost_basis"`
	MarketPrice float64 `json:"market_price"`
}

// applyFill 按成交更新数量与成本价：
// 同向加仓按量加权平均；数量归零复位成本价；
// 跨零（多转空或空转多）视为先平旧仓、残余部分以成交价开新仓。
func (p *Position) applyFill(side event.Side, quantity int64, price float64) {
	delta := quantity
	if side == event.SideSell {
		delta = -quantity
	}
	oldQty := p.Quantity
	newQty := oldQty + delta

	switch {
	case newQty == 0:
		p.CostBasis = 0
	case oldQty == 0 || (oldQty > 0) == (delta > 0):
		// 开仓或同向加仓：按绝对量加权平均。
		oldAbs := abs64(oldQty)
		addAbs := abs64(delta)
		p.CostBasis = (float64(oldAbs)*p.CostBasis + float64(addAbs)*price) / float64(oldAbs+addAbs)
	case (oldQty > 0) != (newQty > 0):
		// 跨零：残余仓位以本次成交价为新成本。
		p.CostBasis = price
	default:
		// 减仓：成本价不变。
	}
	p.Quantity = newQty
}

// MarkValue 返回按最新价（缺失时退回成本价）估算的市值。
func (p *Position) MarkValue() float64 {
	price := p.MarketPrice
	if price <= 0 {
		price = p.CostBasis
	}
	return float64(p.Quantity) * price
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
