// Package feed 负责向总线注入 MarketEvent：回放模式逐 tick 注入并等待
// 全部因果后果落定，实时模式持续推送。
package feed

import (
	"quiver/internal/market"
)

// HistoryProvider 返回某 symbol 截至当前已注入行情的最近 periods 根
// K 线（升序）。数据不足时返回实际数量，绝不凭空补齐，也绝不包含
// 尚未注入的未来数据。
type HistoryProvider interface {
	History(symbol string, periods int) []market.Candle
}

// window 维护单 symbol 的滚动历史，容量受限防止实时模式无界增长。
type window struct {
	candles []market.Candle
	cap     int
}

func newWindow(capacity int) *window {
	if capacity <= 0 {
		capacity = 4096
	}
	return &window{cap: capacity}
}

func (w *window) push(c market.Candle) {
	w.candles = append(w.candles, c)
	if len(w.candles) > w.cap {
		w.candles = w.candles[len(w.candles)-w.cap:]
	}
}

func (w *window) tail(n int) []market.Candle {
	if n <= 0 || len(w.candles) == 0 {
		return nil
	}
	if n > len(w.candles) {
		n = len(w.candles)
	}
	out := make([]market.Candle, n)
	copy(out, w.candles[len(w.candles)-n:])
	return out
}
