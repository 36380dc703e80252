package feed

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"quiver/internal/bus"
	"quiver/internal/event"
	"quiver/internal/logger"
	"quiver/internal/market"
)

// ReplayFeed 按时间戳顺序回放历史 K 线。每个时间戳注入该时刻全部
// symbol 的 MarketEvent 后调用 Drain，等 tick 的所有级联事件
//（信号、订单、成交、净值采样）全部落定才推进到下一个时间戳。
type ReplayFeed struct {
	bus  *bus.Bus
	bars []market.Bar

	mu      sync.RWMutex
	windows map[string]*window
}

// NewReplay 以各 symbol 的历史 K 线构造回放驱动。
func NewReplay(eb *bus.Bus, candles map[string][]market.Candle) (*ReplayFeed, error) {
	if eb == nil {
		return nil, fmt.Errorf("bus 不能为空")
	}
	var bars []market.Bar
	for sym, list := range candles {
		for _, c := range list {
			bars = append(bars, market.Bar{Symbol: sym, Candle: c})
		}
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("回放数据为空")
	}
	// 主序为时间，同一时间戳内按 symbol 定序，保证重放完全可复现。
	sort.Slice(bars, func(i, j int) bool {
		if bars[i].OpenTime != bars[j].OpenTime {
			return bars[i].OpenTime < bars[j].OpenTime
		}
		return bars[i].Symbol < bars[j].Symbol
	})
	return &ReplayFeed{
		bus:     eb,
		bars:    bars,
		windows: make(map[string]*window),
	}, nil
}

// History 实现 HistoryProvider，只暴露已注入的数据。
func (f *ReplayFeed) History(symbol string, periods int) []market.Candle {
	f.mu.RLock()
	defer f.mu.RUnlock()
	w, ok := f.windows[symbol]
	if !ok {
		return nil
	}
	return w.tail(periods)
}

// Span 返回回放区间。
func (f *ReplayFeed) Span() (start, end time.Time) {
	return f.bars[0].OpenAt(), f.bars[len(f.bars)-1].OpenAt()
}

// Run 驱动整个回放。ctx 取消时停止注入，已注入事件在返回前派发完毕。
func (f *ReplayFeed) Run(ctx context.Context) error {
	start, end := f.Span()
	logger.Infof("[feed] 回放开始：%d 根 K 线（%s ~ %s）",
		len(f.bars), start.Format(time.RFC3339), end.Format(time.RFC3339))

	f.bus.Publish(event.NewBacktestStart(start, end))
	if err := f.bus.Drain(ctx); err != nil {
		return err
	}

	idx := 0
	for idx < len(f.bars) {
		if err := ctx.Err(); err != nil {
			logger.Warnf("[feed] 回放被取消：已处理 %d/%d", idx, len(f.bars))
			return err
		}
		ts := f.bars[idx].OpenTime
		for idx < len(f.bars) && f.bars[idx].OpenTime == ts {
			bar := f.bars[idx]
			f.record(bar)
			f.bus.Publish(bar.MarketEvent())
			idx++
		}
		// 回测正确性的根基：本 tick 的全部后果处理完才有下一个 tick。
		if err := f.bus.Drain(ctx); err != nil {
			return err
		}
	}

	f.bus.Publish(event.NewBacktestEnd(end))
	if err := f.bus.Drain(ctx); err != nil {
		return err
	}
	logger.Infof("[feed] 回放完成")
	return nil
}

func (f *ReplayFeed) record(bar market.Bar) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.windows[bar.Symbol]
	if !ok {
		w = newWindow(0)
		f.windows[bar.Symbol] = w
	}
	w.push(bar.Candle)
}
