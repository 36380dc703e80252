package strategy

// 中文说明：
// 策略只消费行情、产出信号，不直接触碰资金与订单。
// Engine 负责把策略挂到事件总线上：收到行情事件后调用策略，
// 并把返回的信号逐个发布回总线，由经纪模块完成风控与下单。

import (
	"context"
	"fmt"

	"quiver/internal/bus"
	"quiver/internal/event"
	"quiver/internal/logger"
	"quiver/internal/market"
)

// HistoryProvider 提供截至当前事件时刻的历史 K 线，绝不包含未来数据。
type HistoryProvider interface {
	History(symbol string, periods int) []market.Candle
}

// PositionReader 暴露当前持仓数量（带符号），供策略判断是否已持有。
type PositionReader interface {
	PositionQuantity(symbol string) int64
}

// Strategy 在每个行情事件上决定要发出的信号，可以返回空切片。
type Strategy interface {
	Name() string
	OnMarket(bar market.Bar) []event.Signal
}

// Engine 把策略接入总线。
type Engine struct {
	strat Strategy
	bus   *bus.Bus
}

func NewEngine(eb *bus.Bus, strat Strategy) (*Engine, error) {
	if eb == nil || strat == nil {
		return nil, fmt.Errorf("bus/strategy 不能为空")
	}
	return &Engine{strat: strat, bus: eb}, nil
}

// Attach 注册行情订阅，必须在总线启动前调用。
func (e *Engine) Attach() {
	e.bus.Subscribe("strategy:"+e.strat.Name(), e.onEvent, event.KindMarket)
}

func (e *Engine) onEvent(_ context.Context, ev event.Event) {
	if ev.Market == nil {
		return
	}
	bar := market.Bar{
		Symbol: ev.Market.Symbol,
		Candle: market.Candle{
			OpenTime: ev.At.UnixMilli(),
			Open:     ev.Market.Open,
			High:     ev.Market.High,
			Low:      ev.Market.Low,
			Close:    ev.Market.Close,
			Volume:   ev.Market.Volume,
		},
	}
	for _, sig := range e.strat.OnMarket(bar) {
		logger.Debugf("[strategy] %s 发出信号 %s %s", e.strat.Name(), sig.Symbol, sig.Direction)
		e.bus.Publish(event.NewSignal(ev.At, sig))
	}
}
