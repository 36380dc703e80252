// Package market 定义行情数据模型。
package market

import (
	"time"

	"quiver/internal/event"
)

// Candle 是一根 K 线（时间戳为 Unix 毫秒）。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Bar 是带 symbol 的 K 线，数据源以 (timestamp, symbol) 非降序产出。
type Bar struct {
	Symbol string
	Candle
}

// OpenAt 返回开盘时间。
func (c Candle) OpenAt() time.Time {
	return time.UnixMilli(c.OpenTime)
}

// MarketEvent 将 Bar 转为总线上的 MarketEvent，时间取开盘时间。
func (b Bar) MarketEvent() event.Event {
	return event.NewMarket(b.OpenAt(), event.Market{
		Symbol: b.Symbol,
		Open:   b.Open,
		High:   b.High,
		Low:    b.Low,
		Close:  b.Close,
		Volume: b.Volume,
	})
}
