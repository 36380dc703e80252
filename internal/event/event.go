// Package event 定义框架内流转的全部事件类型（封闭集合）。
package event

import (
	"time"

	"github.com/google/uuid"
)

// Kind 标识事件种类，总线按 Kind 路由。
type Kind uint8

const (
	KindMarket Kind = iota + 1
	KindSignal
	KindOrder
	KindFill
	KindBacktestStart
	KindBacktestEnd
	KindSystemStatus
)

func (k Kind) String() string {
	switch k {
	case KindMarket:
		return "MARKET"
	case KindSignal:
		return "SIGNAL"
	case KindOrder:
		return "ORDER"
	case KindFill:
		return "FILL"
	case KindBacktestStart:
		return "BACKTEST_START"
	case KindBacktestEnd:
		return "BACKTEST_END"
	case KindSystemStatus:
		return "SYSTEM_STATUS"
	default:
		return "UNKNOWN"
	}
}

// Direction 为策略意见方向。
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionFlat  Direction = "FLAT"
)

// Side 为订单/成交方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderKind 目前仅支持市价单。
type OrderKind string

const (
	OrderMarket OrderKind = "MARKET"
	OrderLimit  OrderKind = "LIMIT"
)

// Market 携带单个 (symbol, timestamp) 的行情数据。Open/Close 必填，
// High/Low/Volume 允许为 0 表示缺失。
type Market struct {
	Symbol string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Signal 是策略输出的交易意见。Weight 仅对 LONG/SHORT 有效。
type Signal struct {
	Symbol    string
	Direction Direction
	Weight    float64
	HasWeight bool
}

// Order 描述一笔已通过风控、等待撮合的订单。
type Order struct {
	OrderID  string
	Symbol   string
	Side     Side
	Quantity int64
	Kind     OrderKind
}

// Fill 表示一笔订单的全量成交（不支持部分成交）。
type Fill struct {
	OrderID    string
	Symbol     string
	Side       Side
	Quantity   int64
	Price      float64
	Commission float64
}

// Span 用于 BacktestStart 事件，标记回放区间。
type Span struct {
	Start time.Time
	End   time.Time
}

// Status 携带系统心跳/状态说明。
type Status struct {
	Note string
}

// Event 是总线上的统一载体：Kind 决定哪个 payload 指针非空。
// 发布后不可修改。
type Event struct {
	ID   string
	Kind Kind
	At   time.Time

	Market *Market
	Signal *Signal
	Order  *Order
	Fill   *Fill
	Span   *Span
	Status *Status
}

func newEvent(kind Kind, at time.Time) Event {
	return Event{ID: uuid.NewString(), Kind: kind, At: at}
}

func NewMarket(at time.Time, m Market) Event {
	e := newEvent(KindMarket, at)
	e.Market = &m
	return e
}

func NewSignal(at time.Time, s Signal) Event {
	e := newEvent(KindSignal, at)
	e.Signal = &s
	return e
}

func NewOrder(at time.Time, o Order) Event {
	e := newEvent(KindOrder, at)
	e.Order = &o
	return e
}

func NewFill(at time.Time, f Fill) Event {
	e := newEvent(KindFill, at)
	e.Fill = &f
	return e
}

func NewBacktestStart(start, end time.Time) Event {
	e := newEvent(KindBacktestStart, start)
	e.Span = &Span{Start: start, End: end}
	return e
}

func NewBacktestEnd(at time.Time) Event {
	return newEvent(KindBacktestEnd, at)
}

func NewSystemStatus(at time.Time, note string) Event {
	e := newEvent(KindSystemStatus, at)
	e.Status = &Status{Note: note}
	return e
}
