package backtest

import (
	"context"
	"sync"

	"quiver/internal/bus"
	"quiver/internal/event"
)

// Recorder 订阅订单与成交事件，收集为可落库的记录。
type Recorder struct {
	mu     sync.Mutex
	orders []OrderRecord
	fills  []FillRecord
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Attach 必须在总线启动前调用。
func (r *Recorder) Attach(eb *bus.Bus) {
	eb.Subscribe("recorder", r.onEvent, event.KindOrder, event.KindFill)
}

func (r *Recorder) onEvent(_ context.Context, ev event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ev.Kind {
	case event.KindOrder:
		if ev.Order == nil {
			return
		}
		r.orders = append(r.orders, OrderRecord{
			OrderID:  ev.Order.OrderID,
			Symbol:   ev.Order.Symbol,
			Side:     string(ev.Order.Side),
			Quantity: ev.Order.Quantity,
			At:       ev.At,
		})
	case event.KindFill:
		if ev.Fill == nil {
			return
		}
		r.fills = append(r.fills, FillRecord{
			OrderID:    ev.Fill.OrderID,
			Symbol:     ev.Fill.Symbol,
			Side:       string(ev.Fill.Side),
			Quantity:   ev.Fill.Quantity,
			Price:      ev.Fill.Price,
			Commission: ev.Fill.Commission,
			At:         ev.At,
		})
	}
}

// Orders 返回已收集订单的副本。
func (r *Recorder) Orders() []OrderRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OrderRecord, len(r.orders))
	copy(out, r.orders)
	return out
}

// Fills 返回已收集成交的副本。
func (r *Recorder) Fills() []FillRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FillRecord, len(r.fills))
	copy(out, r.fills)
	return out
}
