package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiver/internal/event"
)

type capturePub struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *capturePub) Publish(ev event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturePub) byKind(kind event.Kind) []event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []event.Event
	for _, ev := range p.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func day(i int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
}

func marketEvent(at time.Time, symbol string, open, close float64) event.Event {
	return event.NewMarket(at, event.Market{Symbol: symbol, Open: open, Close: close})
}

func longSignal(at time.Time, symbol string, weight float64) event.Event {
	return event.NewSignal(at, event.Signal{
		Symbol:    symbol,
		Direction: event.DirectionLong,
		Weight:    weight,
		HasWeight: true,
	})
}

func newTestBroker(t *testing.T, cfg Config, pub Publisher) *Broker {
	t.Helper()
	b, err := New(cfg, pub)
	require.NoError(t, err)
	return b
}

func TestBroker_BuySizingAndNextTickSettlement(t *testing.T) {
	pub := &capturePub{}
	b := newTestBroker(t, Config{
		InitialCash:    100000,
		LotSize:        100,
		CommissionRate: 0.0005,
		SlippageRate:   0.001,
	}, pub)

	b.OnMarket(marketEvent(day(0), "BTCUSDT", 100, 106.5))
	b.OnSignal(longSignal(day(0), "BTCUSDT", 0.5))

	// floor((100000*0.5/106.5)/100)*100 = 400
	orders := pub.byKind(event.KindOrder)
	require.Len(t, orders, 1)
	assert.Equal(t, event.SideBuy, orders[0].Order.Side)
	assert.Equal(t, int64(400), orders[0].Order.Quantity)

	// 同一根 K 线内不撮合
	assert.Equal(t, 1, b.PendingCount())
	assert.Empty(t, pub.byKind(event.KindFill))

	// 下一根按开盘价加滑点成交
	b.OnMarket(marketEvent(day(1), "BTCUSDT", 106.0, 107.2))
	fills := pub.byKind(event.KindFill)
	require.Len(t, fills, 1)
	assert.InDelta(t, 106.106, fills[0].Fill.Price, 1e-9)
	assert.Equal(t, int64(400), fills[0].Fill.Quantity)
	assert.InDelta(t, 21.2212, fills[0].Fill.Commission, 1e-9)

	assert.Equal(t, 0, b.PendingCount())
	assert.InDelta(t, 57536.3788, b.Cash(), 1e-6)
	assert.Equal(t, int64(400), b.PositionQuantity("BTCUSDT"))
	// NAV = 现金 + 400 * 最新收盘价
	assert.InDelta(t, 57536.3788+400*107.2, b.TotalValue(), 1e-6)
}

func TestBroker_FlatWithNoPositionIsNoop(t *testing.T) {
	pub := &capturePub{}
	b := newTestBroker(t, Config{InitialCash: 100000, LotSize: 100}, pub)

	b.OnMarket(marketEvent(day(0), "BTCUSDT", 100, 100))
	b.OnSignal(event.NewSignal(day(0), event.Signal{Symbol: "BTCUSDT", Direction: event.DirectionFlat}))

	assert.Empty(t, pub.byKind(event.KindOrder))
	orders, fills := b.Stats()
	assert.Zero(t, orders)
	assert.Zero(t, fills)
	assert.InDelta(t, 100000, b.Cash(), 1e-9)
}

func TestBroker_RejectsBuyOverCash(t *testing.T) {
	pub := &capturePub{}
	b := newTestBroker(t, Config{
		InitialCash:    100,
		LotSize:        1,
		CommissionRate: 0.0005,
		SlippageRate:   0.001,
	}, pub)

	b.OnMarket(marketEvent(day(0), "BTCUSDT", 100, 100))
	// weight=1 → 目标 1 股，含滑点与手续费成本超过 100
	b.OnSignal(longSignal(day(0), "BTCUSDT", 1))

	assert.Empty(t, pub.byKind(event.KindOrder))
	assert.Equal(t, 0, b.PendingCount())
	b.OnMarket(marketEvent(day(1), "BTCUSDT", 100, 100))
	assert.Empty(t, pub.byKind(event.KindFill))
	assert.InDelta(t, 100, b.Cash(), 1e-9)
}

func TestBroker_RejectsUnauthorizedShort(t *testing.T) {
	pub := &capturePub{}
	b := newTestBroker(t, Config{InitialCash: 100000, LotSize: 100}, pub)

	b.OnMarket(marketEvent(day(0), "BTCUSDT", 100, 100))
	b.OnSignal(event.NewSignal(day(0), event.Signal{
		Symbol:    "BTCUSDT",
		Direction: event.DirectionShort,
		Weight:    0.5,
		HasWeight: true,
	}))

	assert.Empty(t, pub.byKind(event.KindOrder))
}

func TestBroker_AllowShortAcceptsSell(t *testing.T) {
	pub := &capturePub{}
	b := newTestBroker(t, Config{InitialCash: 100000, LotSize: 100, AllowShort: true}, pub)

	b.OnMarket(marketEvent(day(0), "BTCUSDT", 100, 100))
	b.OnSignal(event.NewSignal(day(0), event.Signal{
		Symbol:    "BTCUSDT",
		Direction: event.DirectionShort,
		Weight:    0.5,
		HasWeight: true,
	}))

	orders := pub.byKind(event.KindOrder)
	require.Len(t, orders, 1)
	assert.Equal(t, event.SideSell, orders[0].Order.Side)
	assert.Equal(t, int64(500), orders[0].Order.Quantity)

	b.OnMarket(marketEvent(day(1), "BTCUSDT", 100, 100))
	assert.Equal(t, int64(-500), b.PositionQuantity("BTCUSDT"))
}

func TestBroker_SignalWithoutWeightRejected(t *testing.T) {
	pub := &capturePub{}
	b := newTestBroker(t, Config{InitialCash: 100000, LotSize: 100}, pub)

	b.OnMarket(marketEvent(day(0), "BTCUSDT", 100, 100))
	b.OnSignal(event.NewSignal(day(0), event.Signal{Symbol: "BTCUSDT", Direction: event.DirectionLong}))

	assert.Empty(t, pub.byKind(event.KindOrder))
}

func TestBroker_SignalBeforeAnyPriceRejected(t *testing.T) {
	pub := &capturePub{}
	b := newTestBroker(t, Config{InitialCash: 100000, LotSize: 100}, pub)

	b.OnSignal(longSignal(day(0), "BTCUSDT", 0.5))

	assert.Empty(t, pub.byKind(event.KindOrder))
}

func TestBroker_HysteresisSkipsSubLotDelta(t *testing.T) {
	pub := &capturePub{}
	b := newTestBroker(t, Config{InitialCash: 100000, LotSize: 1000}, pub)

	b.OnMarket(marketEvent(day(0), "BTCUSDT", 100, 100))
	// 目标 500 股 < 一手 1000 → 不下单
	b.OnSignal(longSignal(day(0), "BTCUSDT", 0.5))

	assert.Empty(t, pub.byKind(event.KindOrder))
}

func TestBroker_PendingExpiresWithoutValidPrice(t *testing.T) {
	pub := &capturePub{}
	b := newTestBroker(t, Config{InitialCash: 100000, LotSize: 100, MaxPendingTicks: 2}, pub)

	b.OnMarket(marketEvent(day(0), "BTCUSDT", 100, 100))
	b.OnSignal(longSignal(day(0), "BTCUSDT", 0.5))
	require.Equal(t, 1, b.PendingCount())

	// 连续两根无有效价格 → 撤单
	b.OnMarket(marketEvent(day(1), "BTCUSDT", 0, 0))
	assert.Equal(t, 1, b.PendingCount())
	b.OnMarket(marketEvent(day(2), "BTCUSDT", 0, 0))
	assert.Equal(t, 0, b.PendingCount())
	assert.Empty(t, pub.byKind(event.KindFill))
}

func TestBroker_NavRecordedOncePerTimestamp(t *testing.T) {
	pub := &capturePub{}
	b := newTestBroker(t, Config{InitialCash: 100000, LotSize: 100}, pub)

	b.OnMarket(marketEvent(day(0), "AAA", 100, 100))
	b.OnMarket(marketEvent(day(0), "BBB", 200, 200))
	b.OnMarket(marketEvent(day(1), "AAA", 101, 101))

	nav := b.NavHistory()
	require.Len(t, nav, 2)
	assert.True(t, nav[0].At.Equal(day(0)))
	assert.True(t, nav[1].At.Equal(day(1)))
}

func TestBroker_FlattenClosesFullPosition(t *testing.T) {
	pub := &capturePub{}
	b := newTestBroker(t, Config{InitialCash: 100000, LotSize: 100}, pub)

	b.OnMarket(marketEvent(day(0), "BTCUSDT", 100, 100))
	b.OnSignal(longSignal(day(0), "BTCUSDT", 0.5))
	b.OnMarket(marketEvent(day(1), "BTCUSDT", 100, 100))
	require.Equal(t, int64(500), b.PositionQuantity("BTCUSDT"))

	b.OnSignal(event.NewSignal(day(1), event.Signal{Symbol: "BTCUSDT", Direction: event.DirectionFlat}))
	b.OnMarket(marketEvent(day(2), "BTCUSDT", 100, 100))

	assert.Equal(t, int64(0), b.PositionQuantity("BTCUSDT"))
	assert.InDelta(t, 100000, b.Cash(), 1e-6)
	fills := pub.byKind(event.KindFill)
	require.Len(t, fills, 2)
	assert.Equal(t, event.SideSell, fills[1].Fill.Side)
}

func TestConfig_Validate(t *testing.T) {
	pub := &capturePub{}
	_, err := New(Config{InitialCash: 0, LotSize: 100}, pub)
	assert.Error(t, err)
	_, err = New(Config{InitialCash: 1000, LotSize: 0}, pub)
	assert.Error(t, err)
	_, err = New(Config{InitialCash: 1000, LotSize: 1, CommissionRate: -1}, pub)
	assert.Error(t, err)
	_, err = New(Config{InitialCash: 1000, LotSize: 1}, nil)
	assert.Error(t, err)
}
