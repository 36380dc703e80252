// Package broker 实现订单生命周期状态机与组合记账：
// Signal → 风控定量 → 挂单，Market → 下一根 K 线撮合 → Fill → 资金/持仓更新。
package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"quiver/internal/bus"
	"quiver/internal/event"
	"quiver/internal/logger"
	"quiver/internal/pkg/trading"
)

// Config 为模拟执行参数。
type Config struct {
	InitialCash    float64
	LotSize        int64
	CommissionRate float64
	SlippageRate   float64
	AllowShort     bool
	// MaxPendingTicks 限制挂单连续无法撮合（无有效价格）的次数，
	// 超过即撤单；0 表示永不过期。
	MaxPendingTicks int
}

func (c Config) validate() error {
	if c.InitialCash <= 0 {
		return fmt.Errorf("initial cash 需 > 0（当前 %.2f）", c.InitialCash)
	}
	if c.LotSize <= 0 {
		return fmt.Errorf("lot size 需 > 0（当前 %d）", c.LotSize)
	}
	if c.CommissionRate < 0 || c.SlippageRate < 0 {
		return fmt.Errorf("commission/slippage 不能为负")
	}
	return nil
}

// NavPoint 是一条净值记录。
type NavPoint struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

type pendingOrder struct {
	order event.Order
	// createdTick 为创建订单时该 symbol 的最后行情时间；
	// 只在出现更晚的行情时间后才允许撮合，避免前视偏差。
	createdTick time.Time
	seq         int
	stalls      int
}

// Publisher 是 Broker 对总线的最小依赖。
type Publisher interface {
	Publish(ev event.Event)
}

// Broker 独占持有组合状态，只在自己的事件处理器内修改。
type Broker struct {
	cfg Config
	pub Publisher

	mu        sync.Mutex
	cash      float64
	positions map[string]*Position
	pending   map[string]*pendingOrder
	lastPrice map[string]float64
	lastTick  map[string]time.Time
	nav       []NavPoint

	orders int
	fills  int
}

func New(cfg Config, pub Publisher) (*Broker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if pub == nil {
		return nil, fmt.Errorf("publisher 不能为空")
	}
	return &Broker{
		cfg:       cfg,
		pub:       pub,
		cash:      cfg.InitialCash,
		positions: make(map[string]*Position),
		pending:   make(map[string]*pendingOrder),
		lastPrice: make(map[string]float64),
		lastTick:  make(map[string]time.Time),
	}, nil
}

// Attach 以单一订阅者身份挂到总线上：连续模式下同一订阅者内
// 事件按发布顺序串行处理，保证单写者纪律。
func (b *Broker) Attach(eb *bus.Bus) {
	eb.Subscribe("broker", func(ctx context.Context, ev event.Event) {
		switch ev.Kind {
		case event.KindMarket:
			b.OnMarket(ev)
		case event.KindSignal:
			b.OnSignal(ev)
		}
	}, event.KindMarket, event.KindSignal)
}

// ---------------------------- Signal → Order ----------------------------

// OnSignal 将策略意见转为定量订单：FLAT 平掉全部持仓；LONG/SHORT 按
// weight 计算目标市值并取与当前持仓的差额，不足一手则不动（滞回）。
// 被拒订单仅记日志，不产生任何事件。
func (b *Broker) OnSignal(ev event.Event) {
	if ev.Signal == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	sig := *ev.Signal
	switch sig.Direction {
	case event.DirectionFlat:
		b.flattenLocked(ev.At, sig.Symbol)
	case event.DirectionLong, event.DirectionShort:
		b.rebalanceLocked(ev.At, sig)
	default:
		logger.Warnf("[broker] 未知信号方向 %q（%s），忽略", sig.Direction, sig.Symbol)
	}
}

func (b *Broker) flattenLocked(at time.Time, symbol string) {
	held := b.quantityLocked(symbol)
	if held == 0 {
		logger.Infof("[broker] FLAT %s：当前无持仓，跳过", symbol)
		return
	}
	side := event.SideSell
	if held < 0 {
		side = event.SideBuy
	}
	b.enqueueLocked(at, symbol, side, abs64(held))
}

func (b *Broker) rebalanceLocked(at time.Time, sig event.Signal) {
	if !sig.HasWeight || sig.Weight < 0 {
		logger.Warnf("[broker] %s %s 信号缺少有效 weight（%v），拒绝", sig.Direction, sig.Symbol, sig.Weight)
		return
	}
	price := b.lastPrice[sig.Symbol]
	if price <= 0 {
		logger.Warnf("[broker] %s 无可用行情价，无法定量，拒绝信号", sig.Symbol)
		return
	}

	targetValue := b.totalValueLocked() * sig.Weight
	if targetValue < 0 {
		targetValue = 0
	}
	targetQty := targetValue / price
	if sig.Direction == event.DirectionShort {
		targetQty = -targetQty
	}
	delta := targetQty - float64(b.quantityLocked(sig.Symbol))

	// 滞回：差额不足一手时不下单，避免小数取整噪声来回打单。
	if delta < float64(b.cfg.LotSize) && -delta < float64(b.cfg.LotSize) {
		logger.Debugf("[broker] %s 目标差额 %.2f 不足一手（%d），不下单", sig.Symbol, delta, b.cfg.LotSize)
		return
	}

	side := event.SideBuy
	absDelta := delta
	if delta < 0 {
		side = event.SideSell
		absDelta = -delta
	}
	qty := trading.RoundToLot(int64(absDelta), b.cfg.LotSize)
	if qty <= 0 {
		logger.Debugf("[broker] %s 取整后数量为 0，不下单", sig.Symbol)
		return
	}
	b.enqueueLocked(at, sig.Symbol, side, qty)
}

// enqueueLocked 做下单前风控，通过后挂入 pending 并发布 OrderEvent。
func (b *Broker) enqueueLocked(at time.Time, symbol string, side event.Side, quantity int64) {
	price := b.lastPrice[symbol]
	switch side {
	case event.SideBuy:
		cost := trading.EstimateBuyCost(price, quantity, b.cfg.SlippageRate, b.cfg.CommissionRate)
		if cost > b.cash {
			logger.Warnf("[broker] 拒单 BUY %d %s：预估成本 %.2f 超过可用资金 %.2f", quantity, symbol, cost, b.cash)
			return
		}
	case event.SideSell:
		if !b.cfg.AllowShort && quantity > b.quantityLocked(symbol) {
			logger.Warnf("[broker] 拒单 SELL %d %s：持仓仅 %d，默认风控不允许做空", quantity, symbol, b.quantityLocked(symbol))
			return
		}
	}

	order := event.Order{
		OrderID:  uuid.NewString(),
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		Kind:     event.OrderMarket,
	}
	b.pending[order.OrderID] = &pendingOrder{order: order, createdTick: b.lastTick[symbol], seq: b.orders}
	b.orders++
	logger.Infof("[broker] 接受订单 %s：%s %d %s", order.OrderID, side, quantity, symbol)
	b.pub.Publish(event.NewOrder(at, order))
}

// ---------------------------- Market → Fill ----------------------------

// OnMarket 先用本根 K 线撮合更早时间戳挂起的订单（同一时间戳内创建的
// 订单留到下一根，杜绝前视），随后刷新最新价并记录净值。
func (b *Broker) OnMarket(ev event.Event) {
	if ev.Market == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	m := *ev.Market
	if ev.At.After(b.lastTick[m.Symbol]) {
		b.settleLocked(ev.At, m)
		b.lastTick[m.Symbol] = ev.At
	}

	price := m.Close
	if price <= 0 {
		price = m.Open
	}
	if price > 0 {
		b.lastPrice[m.Symbol] = price
		if pos, ok := b.positions[m.Symbol]; ok {
			pos.MarketPrice = price
		}
	}

	b.recordNavLocked(ev.At)
}

func (b *Broker) settleLocked(at time.Time, m event.Market) {
	base := m.Open
	if base <= 0 {
		base = m.Close
	}
	// 按下单先后撮合，保证重放产生完全一致的成交序列。
	var eligible []*pendingOrder
	for _, po := range b.pending {
		if po.order.Symbol == m.Symbol && at.After(po.createdTick) {
			eligible = append(eligible, po)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].seq < eligible[j].seq })

	for _, po := range eligible {
		if base <= 0 {
			po.stalls++
			if b.cfg.MaxPendingTicks > 0 && po.stalls >= b.cfg.MaxPendingTicks {
				delete(b.pending, po.order.OrderID)
				logger.Warnf("[broker] 撤单 %s：连续 %d 根 K 线无有效价格", po.order.OrderID, po.stalls)
				continue
			}
			logger.Warnf("[broker] 订单 %s 无有效撮合价，保持挂起（第 %d 次）", po.order.OrderID, po.stalls)
			continue
		}
		b.fillLocked(at, po, base)
		delete(b.pending, po.order.OrderID)
	}
}

// fillLocked 一笔成交完全了结一笔订单：滑点调价、计费、改资金与持仓。
func (b *Broker) fillLocked(at time.Time, po *pendingOrder, base float64) {
	order := po.order
	fillPrice := trading.SlipPrice(base, order.Side, b.cfg.SlippageRate)
	commission := trading.Commission(fillPrice, order.Quantity, b.cfg.CommissionRate)
	b.cash += trading.CashDelta(order.Side, fillPrice, order.Quantity, commission)

	pos, ok := b.positions[order.Symbol]
	if !ok {
		pos = &Position{}
		b.positions[order.Symbol] = pos
	}
	pos.applyFill(order.Side, order.Quantity, fillPrice)
	pos.MarketPrice = fillPrice
	if pos.Quantity == 0 {
		delete(b.positions, order.Symbol)
	}
	b.fills++

	logger.Infof("[broker] 成交 %s：%s %d %s @ %.4f，手续费 %.4f，现金 %.2f",
		order.OrderID, order.Side, order.Quantity, order.Symbol, fillPrice, commission, b.cash)
	b.pub.Publish(event.NewFill(at, event.Fill{
		OrderID:    order.OrderID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   order.Quantity,
		Price:      fillPrice,
		Commission: commission,
	}))
}

func (b *Broker) recordNavLocked(at time.Time) {
	if n := len(b.nav); n > 0 && b.nav[n-1].At.Equal(at) {
		return
	}
	b.nav = append(b.nav, NavPoint{At: at, Value: b.totalValueLocked()})
}

// ---------------------------- 查询接口（只读） ----------------------------

func (b *Broker) quantityLocked(symbol string) int64 {
	if pos, ok := b.positions[symbol]; ok {
		return pos.Quantity
	}
	return 0
}

func (b *Broker) totalValueLocked() float64 {
	total := b.cash
	for _, pos := range b.positions {
		total += pos.MarkValue()
	}
	return total
}

// Cash 返回当前现金。
func (b *Broker) Cash() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash
}

// TotalValue 返回现金加持仓市值（NAV）。
func (b *Broker) TotalValue() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalValueLocked()
}

// PositionQuantity 返回某 symbol 当前持仓数量（有符号）。
func (b *Broker) PositionQuantity(symbol string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.quantityLocked(symbol)
}

// Positions 返回持仓快照。
func (b *Broker) Positions() map[string]Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Position, len(b.positions))
	for sym, pos := range b.positions {
		out[sym] = *pos
	}
	return out
}

// NavHistory 返回净值序列快照。
func (b *Broker) NavHistory() []NavPoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]NavPoint, len(b.nav))
	copy(out, b.nav)
	return out
}

// PendingCount 返回当前挂单数。
func (b *Broker) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Stats 返回累计订单/成交计数。
func (b *Broker) Stats() (orders, fills int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.orders, b.fills
}

// InitialCash 返回初始资金。
func (b *Broker) InitialCash() float64 {
	return b.cfg.InitialCash
}
