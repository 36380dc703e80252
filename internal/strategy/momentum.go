package strategy

import (
	"fmt"
	"sort"
	"sync"

	talib "github.com/markcheno/go-talib"

	"quiver/internal/event"
	"quiver/internal/market"
)

// MomentumConfig 为动量轮动策略参数。
type MomentumConfig struct {
	// Universe 为候选 symbol 池。
	Universe []string
	// Lookback 为动量回看周期 N：动量 = 最新收盘 - N 期前收盘。
	Lookback int
	// TopK 为持仓数量上限。
	TopK int
	// Weight 为单个标的的目标资金占比。
	Weight float64
}

func (c MomentumConfig) validate() error {
	if len(c.Universe) == 0 {
		return fmt.Errorf("universe 不能为空")
	}
	if c.Lookback <= 0 {
		return fmt.Errorf("lookback 必须为正: %d", c.Lookback)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("topK 必须为正: %d", c.TopK)
	}
	if c.Weight <= 0 || c.Weight > 1 {
		return fmt.Errorf("weight 必须在 (0,1]: %v", c.Weight)
	}
	return nil
}

// Momentum 为截面动量轮动：每个新时间戳按动量排序取前 TopK 做多，
// 已持有但跌出榜单的标的平仓。历史不足 Lookback+1 根时不参与排序。
type Momentum struct {
	mu        sync.Mutex
	cfg       MomentumConfig
	history   HistoryProvider
	positions PositionReader

	lastTick int64
}

func NewMomentum(cfg MomentumConfig, history HistoryProvider, positions PositionReader) (*Momentum, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if history == nil || positions == nil {
		return nil, fmt.Errorf("history/positions 不能为空")
	}
	return &Momentum{cfg: cfg, history: history, positions: positions}, nil
}

func (m *Momentum) Name() string { return "momentum" }

// UpdateConfig 热更新策略参数，下一次调仓生效。
func (m *Momentum) UpdateConfig(cfg MomentumConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return nil
}

// OnMarket 每个新时间戳只做一次调仓决策，同一时间戳的后续行情事件忽略。
func (m *Momentum) OnMarket(bar market.Bar) []event.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bar.OpenTime <= m.lastTick {
		return nil
	}
	m.lastTick = bar.OpenTime
	return m.rebalance()
}

type ranked struct {
	symbol   string
	momentum float64
}

func (m *Momentum) rebalance() []event.Signal {
	scores := make([]ranked, 0, len(m.cfg.Universe))
	for _, sym := range m.cfg.Universe {
		candles := m.history.History(sym, m.cfg.Lookback+1)
		if len(candles) < m.cfg.Lookback+1 {
			continue
		}
		closes := make([]float64, len(candles))
		for i, c := range candles {
			closes[i] = c.Close
		}
		mom := talib.Mom(closes, m.cfg.Lookback)
		scores = append(scores, ranked{symbol: sym, momentum: mom[len(mom)-1]})
	}
	// 动量降序，持平按 symbol 升序保证确定性。
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].momentum != scores[j].momentum {
			return scores[i].momentum > scores[j].momentum
		}
		return scores[i].symbol < scores[j].symbol
	})

	top := make(map[string]bool, m.cfg.TopK)
	for i := 0; i < len(scores) && i < m.cfg.TopK; i++ {
		top[scores[i].symbol] = true
	}

	var out []event.Signal
	for _, sym := range m.cfg.Universe {
		held := m.positions.PositionQuantity(sym) != 0
		switch {
		case top[sym] && !held:
			out = append(out, event.Signal{
				Symbol:    sym,
				Direction: event.DirectionLong,
				Weight:    m.cfg.Weight,
				HasWeight: true,
			})
		case !top[sym] && held:
			out = append(out, event.Signal{Symbol: sym, Direction: event.DirectionFlat})
		}
	}
	return out
}
