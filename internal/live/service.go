// Package live 将实时行情接入模拟撮合，构成纸面交易（paper trading）服务：
// websocket K 线 → 总线常驻派发 → 策略 → 模拟 Broker。
package live

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"quiver/internal/backtest"
	"quiver/internal/broker"
	"quiver/internal/bus"
	"quiver/internal/config/loader"
	"quiver/internal/feed"
	"quiver/internal/logger"
	"quiver/internal/store"
	"quiver/internal/strategy"
)

// Config 为纸面交易服务参数。
type Config struct {
	Universe   []string
	Interval   string
	Heartbeat  time.Duration
	WarmupBars int
	Lookback   int
	TopK       int
	Weight     float64
	// ParamsPath 非空时启用策略参数热更新。
	ParamsPath string
	Broker     broker.Config
}

// Service 组装实时行情、策略与模拟 Broker，以 Run 模式常驻运行。
type Service struct {
	cfg      Config
	candles  *store.CandleStore
	bus      *bus.Bus
	feed     *feed.LiveFeed
	broker   *broker.Broker
	momentum *strategy.Momentum
	recorder *backtest.Recorder
	params   *loader.ParamsLoader
}

func NewService(cfg Config, candles *store.CandleStore) (*Service, error) {
	universe := normalizeUniverse(cfg.Universe)
	if len(universe) == 0 {
		return nil, fmt.Errorf("universe 不能为空")
	}
	cfg.Universe = universe
	if candles == nil {
		return nil, fmt.Errorf("candle store 不能为空")
	}

	eb := bus.New()
	brk, err := broker.New(cfg.Broker, eb)
	if err != nil {
		return nil, err
	}
	windowCap := cfg.WarmupBars * 2
	if windowCap < cfg.Lookback+1 {
		windowCap = cfg.Lookback + 1
	}
	lf, err := feed.NewLive(eb, feed.LiveConfig{
		Symbols:   universe,
		Interval:  cfg.Interval,
		Heartbeat: cfg.Heartbeat,
		WindowCap: windowCap,
	})
	if err != nil {
		return nil, err
	}
	mom, err := strategy.NewMomentum(strategy.MomentumConfig{
		Universe: universe,
		Lookback: cfg.Lookback,
		TopK:     cfg.TopK,
		Weight:   cfg.Weight,
	}, lf, brk)
	if err != nil {
		return nil, err
	}
	engine, err := strategy.NewEngine(eb, mom)
	if err != nil {
		return nil, err
	}
	recorder := backtest.NewRecorder()

	// 同一事件按订阅顺序处理：Broker 先撮合/刷新行情基准，策略再产生信号。
	brk.Attach(eb)
	engine.Attach()
	recorder.Attach(eb)

	s := &Service{
		cfg:      cfg,
		candles:  candles,
		bus:      eb,
		feed:     lf,
		broker:   brk,
		momentum: mom,
		recorder: recorder,
	}
	if strings.TrimSpace(cfg.ParamsPath) != "" {
		pl, err := loader.NewParamsLoader(cfg.ParamsPath)
		if err != nil {
			return nil, fmt.Errorf("params loader init failed: %w", err)
		}
		s.params = pl
		// 订阅集在启动时固定；热更新只调整排序参数与目标权重，
		// universe 中未订阅的 symbol 因无行情不会参与排序。
		pl.Subscribe(func(snap loader.ParamsSnapshot) {
			cfg := strategy.MomentumConfig{
				Universe: snap.Params.UniverseUpper(),
				Lookback: snap.Params.Lookback,
				TopK:     snap.Params.TopK,
				Weight:   snap.Params.Weight,
			}
			if err := mom.UpdateConfig(cfg); err != nil {
				logger.Errorf("策略参数热更新被拒绝 version=%d: %v", snap.Version, err)
				return
			}
			logger.Infof("策略参数热更新生效 version=%d lookback=%d top_k=%d",
				snap.Version, cfg.Lookback, cfg.TopK)
		})
	}
	return s, nil
}

// Run 预热历史窗口后启动行情流与总线派发，阻塞直到 ctx 结束。
func (s *Service) Run(ctx context.Context) error {
	if err := s.warmup(ctx); err != nil {
		return err
	}
	logger.Infof("纸面交易启动 symbols=%d interval=%s cash=%.2f",
		len(s.cfg.Universe), s.cfg.Interval, s.broker.InitialCash())

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		s.bus.Run(gctx)
		return nil
	})
	group.Go(func() error {
		return s.feed.Run(gctx)
	})
	err := group.Wait()
	s.logSummary()
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func (s *Service) warmup(ctx context.Context) error {
	if s.cfg.WarmupBars <= 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	for _, sym := range s.cfg.Universe {
		candles, err := s.candles.RecentCandles(ctx, sym, s.cfg.Interval, now, s.cfg.WarmupBars)
		if err != nil {
			return fmt.Errorf("预热 %s 历史失败: %w", sym, err)
		}
		if len(candles) < s.cfg.Lookback+1 {
			logger.Warnf("预热历史不足 symbol=%s got=%d need=%d，等待实时行情补齐",
				sym, len(candles), s.cfg.Lookback+1)
		}
		s.feed.Warmup(sym, candles)
	}
	return nil
}

func (s *Service) logSummary() {
	orders, fills := s.broker.Stats()
	logger.Infof("纸面交易结束 cash=%.2f total=%.2f orders=%d fills=%d",
		s.broker.Cash(), s.broker.TotalValue(), orders, fills)
}

// Broker 暴露组合视图，供 HTTP 查询当前纸面账户。
func (s *Service) Broker() *broker.Broker { return s.broker }

// Recorder 暴露已记录的订单与成交。
func (s *Service) Recorder() *backtest.Recorder { return s.recorder }

func normalizeUniverse(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, sym := range in {
		s := strings.ToUpper(strings.TrimSpace(sym))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
