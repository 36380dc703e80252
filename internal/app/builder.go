package app

import (
	"context"
	"fmt"
	"time"

	"quiver/internal/backtest"
	"quiver/internal/broker"
	qcfg "quiver/internal/config"
	"quiver/internal/feed"
	"quiver/internal/live"
	"quiver/internal/logger"
	"quiver/internal/store"
)

// AppBuilder 按配置装配各服务，构造函数可被测试替换。
type AppBuilder struct {
	cfg *qcfg.Config

	candleStoreFn func(string) (*store.CandleStore, error)
	resultStoreFn func(string) (*backtest.ResultStore, error)
	liveServiceFn func(live.Config, *store.CandleStore) (*live.Service, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *qcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		candleStoreFn: store.NewCandleStore,
		resultStoreFn: backtest.NewResultStore,
		liveServiceFn: live.NewService,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	candles, err := b.candleStoreFn(cfg.Data.Root)
	if err != nil {
		return nil, fmt.Errorf("初始化 K 线存储失败: %w", err)
	}
	results, err := b.resultStoreFn(cfg.Data.ResultsDir)
	if err != nil {
		return nil, fmt.Errorf("初始化结果存储失败: %w", err)
	}

	source := feed.NewBinanceSource(cfg.Market.RESTBaseURL, cfg.Market.RateLimitPerMin)
	fetcher, err := backtest.NewFetcher(candles, source, cfg.Market.FetchConcurrency)
	if err != nil {
		return nil, fmt.Errorf("初始化回补服务失败: %w", err)
	}

	engine, err := backtest.NewEngine(backtest.EngineConfig{
		Candles:       candles,
		Results:       results,
		Defaults:      engineDefaults(cfg),
		MaxConcurrent: cfg.Backtest.MaxConcurrent,
		ReportDir:     cfg.Report.Dir,
		RenderPNG:     cfg.Report.RenderPNG,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化回测引擎失败: %w", err)
	}

	var liveSvc *live.Service
	var paper backtest.PaperAccount
	if cfg.Live.Enabled {
		liveSvc, err = b.liveServiceFn(liveConfig(cfg), candles)
		if err != nil {
			return nil, fmt.Errorf("初始化纸面交易失败: %w", err)
		}
		paper = liveSvc.Broker()
		logger.Infof("✓ 纸面交易已启用 universe=%v interval=%s",
			cfg.Strategy.NormalizedUniverse(), cfg.Live.Interval)
	}

	httpSrv, err := backtest.NewHTTPServer(backtest.HTTPConfig{
		Addr:    cfg.App.HTTPAddr,
		Fetcher: fetcher,
		Engine:  engine,
		Results: results,
		Candles: candles,
		Paper:   paper,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}

	return &App{
		cfg:     cfg,
		candles: candles,
		results: results,
		engine:  engine,
		fetcher: fetcher,
		httpSrv: httpSrv,
		live:    liveSvc,
	}, nil
}

func engineDefaults(cfg *qcfg.Config) backtest.Defaults {
	return backtest.Defaults{
		Timeframe:       cfg.Backtest.Timeframe,
		InitialCash:     cfg.Broker.InitialCash,
		CommissionRate:  cfg.Broker.CommissionRate,
		SlippageRate:    cfg.Broker.SlippageRate,
		LotSize:         cfg.Broker.LotSize,
		MaxPendingTicks: cfg.Broker.MaxPendingTicks,
		Lookback:        cfg.Strategy.Lookback,
		TopK:            cfg.Strategy.TopK,
		Weight:          cfg.Strategy.Weight,
	}
}

func liveConfig(cfg *qcfg.Config) live.Config {
	return live.Config{
		Universe:   cfg.Strategy.NormalizedUniverse(),
		Interval:   cfg.Live.Interval,
		Heartbeat:  time.Duration(cfg.Live.HeartbeatSeconds) * time.Second,
		WarmupBars: cfg.Live.WarmupBars,
		Lookback:   cfg.Strategy.Lookback,
		TopK:       cfg.Strategy.TopK,
		Weight:     cfg.Strategy.Weight,
		ParamsPath: cfg.Strategy.ParamsPath,
		Broker: broker.Config{
			InitialCash:     cfg.Broker.InitialCash,
			LotSize:         cfg.Broker.LotSize,
			CommissionRate:  cfg.Broker.CommissionRate,
			SlippageRate:    cfg.Broker.SlippageRate,
			AllowShort:      cfg.Broker.AllowShort,
			MaxPendingTicks: cfg.Broker.MaxPendingTicks,
		},
	}
}

func WithCandleStore(fn func(string) (*store.CandleStore, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.candleStoreFn = fn
		}
	}
}

func WithResultStore(fn func(string) (*backtest.ResultStore, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.resultStoreFn = fn
		}
	}
}

func WithLiveService(fn func(live.Config, *store.CandleStore) (*live.Service, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.liveServiceFn = fn
		}
	}
}
