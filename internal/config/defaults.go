package config

import "strings"

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9991"
	defaultAppLogPath        = "/data/logs/quiver.log"
	defaultDataRoot          = "/data/candles"
	defaultResultsDir        = "/data/results"
	defaultMarketREST        = "https://fapi.binance.com"
	defaultMarketRateLimit   = 480
	defaultMarketConcurrency = 2
	defaultBacktestTimeframe = "1d"
	defaultBacktestWorkers   = 1
	defaultBrokerCash        = 100000
	defaultBrokerLot         = 1
	defaultBrokerPendingCap  = 10
	defaultStrategyLookback  = 20
	defaultStrategyTopK      = 1
	defaultStrategyWeight    = 0.5
	defaultLiveInterval      = "1m"
	defaultLiveHeartbeat     = 30
	defaultLiveWarmup        = 200
	defaultReportDir         = "/data/reports"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
	c.Live.applyDefaults(keys)
	c.Report.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.root", &d.Root, defaultDataRoot),
		stringFieldDefault("data.results_dir", &d.ResultsDir, defaultResultsDir),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		fieldDefault{
			key:   "market.rate_limit_per_min",
			need:  func() bool { return m.RateLimitPerMin <= 0 },
			apply: func() { m.RateLimitPerMin = defaultMarketRateLimit },
		},
		fieldDefault{
			key:   "market.fetch_concurrency",
			need:  func() bool { return m.FetchConcurrency <= 0 },
			apply: func() { m.FetchConcurrency = defaultMarketConcurrency },
		},
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("backtest.timeframe", &b.Timeframe, defaultBacktestTimeframe),
		fieldDefault{
			key:   "backtest.max_concurrent",
			need:  func() bool { return b.MaxConcurrent <= 0 },
			apply: func() { b.MaxConcurrent = defaultBacktestWorkers },
		},
	)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "broker.initial_cash",
			need:  func() bool { return b.InitialCash <= 0 },
			apply: func() { b.InitialCash = defaultBrokerCash },
		},
		fieldDefault{
			key:   "broker.lot_size",
			need:  func() bool { return b.LotSize <= 0 },
			apply: func() { b.LotSize = defaultBrokerLot },
		},
		fieldDefault{
			key:   "broker.max_pending_ticks",
			need:  func() bool { return b.MaxPendingTicks < 0 },
			apply: func() { b.MaxPendingTicks = defaultBrokerPendingCap },
		},
	)
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "strategy.lookback",
			need:  func() bool { return s.Lookback <= 0 },
			apply: func() { s.Lookback = defaultStrategyLookback },
		},
		fieldDefault{
			key:   "strategy.top_k",
			need:  func() bool { return s.TopK <= 0 },
			apply: func() { s.TopK = defaultStrategyTopK },
		},
		fieldDefault{
			key:   "strategy.weight",
			need:  func() bool { return s.Weight <= 0 },
			apply: func() { s.Weight = defaultStrategyWeight },
		},
	)
}

func (l *LiveConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("live.interval", &l.Interval, defaultLiveInterval),
		fieldDefault{
			key:   "live.heartbeat_seconds",
			need:  func() bool { return l.HeartbeatSeconds <= 0 },
			apply: func() { l.HeartbeatSeconds = defaultLiveHeartbeat },
		},
		fieldDefault{
			key:   "live.warmup_bars",
			need:  func() bool { return l.WarmupBars <= 0 },
			apply: func() { l.WarmupBars = defaultLiveWarmup },
		},
	)
}

func (r *ReportConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("report.dir", &r.Dir, defaultReportDir),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
