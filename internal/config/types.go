package config

import "strings"

// Config 是 Quiver 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Data     DataConfig     `toml:"data"`
	Market   MarketConfig   `toml:"market"`
	Backtest BacktestConfig `toml:"backtest"`
	Broker   BrokerConfig   `toml:"broker"`
	Strategy StrategyConfig `toml:"strategy"`
	Live     LiveConfig     `toml:"live"`
	Report   ReportConfig   `toml:"report"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// DataConfig 指定本地数据根目录（K 线库与结果库）。
type DataConfig struct {
	Root       string `toml:"root"`
	ResultsDir string `toml:"results_dir"`
}

type MarketConfig struct {
	RESTBaseURL      string `toml:"rest_base_url"`
	RateLimitPerMin  int    `toml:"rate_limit_per_min"`
	FetchConcurrency int    `toml:"fetch_concurrency"`
}

// BacktestConfig 为回测任务的缺省参数。
type BacktestConfig struct {
	Timeframe     string `toml:"timeframe"`
	MaxConcurrent int    `toml:"max_concurrent"`
}

// BrokerConfig 为模拟执行的资金与摩擦参数。
type BrokerConfig struct {
	InitialCash     float64 `toml:"initial_cash"`
	CommissionRate  float64 `toml:"commission_rate"`
	SlippageRate    float64 `toml:"slippage_rate"`
	LotSize         int64   `toml:"lot_size"`
	AllowShort      bool    `toml:"allow_short"`
	MaxPendingTicks int     `toml:"max_pending_ticks"`
}

// StrategyConfig 为动量策略参数；ParamsPath 指向可热更新的参数文件。
type StrategyConfig struct {
	Universe   []string `toml:"universe"`
	Lookback   int      `toml:"lookback"`
	TopK       int      `toml:"top_k"`
	Weight     float64  `toml:"weight"`
	ParamsPath string   `toml:"params_path"`
}

// LiveConfig 控制纸面实盘模式。
type LiveConfig struct {
	Enabled          bool   `toml:"enabled"`
	Interval         string `toml:"interval"`
	HeartbeatSeconds int    `toml:"heartbeat_seconds"`
	WarmupBars       int    `toml:"warmup_bars"`
}

// ReportConfig 控制回测报告输出。
type ReportConfig struct {
	Dir       string `toml:"dir"`
	RenderPNG bool   `toml:"render_png"`
}

// NormalizedUniverse 返回去重、大写化后的标的池。
func (s StrategyConfig) NormalizedUniverse() []string {
	if len(s.Universe) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.Universe))
	seen := make(map[string]bool, len(s.Universe))
	for _, sym := range s.Universe {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
