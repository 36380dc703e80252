package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Strategy.validate(c.Live.Enabled); err != nil {
		return err
	}
	if err := c.Live.validate(); err != nil {
		return err
	}
	return nil
}

func (d *DataConfig) validate() error {
	if strings.TrimSpace(d.Root) == "" {
		return fmt.Errorf("data.root cannot be empty")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if strings.TrimSpace(m.RESTBaseURL) == "" {
		return fmt.Errorf("market.rest_base_url cannot be empty")
	}
	if m.RateLimitPerMin < 0 {
		return fmt.Errorf("market.rate_limit_per_min must be >= 0")
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if !IsValidInterval(b.Timeframe) {
		return fmt.Errorf("backtest.timeframe invalid: %s", b.Timeframe)
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	if b.InitialCash <= 0 {
		return fmt.Errorf("broker.initial_cash must be > 0")
	}
	if b.CommissionRate < 0 {
		return fmt.Errorf("broker.commission_rate must be >= 0")
	}
	if b.SlippageRate < 0 {
		return fmt.Errorf("broker.slippage_rate must be >= 0")
	}
	if b.LotSize <= 0 {
		return fmt.Errorf("broker.lot_size must be > 0")
	}
	if b.MaxPendingTicks < 0 {
		return fmt.Errorf("broker.max_pending_ticks must be >= 0")
	}
	return nil
}

func (s *StrategyConfig) validate(liveEnabled bool) error {
	if s.Lookback <= 0 {
		return fmt.Errorf("strategy.lookback must be > 0")
	}
	if s.TopK <= 0 {
		return fmt.Errorf("strategy.top_k must be > 0")
	}
	if s.Weight <= 0 || s.Weight > 1 {
		return fmt.Errorf("strategy.weight must be in (0, 1]")
	}
	if liveEnabled && len(s.NormalizedUniverse()) == 0 {
		return fmt.Errorf("strategy.universe cannot be empty when live.enabled")
	}
	return nil
}

func (l *LiveConfig) validate() error {
	if !l.Enabled {
		return nil
	}
	if !IsValidInterval(l.Interval) {
		return fmt.Errorf("live.interval invalid: %s", l.Interval)
	}
	return nil
}

// IsValidInterval 简易校验：以数字开头，以 m/h/d/w 结尾
func IsValidInterval(s string) bool {
	if s == "" {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
