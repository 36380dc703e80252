package backtest

import (
	"time"

	"quiver/internal/metrics"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunConfig 记录本次回测的完整参数快照，便于重放。
type RunConfig struct {
	Symbols         []string `json:"symbols"`
	Timeframe       string   `json:"timeframe"`
	StartTS         int64    `json:"start_ts"`
	EndTS           int64    `json:"end_ts"`
	InitialCash     float64  `json:"initial_cash"`
	CommissionRate  float64  `json:"commission_rate"`
	SlippageRate    float64  `json:"slippage_rate"`
	LotSize         int64    `json:"lot_size"`
	AllowShort      bool     `json:"allow_short"`
	MaxPendingTicks int      `json:"max_pending_ticks"`
	Lookback        int      `json:"lookback"`
	TopK            int      `json:"top_k"`
	Weight          float64  `json:"weight"`
	Notes           string   `json:"notes,omitempty"`
}

// RunStats 汇总资金与绩效指标。FinalCash 与 Positions 共同还原
// 期末账户：FinalValue = FinalCash + Σ持仓市值。
type RunStats struct {
	FinalValue   float64         `json:"final_value"`
	FinalCash    float64         `json:"final_cash"`
	Profit       float64         `json:"profit"`
	TotalReturn  float64         `json:"total_return"`
	AnnualReturn float64         `json:"annual_return"`
	Sharpe       float64         `json:"sharpe"`
	Sortino      float64         `json:"sortino"`
	MaxDrawdown  float64         `json:"max_drawdown"`
	WinRate      float64         `json:"win_rate"`
	Volatility   float64         `json:"volatility"`
	Orders       int             `json:"orders"`
	Fills        int             `json:"fills"`
	NavPoints    int             `json:"nav_points"`
	FinishedAt   time.Time       `json:"finished_at"`
	Performance  metrics.Summary `json:"performance"`

	Positions []PositionRecord `json:"positions,omitempty"`
}

// PositionRecord 为推演结束时的单个持仓快照。
type PositionRecord struct {
	Symbol      string  `json:"symbol"`
	Quantity    int64   `json:"quantity"`
	CostBasis   float64 `json:"cost_basis"`
	MarketPrice float64 `json:"market_price"`
	MarketValue float64 `json:"market_value"`
}

// Run 表示一次回测任务。
type Run struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Symbols     []string  `json:"symbols"`
	Timeframe   string    `json:"timeframe"`
	StartTS     int64     `json:"start_ts"`
	EndTS       int64     `json:"end_ts"`
	InitialCash float64   `json:"initial_cash"`
	FinalValue  float64   `json:"final_value"`
	Message     string    `json:"message"`
	Config      RunConfig `json:"config"`
	Stats       RunStats  `json:"stats"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// OrderRecord 为总线上观察到的一笔已接受订单。
type OrderRecord struct {
	OrderID  string    `json:"order_id"`
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"`
	Quantity int64     `json:"quantity"`
	At       time.Time `json:"at"`
}

// FillRecord 为一笔全量成交。
type FillRecord struct {
	OrderID    string    `json:"order_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Quantity   int64     `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	At         time.Time `json:"at"`
}

// NavRecord 为资金曲线上的一个采样点。
type NavRecord struct {
	TS    int64   `json:"ts"`
	Value float64 `json:"value"`
}

// RunRequest 为 HTTP 提交使用，零值字段回落到配置默认值。
type RunRequest struct {
	Symbols         []string `json:"symbols" binding:"required"`
	Timeframe       string   `json:"timeframe"`
	StartTS         int64    `json:"start_ts" binding:"required"`
	EndTS           int64    `json:"end_ts" binding:"required"`
	InitialCash     float64  `json:"initial_cash"`
	CommissionRate  float64  `json:"commission_rate"`
	SlippageRate    float64  `json:"slippage_rate"`
	LotSize         int64    `json:"lot_size"`
	AllowShort      bool     `json:"allow_short"`
	MaxPendingTicks int      `json:"max_pending_ticks"`
	Lookback        int      `json:"lookback"`
	TopK            int      `json:"top_k"`
	Weight          float64  `json:"weight"`
	Notes           string   `json:"notes"`
}
