package backtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"quiver/internal/broker"
	"quiver/internal/bus"
	"quiver/internal/feed"
	"quiver/internal/logger"
	"quiver/internal/market"
	"quiver/internal/metrics"
	"quiver/internal/report"
	"quiver/internal/store"
	"quiver/internal/strategy"
)

// Defaults 为 RunRequest 缺省字段的回落值，来自配置文件。
type Defaults struct {
	Timeframe       string
	InitialCash     float64
	CommissionRate  float64
	SlippageRate    float64
	LotSize         int64
	MaxPendingTicks int
	Lookback        int
	TopK            int
	Weight          float64
}

type EngineConfig struct {
	Candles       *store.CandleStore
	Results       *ResultStore
	Defaults      Defaults
	MaxConcurrent int
	// ReportDir 非空时，完成的 run 会落一份 HTML 报告。
	ReportDir string
	// RenderPNG 同时渲染 PNG，需要 headless Chrome。
	RenderPNG bool
}

// Engine 负责将历史 K 线推演为资金曲线并落库。
type Engine struct {
	candles   *store.CandleStore
	results   *ResultStore
	defaults  Defaults
	reportDir string
	renderPNG bool

	sem     chan struct{}
	baseCtx context.Context
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Candles == nil {
		return nil, fmt.Errorf("candle store 不能为空")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("result store 不能为空")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Engine{
		candles:   cfg.Candles,
		results:   cfg.Results,
		defaults:  cfg.Defaults,
		reportDir: cfg.ReportDir,
		renderPNG: cfg.RenderPNG,
		sem:       make(chan struct{}, maxConcurrent),
		baseCtx:   context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (e *Engine) SetContext(ctx context.Context) {
	if ctx != nil {
		e.baseCtx = ctx
	}
}

func (e *Engine) ctx() context.Context {
	if e.baseCtx != nil {
		return e.baseCtx
	}
	return context.Background()
}

// StartRun 创建回测任务并立即返回，推演在后台进行。
func (e *Engine) StartRun(req RunRequest) (Run, error) {
	cfg, err := e.normalize(req)
	if err != nil {
		return Run{}, err
	}
	run := Run{
		ID:          uuid.NewString(),
		Status:      RunStatusPending,
		Symbols:     cfg.Symbols,
		Timeframe:   cfg.Timeframe,
		StartTS:     cfg.StartTS,
		EndTS:       cfg.EndTS,
		InitialCash: cfg.InitialCash,
		FinalValue:  cfg.InitialCash,
		Config:      cfg,
		Stats:       RunStats{FinalValue: cfg.InitialCash},
	}
	if err := e.results.InsertRun(e.ctx(), run); err != nil {
		return Run{}, err
	}
	go e.runLoop(run.ID, cfg)
	return run, nil
}

func (e *Engine) normalize(req RunRequest) (RunConfig, error) {
	if len(req.Symbols) == 0 {
		return RunConfig{}, fmt.Errorf("symbols 不能为空")
	}
	symbols := make([]string, 0, len(req.Symbols))
	seen := make(map[string]bool, len(req.Symbols))
	for _, s := range req.Symbols {
		sym := strings.ToUpper(strings.TrimSpace(s))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		symbols = append(symbols, sym)
	}
	if len(symbols) == 0 {
		return RunConfig{}, fmt.Errorf("symbols 不能为空")
	}
	sort.Strings(symbols)

	tfKey := req.Timeframe
	if tfKey == "" {
		tfKey = e.defaults.Timeframe
	}
	tf, err := ParseTimeframe(tfKey)
	if err != nil {
		return RunConfig{}, err
	}
	start, end := tf.AlignRange(req.StartTS, req.EndTS)
	if start <= 0 || end <= start {
		return RunConfig{}, fmt.Errorf("start/end 非法")
	}

	cfg := RunConfig{
		Symbols:         symbols,
		Timeframe:       tf.Key,
		StartTS:         start,
		EndTS:           end,
		InitialCash:     pick(req.InitialCash, e.defaults.InitialCash, 100000),
		CommissionRate:  pick(req.CommissionRate, e.defaults.CommissionRate, 0),
		SlippageRate:    pick(req.SlippageRate, e.defaults.SlippageRate, 0),
		LotSize:         pickInt64(req.LotSize, e.defaults.LotSize, 1),
		AllowShort:      req.AllowShort,
		MaxPendingTicks: pickPendingTicks(req.MaxPendingTicks, e.defaults.MaxPendingTicks),
		Lookback:        pickInt(req.Lookback, e.defaults.Lookback, 20),
		TopK:            pickInt(req.TopK, e.defaults.TopK, 1),
		Weight:          pick(req.Weight, e.defaults.Weight, 0.5),
		Notes:           req.Notes,
	}
	return cfg, nil
}

func (e *Engine) runLoop(runID string, cfg RunConfig) {
	select {
	case e.sem <- struct{}{}:
	case <-e.ctx().Done():
		_ = e.results.UpdateRunStatus(context.Background(), runID, RunStatusFailed, "服务已关闭")
		return
	}
	defer func() { <-e.sem }()

	ctx := e.ctx()
	if err := e.results.UpdateRunStatus(ctx, runID, RunStatusRunning, ""); err != nil {
		logger.Warnf("[backtest] run %s 状态更新失败: %v", runID, err)
	}
	logger.Infof("[backtest] run %s 开始：%v %s [%d,%d]", runID, cfg.Symbols, cfg.Timeframe, cfg.StartTS, cfg.EndTS)

	data := make(map[string][]market.Candle, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		candles, err := e.candles.RangeCandles(ctx, sym, cfg.Timeframe, cfg.StartTS, cfg.EndTS)
		if err != nil {
			e.fail(runID, fmt.Sprintf("%s 读取 K 线失败: %v", sym, err))
			return
		}
		if len(candles) == 0 {
			e.fail(runID, fmt.Sprintf("%s 在区间内无数据，请先回补", sym))
			return
		}
		data[sym] = candles
	}

	result, err := Execute(ctx, cfg, data)
	if err != nil {
		e.fail(runID, err.Error())
		return
	}

	if err := e.results.SaveOrders(ctx, runID, result.Orders); err != nil {
		logger.Warnf("[backtest] run %s 订单落库失败: %v", runID, err)
	}
	if err := e.results.SaveFills(ctx, runID, result.Fills); err != nil {
		logger.Warnf("[backtest] run %s 成交落库失败: %v", runID, err)
	}
	if err := e.results.SaveNav(ctx, runID, result.Nav); err != nil {
		logger.Warnf("[backtest] run %s 资金曲线落库失败: %v", runID, err)
	}
	if err := e.results.SavePositions(ctx, runID, result.Stats.Positions); err != nil {
		logger.Warnf("[backtest] run %s 持仓快照落库失败: %v", runID, err)
	}
	if err := e.results.UpdateRunSummary(ctx, runID, RunStatusDone, result.Stats, ""); err != nil {
		logger.Errorf("[backtest] run %s 汇总落库失败: %v", runID, err)
		return
	}
	logger.Infof("[backtest] run %s 完成：终值=%.2f 收益=%.2f%% 回撤=%.2f%% 成交=%d",
		runID, result.Stats.FinalValue, result.Stats.TotalReturn*100, result.Stats.MaxDrawdown*100, result.Stats.Fills)
	e.writeReport(ctx, runID, cfg, result)
}

func (e *Engine) writeReport(ctx context.Context, runID string, cfg RunConfig, result Result) {
	if e.reportDir == "" {
		return
	}
	equity := make([]metrics.EquityPoint, len(result.Nav))
	for i, p := range result.Nav {
		equity[i] = metrics.EquityPoint{At: time.UnixMilli(p.TS).UTC(), Value: p.Value}
	}
	input := report.Input{
		RunID:   runID,
		Title:   fmt.Sprintf("Backtest %s %s", strings.Join(cfg.Symbols, ","), cfg.Timeframe),
		Equity:  equity,
		Summary: result.Stats.Performance,
	}
	path, err := report.WriteHTML(e.reportDir, input)
	if err != nil {
		logger.Warnf("[backtest] run %s 报告生成失败: %v", runID, err)
		return
	}
	logger.Infof("[backtest] run %s 报告已生成: %s", runID, path)
	if e.renderPNG {
		if _, err := report.WritePNG(ctx, e.reportDir, input); err != nil {
			logger.Warnf("[backtest] run %s PNG 渲染跳过: %v", runID, err)
		}
	}
}

func (e *Engine) fail(runID, message string) {
	logger.Errorf("[backtest] run %s 失败: %s", runID, message)
	if err := e.results.UpdateRunStatus(context.Background(), runID, RunStatusFailed, message); err != nil {
		logger.Warnf("[backtest] run %s 失败状态写入失败: %v", runID, err)
	}
}

// Result 为一次推演的完整产出。
type Result struct {
	Stats  RunStats
	Orders []OrderRecord
	Fills  []FillRecord
	Nav    []NavRecord
}

// Execute 在内存中完成一次完整回放：组装总线、经纪、策略与回放源，
// 同步排空每个时间戳的全部级联事件，结束后汇总指标。
func Execute(ctx context.Context, cfg RunConfig, data map[string][]market.Candle) (Result, error) {
	tf, err := ParseTimeframe(cfg.Timeframe)
	if err != nil {
		return Result{}, err
	}

	eb := bus.New()
	brk, err := broker.New(broker.Config{
		InitialCash:     cfg.InitialCash,
		LotSize:         cfg.LotSize,
		CommissionRate:  cfg.CommissionRate,
		SlippageRate:    cfg.SlippageRate,
		AllowShort:      cfg.AllowShort,
		MaxPendingTicks: cfg.MaxPendingTicks,
	}, eb)
	if err != nil {
		return Result{}, err
	}

	replay, err := feed.NewReplay(eb, data)
	if err != nil {
		return Result{}, err
	}

	strat, err := strategy.NewMomentum(strategy.MomentumConfig{
		Universe: cfg.Symbols,
		Lookback: cfg.Lookback,
		TopK:     cfg.TopK,
		Weight:   cfg.Weight,
	}, replay, brk)
	if err != nil {
		return Result{}, err
	}
	engine, err := strategy.NewEngine(eb, strat)
	if err != nil {
		return Result{}, err
	}
	recorder := NewRecorder()

	// 订阅顺序即同一事件的处理顺序：经纪先结算/记账，策略再产生新信号。
	brk.Attach(eb)
	engine.Attach()
	recorder.Attach(eb)

	if err := replay.Run(ctx); err != nil {
		return Result{}, err
	}

	nav := brk.NavHistory()
	equity := make([]metrics.EquityPoint, len(nav))
	navRecords := make([]NavRecord, len(nav))
	for i, p := range nav {
		equity[i] = metrics.EquityPoint{At: p.At, Value: p.Value}
		navRecords[i] = NavRecord{TS: p.At.UnixMilli(), Value: p.Value}
	}
	perf := metrics.Compute(equity, tf.PeriodsPerYear())
	orders, fills := brk.Stats()

	positions := make([]PositionRecord, 0)
	for sym, pos := range brk.Positions() {
		if pos.Quantity == 0 {
			continue
		}
		positions = append(positions, PositionRecord{
			Symbol:      sym,
			Quantity:    pos.Quantity,
			CostBasis:   pos.CostBasis,
			MarketPrice: pos.MarketPrice,
			MarketValue: pos.MarkValue(),
		})
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })

	stats := RunStats{
		FinalValue:   brk.TotalValue(),
		FinalCash:    brk.Cash(),
		Profit:       brk.TotalValue() - cfg.InitialCash,
		TotalReturn:  perf.TotalReturn,
		AnnualReturn: perf.AnnualReturn,
		Sharpe:       perf.Sharpe,
		Sortino:      perf.Sortino,
		MaxDrawdown:  perf.MaxDrawdown,
		WinRate:      perf.WinRate,
		Volatility:   perf.Volatility,
		Orders:       orders,
		Fills:        fills,
		NavPoints:    len(nav),
		FinishedAt:   time.Now(),
		Performance:  perf,
		Positions:    positions,
	}
	return Result{
		Stats:  stats,
		Orders: recorder.Orders(),
		Fills:  recorder.Fills(),
		Nav:    navRecords,
	}, nil
}

func pick(v, fallback, hard float64) float64 {
	if v > 0 {
		return v
	}
	if fallback > 0 {
		return fallback
	}
	return hard
}

func pickInt(v, fallback, hard int) int {
	if v > 0 {
		return v
	}
	if fallback > 0 {
		return fallback
	}
	return hard
}

// pickPendingTicks：请求里 0 表示沿用配置值（配置里显式 0 = 永不过期），
// 负数表示本次 run 强制永不过期。
func pickPendingTicks(v, fallback int) int {
	if v > 0 {
		return v
	}
	if v < 0 {
		return 0
	}
	return fallback
}

func pickInt64(v, fallback, hard int64) int64 {
	if v > 0 {
		return v
	}
	if fallback > 0 {
		return fallback
	}
	return hard
}
