package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type runModel struct {
	ID          string `gorm:"primaryKey;size:36"`
	Status      string `gorm:"index;size:16"`
	Timeframe   string `gorm:"size:8"`
	StartTS     int64
	EndTS       int64
	InitialCash float64
	FinalValue  float64
	FinalCash   float64
	Profit      float64
	TotalReturn float64
	MaxDrawdown float64
	Sharpe      float64
	WinRate     float64
	Orders      int
	Fills       int
	Config      datatypes.JSON
	Stats       datatypes.JSON
	Message     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

func (runModel) TableName() string { return "backtest_runs" }

type orderModel struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	RunID    string `gorm:"index;size:36"`
	OrderID  string `gorm:"size:36"`
	Symbol   string `gorm:"size:32"`
	Side     string `gorm:"size:8"`
	Quantity int64
	TS       int64
}

func (orderModel) TableName() string { return "backtest_orders" }

type fillModel struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	RunID      string `gorm:"index;size:36"`
	OrderID    string `gorm:"size:36"`
	Symbol     string `gorm:"size:32"`
	Side       string `gorm:"size:8"`
	Quantity   int64
	Price      float64
	Commission float64
	TS         int64
}

func (fillModel) TableName() string { return "backtest_fills" }

type navModel struct {
	ID    uint   `gorm:"primaryKey;autoIncrement"`
	RunID string `gorm:"index;size:36"`
	TS    int64
	Value float64
}

func (navModel) TableName() string { return "backtest_nav" }

type positionModel struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	RunID       string `gorm:"index;size:36"`
	Symbol      string `gorm:"size:32"`
	Quantity    int64
	CostBasis   float64
	MarketPrice float64
	MarketValue float64
}

func (positionModel) TableName() string { return "backtest_positions" }

// ResultStore 基于 Gorm + SQLite 管理回测结果表。
type ResultStore struct {
	db *gorm.DB
}

func NewResultStore(root string) (*ResultStore, error) {
	if root == "" {
		return nil, fmt.Errorf("result store root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &orderModel{}, &fillModel{}, &navModel{}, &positionModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：允许少量并行读，写入仍串行。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertRun 写入一条新任务记录。
func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	model, err := runToModel(run)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// UpdateRunSummary 更新最终状态与全部指标。
func (s *ResultStore) UpdateRunSummary(ctx context.Context, id, status string, stats RunStats, message string) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	updates := map[string]any{
		"status":       status,
		"final_value":  stats.FinalValue,
		"final_cash":   stats.FinalCash,
		"profit":       stats.Profit,
		"total_return": stats.TotalReturn,
		"max_drawdown": stats.MaxDrawdown,
		"sharpe":       stats.Sharpe,
		"win_rate":     stats.WinRate,
		"orders":       stats.Orders,
		"fills":        stats.Fills,
		"stats":        datatypes.JSON(statsJSON),
		"message":      message,
	}
	if status == RunStatusDone || status == RunStatusFailed {
		now := time.Now()
		updates["completed_at"] = &now
	}
	return s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).Updates(updates).Error
}

// UpdateRunStatus 仅更新状态与提示信息。
func (s *ResultStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	updates := map[string]any{"status": status, "message": message}
	if status == RunStatusDone || status == RunStatusFailed {
		now := time.Now()
		updates["completed_at"] = &now
	}
	return s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).Updates(updates).Error
}

// SaveOrders 批量写入订单记录。
func (s *ResultStore) SaveOrders(ctx context.Context, runID string, orders []OrderRecord) error {
	if len(orders) == 0 {
		return nil
	}
	models := make([]orderModel, len(orders))
	for i, o := range orders {
		models[i] = orderModel{
			RunID:    runID,
			OrderID:  o.OrderID,
			Symbol:   o.Symbol,
			Side:     o.Side,
			Quantity: o.Quantity,
			TS:       o.At.UnixMilli(),
		}
	}
	return s.db.WithContext(ctx).CreateInBatches(models, 200).Error
}

// SaveFills 批量写入成交记录。
func (s *ResultStore) SaveFills(ctx context.Context, runID string, fills []FillRecord) error {
	if len(fills) == 0 {
		return nil
	}
	models := make([]fillModel, len(fills))
	for i, f := range fills {
		models[i] = fillModel{
			RunID:      runID,
			OrderID:    f.OrderID,
			Symbol:     f.Symbol,
			Side:       f.Side,
			Quantity:   f.Quantity,
			Price:      f.Price,
			Commission: f.Commission,
			TS:         f.At.UnixMilli(),
		}
	}
	return s.db.WithContext(ctx).CreateInBatches(models, 200).Error
}

// SaveNav 批量写入资金曲线。
func (s *ResultStore) SaveNav(ctx context.Context, runID string, nav []NavRecord) error {
	if len(nav) == 0 {
		return nil
	}
	models := make([]navModel, len(nav))
	for i, p := range nav {
		models[i] = navModel{RunID: runID, TS: p.TS, Value: p.Value}
	}
	return s.db.WithContext(ctx).CreateInBatches(models, 500).Error
}

// SavePositions 写入期末持仓快照。
func (s *ResultStore) SavePositions(ctx context.Context, runID string, positions []PositionRecord) error {
	if len(positions) == 0 {
		return nil
	}
	models := make([]positionModel, len(positions))
	for i, p := range positions {
		models[i] = positionModel{
			RunID:       runID,
			Symbol:      p.Symbol,
			Quantity:    p.Quantity,
			CostBasis:   p.CostBasis,
			MarketPrice: p.MarketPrice,
			MarketValue: p.MarketValue,
		}
	}
	return s.db.WithContext(ctx).CreateInBatches(models, 200).Error
}

// ListPositions 返回某次回测的期末持仓。
func (s *ResultStore) ListPositions(ctx context.Context, runID string) ([]PositionRecord, error) {
	var models []positionModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("symbol ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]PositionRecord, len(models))
	for i, m := range models {
		out[i] = PositionRecord{
			Symbol:      m.Symbol,
			Quantity:    m.Quantity,
			CostBasis:   m.CostBasis,
			MarketPrice: m.MarketPrice,
			MarketValue: m.MarketValue,
		}
	}
	return out, nil
}

func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var models []runModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(models))
	for _, m := range models {
		run, err := modelToRun(m)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	var m runModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return Run{}, err
	}
	return modelToRun(m)
}

func (s *ResultStore) ListOrders(ctx context.Context, runID string, limit int) ([]OrderRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var models []orderModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("id ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]OrderRecord, len(models))
	for i, m := range models {
		out[i] = OrderRecord{
			OrderID:  m.OrderID,
			Symbol:   m.Symbol,
			Side:     m.Side,
			Quantity: m.Quantity,
			At:       time.UnixMilli(m.TS),
		}
	}
	return out, nil
}

func (s *ResultStore) ListFills(ctx context.Context, runID string, limit int) ([]FillRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var models []fillModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("id ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]FillRecord, len(models))
	for i, m := range models {
		out[i] = FillRecord{
			OrderID:    m.OrderID,
			Symbol:     m.Symbol,
			Side:       m.Side,
			Quantity:   m.Quantity,
			Price:      m.Price,
			Commission: m.Commission,
			At:         time.UnixMilli(m.TS),
		}
	}
	return out, nil
}

func (s *ResultStore) NavSeries(ctx context.Context, runID string, limit int) ([]NavRecord, error) {
	if limit <= 0 || limit > 10000 {
		limit = 2000
	}
	var models []navModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("ts ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]NavRecord, len(models))
	for i, m := range models {
		out[i] = NavRecord{TS: m.TS, Value: m.Value}
	}
	return out, nil
}

func runToModel(run Run) (runModel, error) {
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return runModel{}, err
	}
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return runModel{}, err
	}
	m := runModel{
		ID:          run.ID,
		Status:      run.Status,
		Timeframe:   run.Timeframe,
		StartTS:     run.StartTS,
		EndTS:       run.EndTS,
		InitialCash: run.InitialCash,
		FinalValue:  run.FinalValue,
		FinalCash:   run.Stats.FinalCash,
		Profit:      run.Stats.Profit,
		TotalReturn: run.Stats.TotalReturn,
		MaxDrawdown: run.Stats.MaxDrawdown,
		Sharpe:      run.Stats.Sharpe,
		WinRate:     run.Stats.WinRate,
		Orders:      run.Stats.Orders,
		Fills:       run.Stats.Fills,
		Config:      datatypes.JSON(cfgJSON),
		Stats:       datatypes.JSON(statsJSON),
		Message:     run.Message,
	}
	if !run.CompletedAt.IsZero() {
		t := run.CompletedAt
		m.CompletedAt = &t
	}
	return m, nil
}

func modelToRun(m runModel) (Run, error) {
	run := Run{
		ID:          m.ID,
		Status:      m.Status,
		Timeframe:   m.Timeframe,
		StartTS:     m.StartTS,
		EndTS:       m.EndTS,
		InitialCash: m.InitialCash,
		FinalValue:  m.FinalValue,
		Message:     m.Message,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.CompletedAt != nil {
		run.CompletedAt = *m.CompletedAt
	}
	if len(m.Config) > 0 {
		if err := json.Unmarshal(m.Config, &run.Config); err != nil {
			return Run{}, err
		}
	}
	run.Symbols = run.Config.Symbols
	if len(m.Stats) > 0 {
		if err := json.Unmarshal(m.Stats, &run.Stats); err != nil {
			return Run{}, err
		}
	}
	return run, nil
}
