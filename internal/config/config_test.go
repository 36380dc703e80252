package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
data:
  root: /tmp/candles
strategy:
  universe: [btcusdt]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.App.Env)
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)
	assert.Equal(t, "1d", cfg.Backtest.Timeframe)
	assert.Equal(t, float64(100000), cfg.Broker.InitialCash)
	assert.Equal(t, int64(1), cfg.Broker.LotSize)
	assert.Equal(t, 10, cfg.Broker.MaxPendingTicks)
	assert.Equal(t, 20, cfg.Strategy.Lookback)
	assert.Equal(t, 0.5, cfg.Strategy.Weight)
	assert.Equal(t, "1m", cfg.Live.Interval)
}

func TestLoad_ExplicitZeroKeptWhenSet(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
data:
  root: /tmp/candles
broker:
  max_pending_ticks: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	// 显式写 0 表示挂单永不过期，不回落到默认值。
	assert.Equal(t, 0, cfg.Broker.MaxPendingTicks)
}

func TestLoad_IncludeMergeOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
data:
  root: /tmp/candles
broker:
  initial_cash: 50000
  commission_rate: 0.001
`)
	main := writeConfig(t, dir, "config.yaml", `
include: [base.yaml]
broker:
  initial_cash: 200000
`)
	cfg, err := Load(main)
	require.NoError(t, err)
	// 主文件后加载，覆盖 include；未覆盖的键保留。
	assert.Equal(t, float64(200000), cfg.Broker.InitialCash)
	assert.Equal(t, 0.001, cfg.Broker.CommissionRate)
}

func TestLoad_ValidationRejectsBadWeight(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
data:
  root: /tmp/candles
strategy:
  weight: 1.5
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_LiveRequiresUniverse(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
data:
  root: /tmp/candles
live:
  enabled: true
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestNormalizedUniverse_DedupAndUpper(t *testing.T) {
	s := StrategyConfig{Universe: []string{" btcusdt ", "ETHUSDT", "btcusdt", ""}}
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, s.NormalizedUniverse())
}

func TestIsValidInterval(t *testing.T) {
	assert.True(t, IsValidInterval("1m"))
	assert.True(t, IsValidInterval("4h"))
	assert.True(t, IsValidInterval("1d"))
	assert.False(t, IsValidInterval(""))
	assert.False(t, IsValidInterval("d1"))
	assert.False(t, IsValidInterval("1x"))
}
