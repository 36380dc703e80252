// Package app 负责应用级编排：加载配置→初始化依赖→启动 HTTP 与纸面交易服务。
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"quiver/internal/backtest"
	qcfg "quiver/internal/config"
	"quiver/internal/live"
	"quiver/internal/logger"
	"quiver/internal/store"
)

// App 持有全部已装配的服务。
type App struct {
	cfg     *qcfg.Config
	candles *store.CandleStore
	results *backtest.ResultStore
	engine  *backtest.Engine
	fetcher *backtest.Fetcher
	httpSrv *backtest.HTTPServer
	live    *live.Service
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *qcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动 HTTP 服务与纸面交易（若启用），阻塞直到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	a.engine.SetContext(ctx)
	a.fetcher.SetContext(ctx)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.httpSrv.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	if a.live != nil {
		group.Go(func() error {
			return a.live.Run(ctx)
		})
	}
	err := group.Wait()
	if cerr := a.candles.Close(); cerr != nil {
		logger.Warnf("关闭 K 线存储失败: %v", cerr)
	}
	if cerr := a.results.Close(); cerr != nil {
		logger.Warnf("关闭结果存储失败: %v", cerr)
	}
	return err
}

// LiveService 暴露纸面交易服务实例（供测试/回放使用）。
func (a *App) LiveService() *live.Service {
	if a == nil {
		return nil
	}
	return a.live
}
