package feed

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"quiver/internal/bus"
	"quiver/internal/event"
	"quiver/internal/logger"
	"quiver/internal/market"
)

// LiveConfig 控制实时行情订阅。
type LiveConfig struct {
	Symbols []string
	// Interval 为 K 线周期（如 1m）。
	Interval string
	// Heartbeat 为 SystemStatus 心跳间隔，0 表示关闭。
	Heartbeat time.Duration
	// WindowCap 限制每个 symbol 的历史窗口长度。
	WindowCap int
}

// LiveFeed 通过 Binance USDT 合约 websocket 推送已收盘的 K 线。
// 实时模式不做 Drain 同步，事件进入总线后由常驻循环并发派发。
type LiveFeed struct {
	cfg LiveConfig
	bus *bus.Bus

	mu      sync.RWMutex
	windows map[string]*window
}

func NewLive(eb *bus.Bus, cfg LiveConfig) (*LiveFeed, error) {
	if eb == nil {
		return nil, fmt.Errorf("bus 不能为空")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("symbols 不能为空")
	}
	if cfg.Interval == "" {
		cfg.Interval = "1m"
	}
	return &LiveFeed{
		cfg:     cfg,
		bus:     eb,
		windows: make(map[string]*window),
	}, nil
}

// Warmup 预填历史窗口，策略上线即有足够回看数据。
func (f *LiveFeed) Warmup(symbol string, candles []market.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.windows[symbol]
	if !ok {
		w = newWindow(f.cfg.WindowCap)
		f.windows[symbol] = w
	}
	for _, c := range candles {
		w.push(c)
	}
}

// History 实现 HistoryProvider。
func (f *LiveFeed) History(symbol string, periods int) []market.Candle {
	f.mu.RLock()
	defer f.mu.RUnlock()
	w, ok := f.windows[symbol]
	if !ok {
		return nil
	}
	return w.tail(periods)
}

// Run 维持 websocket 订阅直到 ctx 取消，断线按退避重连。
func (f *LiveFeed) Run(ctx context.Context) error {
	if f.cfg.Heartbeat > 0 {
		go f.heartbeatLoop(ctx)
	}

	symbols := make(map[string]string, len(f.cfg.Symbols))
	for _, s := range f.cfg.Symbols {
		symbols[strings.ToUpper(strings.TrimSpace(s))] = f.cfg.Interval
	}

	delay := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		handler := func(ev *futures.WsKlineEvent) {
			f.onKline(ev)
		}
		errHandler := func(err error) {
			if err != nil {
				logger.Warnf("[feed] websocket 错误: %v", err)
			}
		}
		doneC, stopC, err := futures.WsCombinedKlineServe(symbols, handler, errHandler)
		if err != nil {
			logger.Warnf("[feed] 订阅失败: %v，%s 后重试", err, delay)
			if !sleepWithContext(ctx, delay) {
				return ctx.Err()
			}
			delay = nextDelay(delay)
			continue
		}
		delay = time.Second
		logger.Infof("[feed] 已订阅 %d 个 symbol 的 %s K 线", len(symbols), f.cfg.Interval)
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return ctx.Err()
		case <-doneC:
			logger.Warnf("[feed] websocket 连接断开，准备重连")
		}
	}
}

// onKline 只转发已收盘的 K 线，未收盘的中间状态直接丢弃。
func (f *LiveFeed) onKline(ev *futures.WsKlineEvent) {
	if ev == nil || !ev.Kline.IsFinal {
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(ev.Symbol))
	if symbol == "" {
		return
	}
	c := market.Candle{
		OpenTime:  ev.Kline.StartTime,
		CloseTime: ev.Kline.EndTime,
		Open:      parseFloat(ev.Kline.Open),
		High:      parseFloat(ev.Kline.High),
		Low:       parseFloat(ev.Kline.Low),
		Close:     parseFloat(ev.Kline.Close),
		Volume:    parseFloat(ev.Kline.Volume),
	}
	if c.Open <= 0 && c.Close <= 0 {
		return
	}
	bar := market.Bar{Symbol: symbol, Candle: c}
	f.mu.Lock()
	w, ok := f.windows[symbol]
	if !ok {
		w = newWindow(f.cfg.WindowCap)
		f.windows[symbol] = w
	}
	w.push(c)
	f.mu.Unlock()
	f.bus.Publish(bar.MarketEvent())
}

func (f *LiveFeed) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			f.bus.Publish(event.NewSystemStatus(t, "heartbeat"))
		}
	}
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
