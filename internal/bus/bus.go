// Package bus 实现类型化的发布/订阅总线，支持两种派发模式：
// 回测用的同步 Drain（因果有序）与实盘用的常驻 Run 循环（按订阅者并发）。
package bus

import (
	"context"
	"sync"
	"time"

	"quiver/internal/event"
	"quiver/internal/logger"
)

// Handler 处理单个事件。Handler 内允许继续 Publish。
type Handler func(ctx context.Context, ev event.Event)

// subscriber 绑定一个组件的处理函数；连续模式下每个订阅者
// 拥有独立 worker，保证同一订阅者按发布顺序串行处理。
type subscriber struct {
	name    string
	kinds   map[event.Kind]bool
	handler Handler
	ch      chan event.Event
}

// Bus 维护一个有序事件队列与按 Kind 的订阅表。
type Bus struct {
	mu    sync.Mutex
	queue []event.Event
	wake  chan struct{}

	subs    []*subscriber
	sealed  bool
	pollGap time.Duration
}

// New 创建空总线。订阅需在 Drain/Run 之前完成。
func New() *Bus {
	return &Bus{
		wake:    make(chan struct{}, 1),
		pollGap: 200 * time.Millisecond,
	}
}

// Subscribe 注册 handler 监听一个或多个事件种类。
// 同一 Kind 的多个订阅者按注册顺序被调用。
func (b *Bus) Subscribe(name string, handler Handler, kinds ...event.Kind) {
	if handler == nil || len(kinds) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		logger.Warnf("[bus] %s 在派发开始后订阅，忽略", name)
		return
	}
	ks := make(map[event.Kind]bool, len(kinds))
	for _, k := range kinds {
		ks[k] = true
	}
	b.subs = append(b.subs, &subscriber{name: name, kinds: ks, handler: handler})
}

// Publish 将事件追加到队列，不阻塞调用方。
func (b *Bus) Publish(ev event.Event) {
	b.mu.Lock()
	b.queue = append(b.queue, ev)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Pending 返回当前排队事件数，仅用于观测。
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Bus) pop() (event.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return event.Event{}, false
	}
	ev := b.queue[0]
	b.queue = b.queue[1:]
	return ev, true
}

func (b *Bus) seal() []*subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sealed = true
	return b.subs
}

// Drain 同步处理队列直到为空：逐个取出事件，按注册顺序调用全部
// 订阅者并等待返回。处理过程中新发布的事件排在队尾，同一次 Drain
// 内继续处理，因此返回时 tick 的全部级联后果均已落定。
func (b *Bus) Drain(ctx context.Context) error {
	subs := b.seal()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, ok := b.pop()
		if !ok {
			return nil
		}
		for _, sub := range subs {
			if !sub.kinds[ev.Kind] {
				continue
			}
			invoke(ctx, sub, ev)
		}
	}
}

// Run 启动常驻派发循环：主循环以有限等待取事件并转发给各订阅者的
// worker，不等待 handler 完成。ctx 取消后进入停机排空，把剩余队列
// 连同在途 handler 级联产生的事件一并派发完再返回。
func (b *Bus) Run(ctx context.Context) {
	subs := b.seal()
	var wg sync.WaitGroup
	var inflight sync.WaitGroup
	for _, sub := range subs {
		sub.ch = make(chan event.Event, 1024)
		wg.Add(1)
		go func(s *subscriber) {
			defer wg.Done()
			for ev := range s.ch {
				invoke(ctx, s, ev)
				inflight.Done()
			}
		}(sub)
	}

	dispatch := func(ev event.Event) {
		for _, sub := range subs {
			if sub.kinds[ev.Kind] {
				inflight.Add(1)
				sub.ch <- ev
			}
		}
	}

	timer := time.NewTimer(b.pollGap)
	defer timer.Stop()
loop:
	for {
		ev, ok := b.pop()
		if ok {
			dispatch(ev)
			continue
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(b.pollGap)
		select {
		case <-ctx.Done():
			break loop
		case <-b.wake:
		case <-timer.C:
		}
	}

	// 停机排空：在途 handler 仍可能 Publish 级联事件，
	// 反复“派发完队列→等在途清零”，直到队列保持为空再关 worker。
	for {
		ev, ok := b.pop()
		if ok {
			dispatch(ev)
			continue
		}
		inflight.Wait()
		if b.Pending() == 0 {
			break
		}
	}
	for _, sub := range subs {
		close(sub.ch)
	}
	wg.Wait()
	logger.Infof("[bus] 派发循环已停止")
}

// invoke 在派发边界吞掉 handler 的 panic：记录事件上下文后继续，
// 单个订阅者出错不影响其他订阅者与后续事件。
func invoke(ctx context.Context, sub *subscriber, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[bus] 订阅者 %s 处理 %s(id=%s, at=%s) panic: %v",
				sub.name, ev.Kind, ev.ID, ev.At.Format(time.RFC3339), r)
		}
	}()
	sub.handler(ctx, ev)
}
