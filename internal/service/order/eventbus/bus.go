// Package eventbus 在进程内按事件名扇出订单事件。
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"kiosk/internal/pkg/logger"
	"kiosk/internal/pkg/metrics"
	"kiosk/internal/service/order/domain"
)

// Handler 处理一个订单事件。返回的错误只会被记录，不会影响发布方。
type Handler func(ctx context.Context, event domain.OrderEvent) error

type subscription struct {
	id      uint64
	name    domain.EventName
	orderID string // 为空表示接收所有订单
	handler Handler
}

// SubscribeOption 调整订阅行为。
type SubscribeOption func(*subscription)

// WithOrderID 只接收指定订单的事件。
func WithOrderID(orderID string) SubscribeOption {
	return func(s *subscription) { s.orderID = orderID }
}

// Bus 是进程内事件总线，由组装根创建并注入，不使用全局单例。
type Bus struct {
	mu     sync.RWMutex
	subs   map[domain.EventName][]*subscription
	nextID uint64
	wg     sync.WaitGroup
}

func New() *Bus {
	return &Bus{subs: make(map[domain.EventName][]*subscription)}
}

// Subscribe 注册处理器，返回取消订阅函数。
func (b *Bus) Subscribe(name domain.EventName, handler Handler, opts ...SubscribeOption) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription{id: b.nextID, name: name, handler: handler}
	for _, opt := range opts {
		opt(sub)
	}
	b.subs[name] = append(b.subs[name], sub)

	return func() { b.unsubscribe(name, sub.id) }
}

func (b *Bus) unsubscribe(name domain.EventName, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[name]
	for i, s := range subs {
		if s.id == id {
			// 复制一份新切片，Publish 手里的快照不受影响
			next := make([]*subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			b.subs[name] = append(next, subs[i+1:]...)
			return
		}
	}
}

// Publish 异步调用所有匹配的处理器，立即返回。
// 每个处理器运行在独立的 goroutine 中，一个失败或 panic 不影响其他处理器。
func (b *Bus) Publish(ctx context.Context, name domain.EventName, order *domain.Order) {
	b.mu.RLock()
	subs := b.subs[name]
	b.mu.RUnlock()

	metrics.OrderEvents.WithLabelValues(string(name)).Inc()
	if len(subs) == 0 {
		return
	}

	event := domain.OrderEvent{
		ID:         uuid.NewString(),
		Name:       name,
		Order:      order.Clone(),
		OccurredAt: time.Now(),
	}

	// 处理器不应随请求结束而被取消，只保留链路信息
	detached := trace.ContextWithSpanContext(context.Background(), trace.SpanContextFromContext(ctx))

	for _, sub := range subs {
		if sub.orderID != "" && sub.orderID != order.ID {
			continue
		}
		b.wg.Add(1)
		go b.dispatch(detached, sub, event)
	}
}

func (b *Bus) dispatch(ctx context.Context, sub *subscription, event domain.OrderEvent) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			metrics.SubscriberFailures.WithLabelValues(string(event.Name)).Inc()
			logger.Ctx(ctx).Error().
				Str("event", string(event.Name)).
				Str("order_id", event.Order.ID).
				Str("panic", fmt.Sprint(r)).
				Msg("event handler panicked")
		}
	}()

	// 每个处理器拿到独立的快照，互相之间的修改不可见
	event.Order = event.Order.Clone()
	if err := sub.handler(ctx, event); err != nil {
		metrics.SubscriberFailures.WithLabelValues(string(event.Name)).Inc()
		logger.Ctx(ctx).Error().Err(err).
			Str("event", string(event.Name)).
			Str("order_id", event.Order.ID).
			Msg("event handler failed")
	}
}

// Wait 阻塞到所有已派发的处理器执行完毕。
func (b *Bus) Wait() {
	b.wg.Wait()
}
