package adapter

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"kiosk/internal/pkg/logger"
	"kiosk/internal/service/order/domain"
	"kiosk/internal/service/order/domain/port"
)

var ErrSchedulerStopped = errors.New("scheduler stopped")

// SchedulerTimerAdapter 是 port.DelayScheduler 的进程内实现，每个任务一个独立的 timer。
// 进程重启会丢失未到期的任务。
type SchedulerTimerAdapter struct {
	mu      sync.Mutex
	handler port.TimeoutHandler
	timers  map[*time.Timer]struct{}
	stopped bool
	wg      sync.WaitGroup
}

func NewSchedulerTimerAdapter() *SchedulerTimerAdapter {
	return &SchedulerTimerAdapter{timers: make(map[*time.Timer]struct{})}
}

// Start 设置到期处理函数。应用服务依赖调度器，所以处理函数只能在组装完成后注入。
func (a *SchedulerTimerAdapter) Start(handler port.TimeoutHandler) {
	a.mu.Lock()
	a.handler = handler
	a.mu.Unlock()
}

func (a *SchedulerTimerAdapter) Schedule(ctx context.Context, task domain.OrderTimeoutCheckEvent, delay time.Duration) error {
	spanCtx := trace.SpanContextFromContext(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return ErrSchedulerStopped
	}

	a.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		defer a.wg.Done()

		a.mu.Lock()
		delete(a.timers, timer)
		handler := a.handler
		a.mu.Unlock()

		fireCtx := trace.ContextWithRemoteSpanContext(context.Background(), spanCtx)
		if handler == nil {
			logger.Ctx(fireCtx).Error().Str("order_id", task.OrderID).Msg("timeout fired before scheduler was started")
			return
		}
		if err := handler(fireCtx, task); err != nil {
			logger.Ctx(fireCtx).Error().Err(err).
				Str("order_id", task.OrderID).
				Str("kind", string(task.Kind)).
				Msg("timeout check failed")
		}
	})
	a.timers[timer] = struct{}{}
	return nil
}

// Pending 返回尚未触发的任务数。
func (a *SchedulerTimerAdapter) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.timers)
}

// Stop 取消所有未触发的任务，并等待正在执行的任务结束。
func (a *SchedulerTimerAdapter) Stop() {
	a.mu.Lock()
	a.stopped = true
	for timer := range a.timers {
		if timer.Stop() {
			a.wg.Done()
		}
		delete(a.timers, timer)
	}
	a.mu.Unlock()
	a.wg.Wait()
}
