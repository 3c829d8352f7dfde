package port

import (
	"context"
	"time"

	"kiosk/internal/service/order/domain"
)

// DelayScheduler 是延迟任务调度器的出站端口。
type DelayScheduler interface {
	// Schedule 安排 delay 之后执行一次超时检查，调度器不保证只投递一次。
	Schedule(ctx context.Context, task domain.OrderTimeoutCheckEvent, delay time.Duration) error
}

// TimeoutHandler 处理到期的超时检查任务。
type TimeoutHandler func(ctx context.Context, task domain.OrderTimeoutCheckEvent) error
