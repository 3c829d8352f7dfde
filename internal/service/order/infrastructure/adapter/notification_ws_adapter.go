package adapter

import (
	"context"

	"kiosk/internal/pkg/logger"
	"kiosk/internal/service/order/domain/port"
)

// Pusher 是 push.Hub 的推送部分。
type Pusher interface {
	PushOrder(orderID string, msg []byte) int
	PushAdmin(msg []byte) int
}

var _ port.Notifier = (*NotificationWSAdapter)(nil)

// NotificationWSAdapter 把已编码的帧交给 websocket Hub。
type NotificationWSAdapter struct {
	pusher Pusher
}

func NewNotificationWSAdapter(pusher Pusher) *NotificationWSAdapter {
	return &NotificationWSAdapter{pusher: pusher}
}

func (a *NotificationWSAdapter) NotifyOrder(ctx context.Context, orderID string, payload []byte) int {
	sent := a.pusher.PushOrder(orderID, payload)
	logger.Ctx(ctx).Debug().Str("order_id", orderID).Int("sent", sent).Msg("order state pushed")
	return sent
}

func (a *NotificationWSAdapter) NotifyAdmin(ctx context.Context, payload []byte) int {
	sent := a.pusher.PushAdmin(payload)
	logger.Ctx(ctx).Debug().Int("sent", sent).Msg("admin state pushed")
	return sent
}
