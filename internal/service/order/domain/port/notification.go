package port

import "context"

// Notifier 是实时推送的出站端口。
type Notifier interface {
	// NotifyOrder 推送给订阅了该订单的所有连接。
	NotifyOrder(ctx context.Context, orderID string, payload []byte) int
	// NotifyAdmin 推送给所有店员终端。
	NotifyAdmin(ctx context.Context, payload []byte) int
}
