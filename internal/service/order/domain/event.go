// internal/service/order/domain/event.go
package domain

import "time"

// EventName 是事件总线上的事件名。
type EventName string

const (
	EventPlaced       EventName = "placed"
	EventPayments     EventName = "payments"
	EventAccepted     EventName = "accepted"
	EventCanceled     EventName = "canceled"
	EventStatusUpdate EventName = "statusUpdate"
)

// AllEvents 供需要订阅全部事件的消费者使用 (推送、镜像)。
var AllEvents = []EventName{EventPlaced, EventPayments, EventAccepted, EventCanceled, EventStatusUpdate}

// OrderEvent 在订单持久化成功之后发布，Order 是发布时刻的快照。
type OrderEvent struct {
	ID         string    `json:"eventId"`
	Name       EventName `json:"event"`
	Order      *Order    `json:"order"`
	OccurredAt time.Time `json:"occurredAt"`
}

// TimeoutKind 区分两类超时检查。
type TimeoutKind string

const (
	TimeoutAutoAccept    TimeoutKind = "auto_accept"
	TimeoutPaymentExpiry TimeoutKind = "payment_expiry"
)

// OrderTimeoutCheckEvent 是延迟到期后需要执行的检查任务。
// 只有到期时订单仍处于 ExpectedState 才会执行动作。
type OrderTimeoutCheckEvent struct {
	TraceID       string      `json:"traceId"`
	OrderID       string      `json:"orderId"`
	Kind          TimeoutKind `json:"kind"`
	ExpectedState State       `json:"expectedState"`
	CreationTime  time.Time   `json:"creationTime"`
	DeliverAt     time.Time   `json:"deliverAt"`
}
