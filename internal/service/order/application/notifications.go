package application

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"kiosk/internal/service/order/domain"
	"kiosk/internal/service/order/domain/port"
	"kiosk/internal/service/order/eventbus"
)

const codeStateUpdate = "STATE_UPDATE"

// stateUpdate 是推送给终端的帧。
type stateUpdate struct {
	Code string        `json:"code"`
	Data *domain.Order `json:"data"`
}

// Notifications 把总线上的订单事件转成终端推送：下单终端关心支付之后的状态变化，店员终端接收全部事件。
type Notifications struct {
	notifier port.Notifier
}

func NewNotifications(notifier port.Notifier) *Notifications {
	return &Notifications{notifier: notifier}
}

// Register 在总线上注册订阅，返回一次性取消全部订阅的函数。
func (n *Notifications) Register(bus *eventbus.Bus) func() {
	var unsubscribes []func()
	for _, name := range []domain.EventName{domain.EventPayments, domain.EventAccepted, domain.EventCanceled, domain.EventStatusUpdate} {
		unsubscribes = append(unsubscribes, bus.Subscribe(name, n.onOrderEvent))
	}
	for _, name := range domain.AllEvents {
		unsubscribes = append(unsubscribes, bus.Subscribe(name, n.onAdminEvent))
	}
	return func() {
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
	}
}

func (n *Notifications) onOrderEvent(ctx context.Context, event domain.OrderEvent) error {
	payload, err := encodeStateUpdate(event.Order)
	if err != nil {
		return err
	}
	n.notifier.NotifyOrder(ctx, event.Order.ID, payload)
	return nil
}

func (n *Notifications) onAdminEvent(ctx context.Context, event domain.OrderEvent) error {
	payload, err := encodeStateUpdate(event.Order)
	if err != nil {
		return err
	}
	n.notifier.NotifyAdmin(ctx, payload)
	return nil
}

func encodeStateUpdate(order *domain.Order) ([]byte, error) {
	payload, err := json.Marshal(stateUpdate{Code: codeStateUpdate, Data: order})
	return payload, errors.Wrap(err, "encode state update")
}
