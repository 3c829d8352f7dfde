package adapter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"kiosk/internal/pkg/mq"
	"kiosk/internal/service/order/domain"
	"kiosk/internal/service/order/eventbus"
)

// DefaultEventTopic 是订单事件镜像的默认主题。
const DefaultEventTopic = "kiosk-order-events"

// OrderEventEnvelope 是镜像到 Kafka 的消息体。
type OrderEventEnvelope struct {
	EventID    string        `json:"event_id"`
	EventType  string        `json:"event_type"`
	OccurredAt time.Time     `json:"occurred_at"`
	Producer   string        `json:"producer"`
	Order      *domain.Order `json:"order"`
}

// EventKafkaAdapter 把总线上的订单事件镜像到 Kafka，供下游系统 (对账、报表) 消费。
// 写入失败只记录，不影响订单本身。
type EventKafkaAdapter struct {
	writer   mq.MessageWriter
	producer string
}

func NewEventKafkaAdapter(writer mq.MessageWriter, producer string) *EventKafkaAdapter {
	return &EventKafkaAdapter{writer: writer, producer: producer}
}

// Register 订阅所有订单事件。
func (a *EventKafkaAdapter) Register(bus *eventbus.Bus) func() {
	unsubscribes := make([]func(), 0, len(domain.AllEvents))
	for _, name := range domain.AllEvents {
		unsubscribes = append(unsubscribes, bus.Subscribe(name, a.Mirror))
	}
	return func() {
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
	}
}

// Mirror 发送一条事件，以订单号为 key 保证同一订单内有序。
func (a *EventKafkaAdapter) Mirror(ctx context.Context, event domain.OrderEvent) error {
	envelope := OrderEventEnvelope{
		EventID:    event.ID,
		EventType:  string(event.Name),
		OccurredAt: event.OccurredAt.UTC(),
		Producer:   a.producer,
		Order:      event.Order,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return errors.Wrap(err, "marshal order event")
	}

	err = mq.ProduceMessage(ctx, a.writer, []byte(event.Order.ID), payload)
	return errors.Wrapf(err, "mirror %s event", event.Name)
}
