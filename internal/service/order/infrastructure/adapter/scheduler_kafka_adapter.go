package adapter

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"kiosk/internal/pkg/mq"
	"kiosk/internal/service/order/domain"
)

const (
	// HeaderDeliverAt 记录任务的到期时间 (RFC3339Nano)。
	HeaderDeliverAt = "deliver-at"

	timeoutTopicPrefix = "order-timeout-"
)

// TimeoutTopic 返回某类超时任务所在的主题。同一主题内的任务延迟相同，
// 因此分区内的到期时间是单调的，消费者可以按顺序等待。
func TimeoutTopic(kind domain.TimeoutKind) string {
	switch kind {
	case domain.TimeoutAutoAccept:
		return timeoutTopicPrefix + "auto-accept"
	case domain.TimeoutPaymentExpiry:
		return timeoutTopicPrefix + "payment-expiry"
	}
	return timeoutTopicPrefix + string(kind)
}

// SchedulerKafkaAdapter 实现了 port.DelayScheduler 接口，任务写入 Kafka，进程重启后不会丢失。
type SchedulerKafkaAdapter struct {
	writers map[domain.TimeoutKind]mq.MessageWriter
}

// NewSchedulerKafkaAdapter 为每一类超时任务创建一个 writer。
func NewSchedulerKafkaAdapter(brokers []string) *SchedulerKafkaAdapter {
	return &SchedulerKafkaAdapter{
		writers: map[domain.TimeoutKind]mq.MessageWriter{
			domain.TimeoutAutoAccept:    mq.NewKafkaWriter(brokers, TimeoutTopic(domain.TimeoutAutoAccept)),
			domain.TimeoutPaymentExpiry: mq.NewKafkaWriter(brokers, TimeoutTopic(domain.TimeoutPaymentExpiry)),
		},
	}
}

func (a *SchedulerKafkaAdapter) Schedule(ctx context.Context, task domain.OrderTimeoutCheckEvent, delay time.Duration) error {
	writer, ok := a.writers[task.Kind]
	if !ok {
		return errors.Errorf("no topic for timeout kind %q", task.Kind)
	}
	if task.DeliverAt.IsZero() {
		task.DeliverAt = time.Now().Add(delay)
	}

	taskBytes, err := json.Marshal(task)
	if err != nil {
		return errors.Wrap(err, "marshal timeout task")
	}

	err = mq.ProduceMessage(ctx, writer, []byte(task.OrderID), taskBytes,
		kafka.Header{Key: HeaderDeliverAt, Value: []byte(task.DeliverAt.UTC().Format(time.RFC3339Nano))},
	)
	return errors.Wrapf(err, "schedule %s for order %s", task.Kind, task.OrderID)
}

// Close 关闭底层的 Kafka writer。
func (a *SchedulerKafkaAdapter) Close() error {
	var firstErr error
	for _, writer := range a.writers {
		closer, ok := writer.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
