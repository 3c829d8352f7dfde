package adapter

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiosk/internal/pkg/mq"
	"kiosk/internal/service/order/domain"
	"kiosk/internal/service/order/eventbus"
)

type recordingWriter struct {
	msgs chan kafka.Message
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{msgs: make(chan kafka.Message, 16)}
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		w.msgs <- m
	}
	return nil
}

func TestSchedulerKafkaAdapter_WritesToKindTopic(t *testing.T) {
	accept, expiry := newRecordingWriter(), newRecordingWriter()
	scheduler := &SchedulerKafkaAdapter{writers: map[domain.TimeoutKind]mq.MessageWriter{
		domain.TimeoutAutoAccept:    accept,
		domain.TimeoutPaymentExpiry: expiry,
	}}

	before := time.Now()
	err := scheduler.Schedule(context.Background(), domain.OrderTimeoutCheckEvent{
		OrderID:       "o-1",
		Kind:          domain.TimeoutPaymentExpiry,
		ExpectedState: domain.StateWaitingPayment,
	}, time.Minute)
	require.NoError(t, err)

	require.Len(t, expiry.msgs, 1)
	assert.Len(t, accept.msgs, 0)

	msg := <-expiry.msgs
	assert.Equal(t, "o-1", string(msg.Key))

	deliverAt, err := time.Parse(time.RFC3339Nano, mq.Header(msg, HeaderDeliverAt))
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(time.Minute), deliverAt, 5*time.Second)

	var task domain.OrderTimeoutCheckEvent
	require.NoError(t, json.Unmarshal(msg.Value, &task))
	assert.Equal(t, domain.StateWaitingPayment, task.ExpectedState)
	assert.Equal(t, domain.TimeoutPaymentExpiry, task.Kind)
}

func TestSchedulerKafkaAdapter_UnknownKind(t *testing.T) {
	scheduler := &SchedulerKafkaAdapter{writers: map[domain.TimeoutKind]mq.MessageWriter{}}
	err := scheduler.Schedule(context.Background(), domain.OrderTimeoutCheckEvent{Kind: "bogus"}, time.Second)
	assert.Error(t, err)
}

func TestTimeoutTopic(t *testing.T) {
	assert.Equal(t, "order-timeout-auto-accept", TimeoutTopic(domain.TimeoutAutoAccept))
	assert.Equal(t, "order-timeout-payment-expiry", TimeoutTopic(domain.TimeoutPaymentExpiry))
}

func TestEventKafkaAdapter_MirrorsBusEvents(t *testing.T) {
	writer := newRecordingWriter()
	mirror := NewEventKafkaAdapter(writer, "kiosk-order")

	bus := eventbus.New()
	defer mirror.Register(bus)()

	order := domain.NewOrder("o-9", 4, time.Now(), []domain.OrderItem{
		{MenuItem: domain.MenuItem{ID: "americano", Price: 3000}, Amount: 2},
	}, domain.PayDirect)
	bus.Publish(context.Background(), domain.EventPlaced, order)
	bus.Wait()

	require.Len(t, writer.msgs, 1)
	msg := <-writer.msgs
	assert.Equal(t, "o-9", string(msg.Key))

	var envelope OrderEventEnvelope
	require.NoError(t, json.Unmarshal(msg.Value, &envelope))
	assert.Equal(t, "placed", envelope.EventType)
	assert.Equal(t, "kiosk-order", envelope.Producer)
	assert.NotEmpty(t, envelope.EventID)
	require.NotNil(t, envelope.Order)
	assert.Equal(t, int64(6000), envelope.Order.Price)
}
