package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiosk/internal/pkg/mq"
	"kiosk/internal/service/order/domain"
	"kiosk/internal/service/order/infrastructure/adapter"
)

type fakeReader struct {
	msgs      chan kafka.Message
	mu        sync.Mutex
	committed []kafka.Message
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type fakeDLT struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *fakeDLT) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeDLT) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func TestTimeoutConsumer_DeliversDueTask(t *testing.T) {
	task := domain.OrderTimeoutCheckEvent{
		OrderID:       "o-1",
		Kind:          domain.TimeoutAutoAccept,
		ExpectedState: domain.StateWaitingAccept,
		DeliverAt:     time.Now().Add(-time.Second),
	}
	value, err := json.Marshal(task)
	require.NoError(t, err)

	reader := newFakeReader(kafka.Message{
		Key:   []byte(task.OrderID),
		Value: value,
		Headers: []kafka.Header{
			{Key: adapter.HeaderDeliverAt, Value: []byte(task.DeliverAt.UTC().Format(time.RFC3339Nano))},
		},
	})

	got := make(chan domain.OrderTimeoutCheckEvent, 1)
	consumer := NewOrderTimeOutConsumerAdapter(reader, &fakeDLT{}, func(_ context.Context, task domain.OrderTimeoutCheckEvent) error {
		got <- task
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, consumer.Start(ctx))

	select {
	case received := <-got:
		assert.Equal(t, "o-1", received.OrderID)
		assert.Equal(t, domain.TimeoutAutoAccept, received.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("task was not delivered")
	}
	assert.Eventually(t, func() bool { return reader.commits() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	consumer.Stop(context.Background())
}

func TestTimeoutConsumer_WaitsUntilDeliverAt(t *testing.T) {
	task := domain.OrderTimeoutCheckEvent{OrderID: "o-2", Kind: domain.TimeoutPaymentExpiry}
	value, err := json.Marshal(task)
	require.NoError(t, err)

	deliverAt := time.Now().Add(time.Hour)
	reader := newFakeReader(kafka.Message{
		Value:   value,
		Headers: []kafka.Header{{Key: adapter.HeaderDeliverAt, Value: []byte(deliverAt.Format(time.RFC3339Nano))}},
	})

	var slept time.Duration
	called := make(chan struct{}, 1)
	consumer := NewOrderTimeOutConsumerAdapter(reader, &fakeDLT{}, func(context.Context, domain.OrderTimeoutCheckEvent) error {
		called <- struct{}{}
		return nil
	})
	consumer.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, consumer.Start(ctx))

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("task was not delivered")
	}
	cancel()
	consumer.Stop(context.Background())

	assert.Greater(t, slept, 59*time.Minute)
}

func TestTimeoutConsumer_MalformedGoesToDLT(t *testing.T) {
	reader := newFakeReader(kafka.Message{Topic: "order-timeout-auto-accept", Offset: 7, Value: []byte("{not json")})
	dlt := &fakeDLT{}

	consumer := NewOrderTimeOutConsumerAdapter(reader, dlt, func(context.Context, domain.OrderTimeoutCheckEvent) error {
		t.Error("handler must not be called for malformed messages")
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, consumer.Start(ctx))

	assert.Eventually(t, func() bool { return reader.commits() == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	consumer.Stop(context.Background())

	written := dlt.written()
	require.Len(t, written, 1)
	assert.Equal(t, "order-timeout-auto-accept", mq.Header(written[0], mq.HeaderOriginalTopic))
	assert.Equal(t, "7", mq.Header(written[0], mq.HeaderOriginalOffset))
	assert.NotEmpty(t, mq.Header(written[0], mq.HeaderExceptionMessage))
}
