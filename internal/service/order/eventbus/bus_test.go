package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiosk/internal/service/order/domain"
)

func testOrder(id string) *domain.Order {
	return &domain.Order{ID: id, State: domain.StateWaitingAccept, Items: []domain.OrderItem{{Amount: 1}}}
}

func TestPublishInvokesEverySubscriber(t *testing.T) {
	bus := New()
	var calls atomic.Int32
	for i := 0; i < 3; i++ {
		bus.Subscribe(domain.EventPayments, func(ctx context.Context, ev domain.OrderEvent) error {
			calls.Add(1)
			return nil
		})
	}
	bus.Subscribe(domain.EventAccepted, func(ctx context.Context, ev domain.OrderEvent) error {
		t.Error("accepted handler must not receive payments events")
		return nil
	})

	bus.Publish(context.Background(), domain.EventPayments, testOrder("o-1"))
	bus.Wait()

	assert.Equal(t, int32(3), calls.Load())
}

func TestFailingSubscribersDoNotAffectOthers(t *testing.T) {
	bus := New()
	var ok atomic.Int32
	bus.Subscribe(domain.EventPlaced, func(ctx context.Context, ev domain.OrderEvent) error {
		panic("boom")
	})
	bus.Subscribe(domain.EventPlaced, func(ctx context.Context, ev domain.OrderEvent) error {
		return errors.New("failed")
	})
	bus.Subscribe(domain.EventPlaced, func(ctx context.Context, ev domain.OrderEvent) error {
		ok.Add(1)
		return nil
	})

	require.NotPanics(t, func() {
		bus.Publish(context.Background(), domain.EventPlaced, testOrder("o-1"))
		bus.Wait()
	})
	assert.Equal(t, int32(1), ok.Load())
}

func TestOrderFilter(t *testing.T) {
	bus := New()
	var (
		mu  sync.Mutex
		got []string
	)
	bus.Subscribe(domain.EventStatusUpdate, func(ctx context.Context, ev domain.OrderEvent) error {
		mu.Lock()
		got = append(got, ev.Order.ID)
		mu.Unlock()
		return nil
	}, WithOrderID("o-2"))

	bus.Publish(context.Background(), domain.EventStatusUpdate, testOrder("o-1"))
	bus.Publish(context.Background(), domain.EventStatusUpdate, testOrder("o-2"))
	bus.Wait()

	assert.Equal(t, []string{"o-2"}, got)
}

func TestUnsubscribe(t *testing.T) {
	bus := New()
	var calls atomic.Int32
	unsubscribe := bus.Subscribe(domain.EventCanceled, func(ctx context.Context, ev domain.OrderEvent) error {
		calls.Add(1)
		return nil
	})

	bus.Publish(context.Background(), domain.EventCanceled, testOrder("o-1"))
	bus.Wait()
	unsubscribe()
	bus.Publish(context.Background(), domain.EventCanceled, testOrder("o-1"))
	bus.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestHandlersReceiveSnapshots(t *testing.T) {
	bus := New()
	order := testOrder("o-1")
	var seen domain.State
	bus.Subscribe(domain.EventAccepted, func(ctx context.Context, ev domain.OrderEvent) error {
		seen = ev.Order.State
		ev.Order.Items[0].Amount = 99
		return nil
	})

	bus.Publish(context.Background(), domain.EventAccepted, order)
	order.State = domain.StateCanceled
	bus.Wait()

	assert.Equal(t, domain.StateWaitingAccept, seen)
	assert.Equal(t, 1, order.Items[0].Amount)
}
