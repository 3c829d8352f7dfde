package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiosk/internal/service/order/domain"
	"kiosk/internal/service/order/eventbus"
)

type scheduledTask struct {
	task  domain.OrderTimeoutCheckEvent
	delay time.Duration
}

type recordingScheduler struct {
	mu    sync.Mutex
	tasks []scheduledTask
}

func (s *recordingScheduler) Schedule(_ context.Context, task domain.OrderTimeoutCheckEvent, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, scheduledTask{task: task, delay: delay})
	return nil
}

func (s *recordingScheduler) scheduled() []scheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scheduledTask(nil), s.tasks...)
}

func orderIn(state domain.State) *domain.Order {
	order := domain.NewOrder("o-1", 1, time.Now(), []domain.OrderItem{
		{MenuItem: domain.MenuItem{ID: "itemA", Price: 1000}, Amount: 1},
	}, domain.PayCard)
	order.State = state
	return order
}

func TestRoutines_SchedulesChecks(t *testing.T) {
	cases := []struct {
		name      string
		event     domain.EventName
		state     domain.State
		wantKind  domain.TimeoutKind
		wantDelay time.Duration
	}{
		{"placed arms payment expiry", domain.EventPlaced, domain.StateWaitingPayment, domain.TimeoutPaymentExpiry, 10 * time.Minute},
		{"payment still pending re-arms expiry", domain.EventPayments, domain.StateWaitingPayment, domain.TimeoutPaymentExpiry, 10 * time.Minute},
		{"payment done arms auto accept", domain.EventPayments, domain.StateWaitingAccept, domain.TimeoutAutoAccept, 3 * time.Second},
		{"deposit done arms auto accept", domain.EventStatusUpdate, domain.StateWaitingAccept, domain.TimeoutAutoAccept, 3 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			scheduler := &recordingScheduler{}
			bus := eventbus.New()
			routines := NewRoutines(scheduler, NewTimedAcceptance(scheduler, 0), 0)
			defer routines.Register(bus)()

			bus.Publish(context.Background(), tc.event, orderIn(tc.state))
			bus.Wait()

			tasks := scheduler.scheduled()
			require.Len(t, tasks, 1)
			assert.Equal(t, tc.wantKind, tasks[0].task.Kind)
			assert.Equal(t, tc.state, tasks[0].task.ExpectedState)
			assert.Equal(t, tc.wantDelay, tasks[0].delay)
			assert.Equal(t, "o-1", tasks[0].task.OrderID)
		})
	}
}

func TestRoutines_IgnoresOtherTransitions(t *testing.T) {
	cases := []struct {
		event domain.EventName
		state domain.State
	}{
		{domain.EventStatusUpdate, domain.StateWaitingPayment},
		{domain.EventStatusUpdate, domain.StateCanceled},
		{domain.EventPayments, domain.StateAborted},
	}
	for _, tc := range cases {
		scheduler := &recordingScheduler{}
		bus := eventbus.New()
		unregister := NewRoutines(scheduler, NewTimedAcceptance(scheduler, 0), 0).Register(bus)

		bus.Publish(context.Background(), tc.event, orderIn(tc.state))
		bus.Wait()
		unregister()

		assert.Empty(t, scheduler.scheduled(), "%s in %s", tc.event, tc.state)
	}
}

func TestManualAcceptanceSchedulesNothing(t *testing.T) {
	scheduler := &recordingScheduler{}
	policy, err := NewAcceptancePolicy(AcceptanceManual, scheduler, 0)
	require.NoError(t, err)

	bus := eventbus.New()
	defer NewRoutines(scheduler, policy, 0).Register(bus)()

	bus.Publish(context.Background(), domain.EventPayments, orderIn(domain.StateWaitingAccept))
	bus.Wait()
	assert.Empty(t, scheduler.scheduled())

	_, err = NewAcceptancePolicy("sometimes", scheduler, 0)
	assert.Error(t, err)
}

func TestHandleTimeoutCheck_PaymentExpiry(t *testing.T) {
	t.Run("still waiting payment is canceled", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t, `[[2, "itemA"]]`, domain.PayCard)

		err := f.svc.HandleTimeoutCheck(context.Background(), domain.OrderTimeoutCheckEvent{
			OrderID:       order.ID,
			Kind:          domain.TimeoutPaymentExpiry,
			ExpectedState: domain.StateWaitingPayment,
		})
		require.NoError(t, err)

		require.Equal(t, 1, f.publisher.count(domain.EventCanceled))
		canceled := f.publisher.events[len(f.publisher.events)-1].order
		assert.Equal(t, domain.StateCanceled, canceled.State)
		assert.Equal(t, "payment timeout", canceled.Cancel.Reason)
	})

	t.Run("paid order is left alone", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t, `[[2, "itemA"]]`, domain.PayCard)
		_, err := f.pay(order.ID, 2000)
		require.NoError(t, err)

		err = f.svc.HandleTimeoutCheck(context.Background(), domain.OrderTimeoutCheckEvent{
			OrderID:       order.ID,
			Kind:          domain.TimeoutPaymentExpiry,
			ExpectedState: domain.StateWaitingPayment,
		})
		require.NoError(t, err)

		got, err := f.svc.GetOrder(context.Background(), order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StateWaitingAccept, got.State)
		assert.Equal(t, 0, f.publisher.count(domain.EventCanceled))
	})

	t.Run("vanished order is ignored", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.HandleTimeoutCheck(context.Background(), domain.OrderTimeoutCheckEvent{
			OrderID:       "gone",
			Kind:          domain.TimeoutPaymentExpiry,
			ExpectedState: domain.StateWaitingPayment,
		})
		assert.NoError(t, err)
	})
}

func TestHandleTimeoutCheck_AutoAccept(t *testing.T) {
	f := newFixture(t)
	order := f.place(t, `[[2, "itemA"]]`, domain.PayCard)
	_, err := f.pay(order.ID, 2000)
	require.NoError(t, err)

	task := domain.OrderTimeoutCheckEvent{
		OrderID:       order.ID,
		Kind:          domain.TimeoutAutoAccept,
		ExpectedState: domain.StateWaitingAccept,
	}
	require.NoError(t, f.svc.HandleTimeoutCheck(context.Background(), task))

	got, err := f.svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, got.State)

	// 第二次触发时订单已不在等待接单
	require.NoError(t, f.svc.HandleTimeoutCheck(context.Background(), task))
	assert.Equal(t, 1, f.publisher.count(domain.EventAccepted))
}
