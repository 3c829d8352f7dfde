package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"kiosk/internal/pkg/logger"
	"kiosk/internal/pkg/metrics"
	"kiosk/internal/service/order/domain"
	"kiosk/internal/service/order/domain/port"
	"kiosk/internal/service/order/eventbus"
)

const (
	// DefaultPaymentExpiry 是未支付订单被自动取消前的等待时间。
	DefaultPaymentExpiry = 10 * time.Minute

	paymentTimeoutReason = "payment timeout"
)

// Routines 订阅订单事件并安排超时检查：自动接单和未支付自动取消。
type Routines struct {
	scheduler     port.DelayScheduler
	acceptance    AcceptancePolicy
	paymentExpiry time.Duration
}

func NewRoutines(scheduler port.DelayScheduler, acceptance AcceptancePolicy, paymentExpiry time.Duration) *Routines {
	if paymentExpiry <= 0 {
		paymentExpiry = DefaultPaymentExpiry
	}
	return &Routines{scheduler: scheduler, acceptance: acceptance, paymentExpiry: paymentExpiry}
}

// Register 在总线上注册订阅，返回一次性取消全部订阅的函数。
func (r *Routines) Register(bus *eventbus.Bus) func() {
	unsubscribes := []func(){
		bus.Subscribe(domain.EventPlaced, r.onOrderChanged),
		bus.Subscribe(domain.EventPayments, r.onOrderChanged),
		bus.Subscribe(domain.EventStatusUpdate, r.onOrderChanged),
	}
	return func() {
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
	}
}

func (r *Routines) onOrderChanged(ctx context.Context, event domain.OrderEvent) error {
	order := event.Order
	switch order.State {
	case domain.StateWaitingAccept:
		if event.Name == domain.EventPlaced {
			return nil
		}
		return r.acceptance.OnPaymentCaptured(ctx, order)
	case domain.StateWaitingPayment:
		if event.Name == domain.EventStatusUpdate {
			return nil
		}
		now := time.Now()
		return r.scheduler.Schedule(ctx, domain.OrderTimeoutCheckEvent{
			TraceID:       trace.SpanFromContext(ctx).SpanContext().TraceID().String(),
			OrderID:       order.ID,
			Kind:          domain.TimeoutPaymentExpiry,
			ExpectedState: domain.StateWaitingPayment,
			CreationTime:  now,
			DeliverAt:     now.Add(r.paymentExpiry),
		}, r.paymentExpiry)
	}
	return nil
}

// HandleTimeoutCheck 处理到期的检查任务。只有订单当前状态仍等于任务期望的状态才会动作，
// 失败只记录，不重试。
func (s *OrderApplicationService) HandleTimeoutCheck(ctx context.Context, task domain.OrderTimeoutCheckEvent) error {
	// 任务与触发它的请求已无关，只保留链路信息，不继承超时
	ctx = trace.ContextWithRemoteSpanContext(context.Background(), trace.SpanContextFromContext(ctx))
	ctx, span := s.tracer.Start(ctx, "app.HandleTimeoutCheck", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	span.SetAttributes(
		attribute.String("order.id", task.OrderID),
		attribute.String("timeout.kind", string(task.Kind)),
	)

	outcome := "acted"
	defer func() { metrics.TimeoutChecks.WithLabelValues(string(task.Kind), outcome).Inc() }()

	found, err := s.orderRepo.Find(ctx, task.OrderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		outcome = "gone"
		return nil
	}
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		return err
	}

	current := found.Order.State
	span.SetAttributes(attribute.String("order.state", current.String()))
	if current != task.ExpectedState {
		outcome = "skipped"
		logger.Ctx(ctx).Debug().Str("order_id", task.OrderID).Str("state", current.String()).Msg("timeout check skipped, order moved on")
		return nil
	}

	switch task.Kind {
	case domain.TimeoutAutoAccept:
		_, err = s.Accept(ctx, task.OrderID)
	case domain.TimeoutPaymentExpiry:
		logger.Ctx(ctx).Warn().Str("order_id", task.OrderID).Msg("order has not been paid within the time limit, canceling")
		_, err = s.Cancel(ctx, task.OrderID, paymentTimeoutReason)
	default:
		outcome = "unknown"
		return errors.Errorf("unknown timeout kind %q", task.Kind)
	}

	// 检查与动作之间订单被并发修改，视为已被其他路径处理
	if domain.KindOf(err) == domain.KindStateConflict {
		outcome = "skipped"
		return nil
	}
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		return err
	}
	return nil
}
