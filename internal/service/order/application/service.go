// internal/service/order/application/service.go
package application

import (
	"context"
	"crypto/subtle"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"kiosk/internal/pkg/logger"
	"kiosk/internal/service/order/application/saga"
	"kiosk/internal/service/order/domain"
	"kiosk/internal/service/order/domain/port"
)

// EventPublisher 是事件总线的发布端。只在持久化成功之后调用。
type EventPublisher interface {
	Publish(ctx context.Context, name domain.EventName, order *domain.Order)
}

// OrderApplicationService 只关注业务流程编排：校验、状态机、持久化、发布事件。
type OrderApplicationService struct {
	orderRepo domain.OrderRepository
	sessions  domain.PaymentSessionStore
	catalog   port.Catalog
	gateway   port.PaymentGateway
	publisher EventPublisher
	tracer    trace.Tracer

	now   func() time.Time
	newID func() string

	// 合并同一笔支付的并发确认请求
	payments singleflight.Group
}

// Option 调整应用服务的可选依赖。
type Option func(*OrderApplicationService)

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(s *OrderApplicationService) { s.now = now }
}

// WithIDGenerator 替换订单 ID 生成器。
func WithIDGenerator(newID func() string) Option {
	return func(s *OrderApplicationService) { s.newID = newID }
}

func NewOrderApplicationService(orderRepo domain.OrderRepository, sessions domain.PaymentSessionStore, catalog port.Catalog, gateway port.PaymentGateway, publisher EventPublisher, tracer trace.Tracer, opts ...Option) *OrderApplicationService {
	s := &OrderApplicationService{
		orderRepo: orderRepo, sessions: sessions,
		catalog: catalog, gateway: gateway,
		publisher: publisher, tracer: tracer,
		now: time.Now, newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrder 校验请求并创建一个等待支付的订单。
func (s *OrderApplicationService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.PlaceOrder")
	defer span.End()

	verified, err := s.ValidatePlacement(ctx, req.Items, req.PayWith)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Placement rejected")
		return nil, err
	}

	sequence, err := s.orderRepo.NextSequence(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to allocate sequence")
		return nil, err
	}

	order := domain.NewOrder(s.newID(), sequence, s.now(), verified.Items, verified.PayWith)
	if err := s.orderRepo.CreatePending(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to save pending order")
		logger.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).Msg("failed to save pending order")
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.Int64("order.price", order.Price))
	span.AddEvent("Pending order saved with WAITING_PAYMENT state.")

	s.publisher.Publish(ctx, domain.EventPlaced, order)
	logger.Ctx(ctx).Info().Str("order_id", order.ID).Int64("sequence", order.Sequence).Int64("price", order.Price).Msg("order placed")

	return &PlaceOrderResponse{Order: order, Toss: newCheckout(order)}, nil
}

// GetOrder 按 ID 读取订单，不区分所在集合。
func (s *OrderApplicationService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	found, err := s.orderRepo.Find(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return found.Order, nil
}

// ListOrders 返回 [start, end] 内的订单，新的在前；零值表示不设边界。
func (s *OrderApplicationService) ListOrders(ctx context.Context, start, end time.Time) ([]*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.ListOrders")
	defer span.End()

	ids, err := s.orderRepo.FindRange(ctx, start, end)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	orders, err := s.orderRepo.FindMany(ctx, ids)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].Date.Equal(orders[j].Date) {
			return orders[i].Date.After(orders[j].Date)
		}
		return orders[i].Sequence > orders[j].Sequence
	})
	return orders, nil
}

// ReconcilePayment 确认客户端提交的支付。同一订单、同一 paymentKey 和金额的并发请求只会访问网关一次。
func (s *OrderApplicationService) ReconcilePayment(ctx context.Context, orderID string, req *PaymentRequest) (*domain.PaymentResponse, error) {
	amount, err := req.Amount.Int64()
	if err != nil {
		return nil, errors.Wrapf(domain.ErrInvalidAmount, "%q", req.Amount.String())
	}

	key := orderID + "|" + req.PaymentKey + "|" + strconv.FormatInt(amount, 10)
	v, err, shared := s.payments.Do(key, func() (interface{}, error) {
		return s.reconcilePayment(ctx, orderID, req.PaymentKey, amount)
	})
	if shared {
		logger.Ctx(ctx).Debug().Str("order_id", orderID).Msg("payment confirmation shared with a concurrent request")
	}
	if err != nil {
		return nil, err
	}
	return v.(*domain.PaymentResponse), nil
}

func (s *OrderApplicationService) reconcilePayment(ctx context.Context, orderID, paymentKey string, amount int64) (*domain.PaymentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.ReconcilePayment")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.Int64("payment.amount", amount))

	paymentCtx := &saga.PaymentContext{
		Ctx:        ctx,
		Tracer:     s.tracer,
		Now:        s.now(),
		OrderID:    orderID,
		PaymentKey: paymentKey,
		Amount:     amount,
		Repo:       s.orderRepo,
		Sessions:   s.sessions,
		Gateway:    s.gateway,
	}

	if err := saga.NewPaymentChain().Handle(paymentCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Payment reconciliation failed")
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", orderID).Msg("payment reconciliation failed")
		return nil, err
	}
	if paymentCtx.Replayed {
		return paymentCtx.Response, nil
	}

	order := paymentCtx.Order()
	s.publisher.Publish(ctx, domain.EventPayments, order)
	logger.Ctx(ctx).Info().Str("order_id", orderID).Str("state", order.State.String()).Msg("payment reconciled")

	if paymentCtx.Outcome != nil {
		span.RecordError(paymentCtx.Outcome)
		return nil, paymentCtx.Outcome
	}

	if err := s.sessions.CachePaymentSession(ctx, orderID, paymentCtx.Response); err != nil {
		// 订单已经写入，缓存只影响重复请求的应答
		logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).Msg("failed to cache payment session")
	}
	return paymentCtx.Response, nil
}

// ReconcileWebhook 处理网关的入金回调，secret 必须与确认支付时网关返回的一致。
func (s *OrderApplicationService) ReconcileWebhook(ctx context.Context, cb *DepositCallback) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.ReconcileWebhook")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", cb.OrderID), attribute.String("payment.status", string(cb.Status)))

	stored, err := s.sessions.PaymentSecret(ctx, cb.OrderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if stored == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(cb.Secret)) != 1 {
		span.SetStatus(codes.Error, "Invalid deposit secret")
		logger.Ctx(ctx).Warn().Str("order_id", cb.OrderID).Msg("deposit callback with invalid secret rejected")
		return nil, domain.ErrInvalidSecret
	}

	found, err := s.orderRepo.Find(ctx, cb.OrderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	order := found.Order
	if err := order.ApplyDeposit(cb.Status, s.now()); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if found.Location == domain.LocationPending {
		err = s.orderRepo.Promote(ctx, order)
	} else {
		err = s.orderRepo.UpdateConfirmed(ctx, order)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to persist deposit")
		return nil, err
	}

	if err := s.sessions.DeletePaymentSecret(ctx, cb.OrderID); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", cb.OrderID).Msg("failed to consume payment secret")
	}

	s.publisher.Publish(ctx, domain.EventStatusUpdate, order)
	logger.Ctx(ctx).Info().Str("order_id", order.ID).Str("state", order.State.String()).Msg("deposit reconciled")
	return order, nil
}

// Accept 店员接单。
func (s *OrderApplicationService) Accept(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.Accept")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	found, err := s.orderRepo.Find(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := found.Order.Accept(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.save(ctx, found); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to persist accepted order")
		return nil, err
	}

	s.publisher.Publish(ctx, domain.EventAccepted, found.Order)
	logger.Ctx(ctx).Info().Str("order_id", orderID).Msg("order accepted")
	return found.Order, nil
}

// Cancel 取消订单。已通过网关付款的订单必须先在网关撤销成功，否则订单保持不变。
func (s *OrderApplicationService) Cancel(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.Cancel")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	found, err := s.orderRepo.Find(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	refunded := false
	guard := func(o *domain.Order, reason string) error {
		if o.State != domain.StateWaitingAccept && o.State != domain.StateDone {
			return nil
		}
		if !o.PayWith.UsesGateway() {
			return nil
		}
		if reason == "" {
			return domain.ErrReasonRequired
		}
		span.AddEvent("Refunding captured payment before cancel.")
		if err := s.gateway.CancelPayment(ctx, o.ID, reason); err != nil {
			return err
		}
		refunded = true
		return nil
	}

	order := found.Order
	if err := order.CancelWith(reason, s.now(), guard); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Cancel rejected")
		return nil, err
	}

	// 从未离开等待支付的订单直接删除，不保留记录
	if found.Location == domain.LocationPending {
		err = s.orderRepo.DeletePending(ctx, order)
	} else {
		err = s.orderRepo.UpdateConfirmed(ctx, order)
	}
	if err != nil && refunded {
		// 钱已经退了，订单必须落到取消状态
		order, err = s.recordRefundedCancel(ctx, orderID, reason, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to persist canceled order")
		logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).Msg("failed to persist canceled order")
		return nil, err
	}

	s.publisher.Publish(ctx, domain.EventCanceled, order)
	logger.Ctx(ctx).Info().Str("order_id", orderID).Str("reason", reason).Msg("order canceled")
	return order, nil
}

const refundRecordAttempts = 3

// recordRefundedCancel 在网关退款成功而首次写入失败后，重新读取订单并重试取消，不再调用网关。
// 版本冲突 (例如并发的自动接单) 通过重新读取解决；存储持续不可用时返回 ErrRefundNotRecorded。
func (s *OrderApplicationService) recordRefundedCancel(ctx context.Context, orderID, reason string, cause error) (*domain.Order, error) {
	lastErr := cause
	for attempt := 1; attempt <= refundRecordAttempts; attempt++ {
		logger.Ctx(ctx).Warn().Err(lastErr).Str("order_id", orderID).Int("attempt", attempt).Msg("retrying cancel after refund")
		if attempt > 1 {
			if err := waitRetry(ctx, time.Duration(attempt)*50*time.Millisecond); err != nil {
				lastErr = err
				break
			}
		}

		found, err := s.orderRepo.Find(ctx, orderID)
		if err != nil {
			lastErr = err
			continue
		}
		order := found.Order
		if order.State == domain.StateCanceled {
			return order, nil
		}
		if err := order.CancelWith(reason, s.now(), nil); err != nil {
			lastErr = err
			break
		}
		if err := s.save(ctx, found); err != nil {
			lastErr = err
			continue
		}
		return order, nil
	}

	logger.Ctx(ctx).Error().Err(lastErr).Str("order_id", orderID).Str("reason", reason).
		Msg("CRITICAL: payment refunded but order cancellation was not recorded")
	return nil, errors.Wrap(domain.ErrRefundNotRecorded, lastErr.Error())
}

func waitRetry(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// save 按订单所在集合和当前状态选择写操作。
func (s *OrderApplicationService) save(ctx context.Context, found *domain.Found) error {
	switch {
	case found.Location == domain.LocationConfirmed:
		return s.orderRepo.UpdateConfirmed(ctx, found.Order)
	case found.Order.State == domain.StateWaitingPayment:
		return s.orderRepo.UpdatePending(ctx, found.Order)
	default:
		return s.orderRepo.Promote(ctx, found.Order)
	}
}
