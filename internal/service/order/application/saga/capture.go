package saga

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"kiosk/internal/pkg/logger"
	"kiosk/internal/service/order/domain"
)

// GuardHandler 在访问网关之前校验订单状态和金额。
type GuardHandler struct {
	NextHandler
}

func (h *GuardHandler) Handle(paymentCtx *PaymentContext) error {
	if err := paymentCtx.Order().CheckPayable(paymentCtx.Amount); err != nil {
		return err
	}
	return h.executeNext(paymentCtx)
}

// CaptureHandler 调用网关确认支付并推进订单状态。柜台付款不经过网关。
type CaptureHandler struct {
	NextHandler
}

func (h *CaptureHandler) Handle(paymentCtx *PaymentContext) error {
	ctx, span := paymentCtx.Tracer.Start(paymentCtx.Ctx, "saga.CapturePayment")
	defer span.End()

	order := paymentCtx.Order()
	span.SetAttributes(attribute.Int("order.pay_with", int(order.PayWith)))

	if !order.PayWith.UsesGateway() {
		if err := order.RecordDirectPayment(); err != nil {
			return err
		}
		paymentCtx.Response = &domain.PaymentResponse{State: order.State, Price: order.Price}
		span.AddEvent("Direct payment recorded without gateway.")
		return h.executeNext(paymentCtx)
	}

	if paymentCtx.PaymentKey == "" {
		return domain.ErrMissingPaymentKey
	}
	captured, err := paymentCtx.Gateway.CapturePayment(ctx, order.ID, paymentCtx.PaymentKey, paymentCtx.Amount)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Gateway capture failed")
		return err
	}
	span.SetAttributes(attribute.String("payment.status", string(captured.Status)))

	if err := order.RecordPaymentResult(captured.Status, captured.TotalAmount, paymentCtx.Now); err != nil {
		if !errors.Is(err, domain.ErrPaymentNotCompleted) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Gateway result rejected")
			return err
		}
		// 网关报告失败：订单落到终态并照常持久化，错误在流程结束后返回
		paymentCtx.Outcome = err
		span.AddEvent("Gateway reported an unfinished payment.")
	}

	if order.State == domain.StateWaitingAccept {
		// 扣款成功后立即注册补偿：之后任何一次存储失败都要撤销这笔支付
		orderID := order.ID
		paymentCtx.AddCompensation(func(ctx context.Context) {
			if err := paymentCtx.Gateway.CancelPayment(ctx, orderID, "order could not be saved"); err != nil {
				logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).Msg("CRITICAL: failed to cancel captured payment")
			}
		})
	}

	if captured.Secret != "" {
		if err := paymentCtx.Sessions.StorePaymentSecret(ctx, order.ID, captured.Secret); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to store payment secret")
			paymentCtx.TriggerCompensation(ctx)
			return err
		}
	}

	paymentCtx.Response = &domain.PaymentResponse{
		State:          order.State,
		Price:          order.Price,
		VirtualAccount: captured.VirtualAccount,
	}
	return h.executeNext(paymentCtx)
}
