package saga

import (
	"go.opentelemetry.io/otel/attribute"

	"kiosk/internal/service/order/domain"
)

// LookupHandler 读取订单，两处集合都没有时返回 ErrOrderNotFound。
type LookupHandler struct {
	NextHandler
}

func (h *LookupHandler) Handle(paymentCtx *PaymentContext) error {
	ctx, span := paymentCtx.Tracer.Start(paymentCtx.Ctx, "saga.LookupOrder")
	defer span.End()

	found, err := paymentCtx.Repo.Find(ctx, paymentCtx.OrderID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	paymentCtx.Found = found
	span.SetAttributes(
		attribute.String("order.location", found.Location.String()),
		attribute.String("order.state", found.Order.State.String()),
	)
	return h.executeNext(paymentCtx)
}

// ReplayHandler 命中支付会话缓存时直接返回上次的响应，不再访问网关。
type ReplayHandler struct {
	NextHandler
}

func (h *ReplayHandler) Handle(paymentCtx *PaymentContext) error {
	ctx, span := paymentCtx.Tracer.Start(paymentCtx.Ctx, "saga.ReplayPaymentSession")
	defer span.End()

	cached, err := paymentCtx.Sessions.PaymentSession(ctx, paymentCtx.OrderID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	state := paymentCtx.Order().State
	if cached != nil && (state == domain.StateWaitingPayment || state == domain.StateWaitingAccept) {
		paymentCtx.Response = cached
		paymentCtx.Replayed = true
		span.AddEvent("Cached payment response replayed.")
		return nil
	}
	return h.executeNext(paymentCtx)
}
