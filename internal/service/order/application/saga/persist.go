package saga

import (
	"go.opentelemetry.io/otel/codes"

	"kiosk/internal/service/order/domain"
)

// PersistHandler 写回订单：仍在等待支付则原地更新，否则提升到已确认集合。
type PersistHandler struct {
	NextHandler
}

func (h *PersistHandler) Handle(paymentCtx *PaymentContext) error {
	ctx, span := paymentCtx.Tracer.Start(paymentCtx.Ctx, "saga.PersistOrder")
	defer span.End()

	found := paymentCtx.Found
	var err error
	switch {
	case found.Location == domain.LocationConfirmed:
		err = paymentCtx.Repo.UpdateConfirmed(ctx, found.Order)
	case found.Order.State == domain.StateWaitingPayment:
		err = paymentCtx.Repo.UpdatePending(ctx, found.Order)
	default:
		err = paymentCtx.Repo.Promote(ctx, found.Order)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to persist paid order")
		paymentCtx.TriggerCompensation(ctx)
		return err
	}

	span.AddEvent("Order persisted after payment.")
	return h.executeNext(paymentCtx)
}
