package port

import (
	"context"

	"kiosk/internal/service/order/domain"
)

// PaymentGateway 是外部支付网关的出站端口。
// 网关按 orderId 幂等，重复确认同一笔支付是安全的。
type PaymentGateway interface {
	// CapturePayment 确认 (扣款) 一笔已在客户端授权的支付。
	CapturePayment(ctx context.Context, orderID, paymentKey string, amount int64) (*domain.CapturedPayment, error)

	// CancelPayment 撤销订单对应的整笔支付 (退款)。
	CancelPayment(ctx context.Context, orderID, reason string) error
}
