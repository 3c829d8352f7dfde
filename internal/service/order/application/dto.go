// internal/service/order/application/dto.go
package application

import (
	"encoding/json"
	"strconv"

	"kiosk/internal/service/order/domain"
)

// checkoutCustomerName 是交给网关结算页显示的付款人名称。
const checkoutCustomerName = "키오스크 결제"

// PlaceOrderRequest 是下单用例的输入，字段保持原始 JSON 以便做结构校验。
type PlaceOrderRequest struct {
	Items   json.RawMessage `json:"items"`
	PayWith json.RawMessage `json:"payWith"`
}

// VerifiedOrder 是通过校验、已按目录解析过的下单请求。
type VerifiedOrder struct {
	Items   []domain.OrderItem
	PayWith domain.PaymentMethod
	Price   int64
}

// Checkout 是客户端打开网关结算页所需的参数。
type Checkout struct {
	Amount       int64  `json:"amount"`
	OrderID      string `json:"orderId"`
	OrderName    string `json:"orderName"`
	CustomerName string `json:"customerName"`
}

// PlaceOrderResponse 是下单用例的输出。
type PlaceOrderResponse struct {
	Order *domain.Order `json:"order"`
	Toss  Checkout      `json:"toss"`
}

// PaymentRequest 是客户端完成网关授权后提交的确认请求。
// Amount 同时接受 JSON 数字和数字字符串。
type PaymentRequest struct {
	PaymentKey string      `json:"paymentKey"`
	Amount     json.Number `json:"amount"`
}

// DepositCallback 是网关虚拟账户入金回调的请求体。
type DepositCallback struct {
	Secret    string               `json:"secret"`
	Status    domain.PaymentStatus `json:"status"`
	OrderID   string               `json:"orderId"`
	CreatedAt string               `json:"createdAt,omitempty"`
}

// CancelRequest 是取消订单的请求体。
type CancelRequest struct {
	CancelReason string `json:"cancelReason"`
}

func newCheckout(order *domain.Order) Checkout {
	name := ""
	if len(order.Items) > 0 {
		name = order.Items[0].Name
	}
	if len(order.Items) > 1 {
		name += " 외 " + strconv.Itoa(len(order.Items)-1) + "건"
	}
	return Checkout{
		Amount:       order.Price,
		OrderID:      order.ID,
		OrderName:    name,
		CustomerName: checkoutCustomerName,
	}
}
