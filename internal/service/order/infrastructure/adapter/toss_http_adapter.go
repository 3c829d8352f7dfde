package adapter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"kiosk/internal/pkg/httpclient"
	"kiosk/internal/pkg/metrics"
	"kiosk/internal/service/order/domain"
)

// DefaultTossBaseURL 是 Toss Payments 的 API 地址。
const DefaultTossBaseURL = "https://api.tosspayments.com"

// tossPayment 是 Toss Payment 对象中用到的字段。
type tossPayment struct {
	PaymentKey     string                 `json:"paymentKey"`
	OrderID        string                 `json:"orderId"`
	Status         domain.PaymentStatus   `json:"status"`
	TotalAmount    int64                  `json:"totalAmount"`
	Secret         string                 `json:"secret"`
	VirtualAccount *domain.VirtualAccount `json:"virtualAccount"`
	Cancels        []json.RawMessage      `json:"cancels"`
}

type tossError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TossHTTPAdapter 是 port.PaymentGateway 的 Toss Payments 实现。
type TossHTTPAdapter struct {
	client  *httpclient.Client
	baseURL string
	auth    string
}

// NewTossHTTPAdapter 创建网关适配器，secretKey 以 HTTP Basic 方式认证。
func NewTossHTTPAdapter(client *httpclient.Client, baseURL, secretKey string) *TossHTTPAdapter {
	if baseURL == "" {
		baseURL = DefaultTossBaseURL
	}
	return &TossHTTPAdapter{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    "Basic " + base64.StdEncoding.EncodeToString([]byte(secretKey+":")),
	}
}

func (a *TossHTTPAdapter) CapturePayment(ctx context.Context, orderID, paymentKey string, amount int64) (*domain.CapturedPayment, error) {
	body := map[string]interface{}{"orderId": orderID, "amount": amount}
	payment, err := a.call(ctx, "capture", http.MethodPost, "/v1/payments/"+url.PathEscape(paymentKey), body)
	if err != nil {
		return nil, err
	}

	status := payment.Status
	// 带有取消记录的支付视为已取消
	if len(payment.Cancels) > 0 && status == domain.PaymentDone {
		status = domain.PaymentCanceled
	}
	return &domain.CapturedPayment{
		Status:         status,
		TotalAmount:    payment.TotalAmount,
		Secret:         payment.Secret,
		VirtualAccount: payment.VirtualAccount,
	}, nil
}

// CancelPayment 先按订单号查出 paymentKey，再发起整笔取消。
func (a *TossHTTPAdapter) CancelPayment(ctx context.Context, orderID, reason string) error {
	payment, err := a.call(ctx, "lookup", http.MethodGet, "/v1/payments/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return err
	}

	body := map[string]string{"cancelReason": reason}
	canceled, err := a.call(ctx, "cancel", http.MethodPost, "/v1/payments/"+url.PathEscape(payment.PaymentKey)+"/cancel", body)
	if err != nil {
		return err
	}
	if canceled.Status != domain.PaymentCanceled && canceled.Status != domain.PaymentPartialCanceled {
		return errors.Wrapf(domain.ErrGateway, "cancel of order %s ended in status %s", orderID, canceled.Status)
	}
	return nil
}

func (a *TossHTTPAdapter) call(ctx context.Context, op, method, path string, body interface{}) (*tossPayment, error) {
	start := time.Now()
	defer func() { metrics.GatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds()) }()

	header := http.Header{}
	header.Set("Authorization", a.auth)

	resp, err := a.client.DoJSON(ctx, method, a.baseURL+path, header, body)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues(op, "unreachable").Inc()
		return nil, errors.Wrapf(domain.ErrGateway, "%s: %v", op, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		metrics.GatewayRequests.WithLabelValues(op, "rejected").Inc()
		var te tossError
		if json.Unmarshal(resp.Body, &te) == nil && te.Code != "" {
			return nil, errors.Wrapf(domain.ErrGateway, "%s: %s: %s", op, te.Code, te.Message)
		}
		return nil, errors.Wrapf(domain.ErrGateway, "%s: http status %d", op, resp.StatusCode)
	}

	var payment tossPayment
	if err := json.Unmarshal(resp.Body, &payment); err != nil {
		metrics.GatewayRequests.WithLabelValues(op, "malformed").Inc()
		return nil, errors.Wrapf(domain.ErrGateway, "%s: malformed response: %v", op, err)
	}
	metrics.GatewayRequests.WithLabelValues(op, "ok").Inc()
	return &payment, nil
}
