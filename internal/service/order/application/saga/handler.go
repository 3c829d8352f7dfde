package saga

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"kiosk/internal/pkg/logger"
	"kiosk/internal/service/order/domain"
	"kiosk/internal/service/order/domain/port"
)

// PaymentContext 在支付对账流程中传递上下文数据。
type PaymentContext struct {
	Ctx    context.Context
	Tracer trace.Tracer
	Now    time.Time

	// 请求参数
	OrderID    string
	PaymentKey string
	Amount     int64

	// 依赖出站端口 (Interfaces)
	Repo     domain.OrderRepository
	Sessions domain.PaymentSessionStore
	Gateway  port.PaymentGateway

	// 流程结果
	Found    *domain.Found
	Response *domain.PaymentResponse
	// Replayed 为 true 表示直接返回了缓存的响应，订单未被修改
	Replayed bool
	// Outcome 记录已持久化但需要返回给调用方的业务错误 (支付未完成)
	Outcome error

	compensations []func(ctx context.Context)
	compLock      sync.Mutex
}

// AddCompensation 注册补偿函数，后注册的先执行。
func (c *PaymentContext) AddCompensation(comp func(ctx context.Context)) {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	c.compensations = append([]func(context.Context){comp}, c.compensations...)
}

func (c *PaymentContext) TriggerCompensation(ctx context.Context) {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	logger.Ctx(ctx).Warn().Str("order_id", c.OrderID).Int("count", len(c.compensations)).Msg("executing payment compensations")
	for _, comp := range c.compensations {
		comp(ctx)
	}
	c.compensations = nil
}

// Order 返回当前流程中的订单，查询之前为 nil。
func (c *PaymentContext) Order() *domain.Order {
	if c.Found == nil {
		return nil
	}
	return c.Found.Order
}

type Handler interface {
	SetNext(handler Handler) Handler
	Handle(paymentCtx *PaymentContext) error
}

type NextHandler struct {
	next Handler
}

func (h *NextHandler) SetNext(handler Handler) Handler {
	h.next = handler
	return handler
}

func (h *NextHandler) executeNext(paymentCtx *PaymentContext) error {
	if h.next != nil {
		return h.next.Handle(paymentCtx)
	}
	return nil
}

// NewPaymentChain 按固定顺序组装支付对账责任链。
func NewPaymentChain() Handler {
	chain := new(LookupHandler)
	chain.
		SetNext(new(ReplayHandler)).
		SetNext(new(GuardHandler)).
		SetNext(new(CaptureHandler)).
		SetNext(new(PersistHandler))
	return chain
}
