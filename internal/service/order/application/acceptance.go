package application

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"kiosk/internal/service/order/domain"
	"kiosk/internal/service/order/domain/port"
)

const (
	AcceptanceTimed  = "timed"
	AcceptanceManual = "manual"

	// DefaultAutoAcceptDelay 是自动接单的默认延迟。
	DefaultAutoAcceptDelay = 3 * time.Second
)

// AcceptancePolicy 决定支付完成 (进入等待接单) 之后订单如何被接单。
type AcceptancePolicy interface {
	Name() string
	OnPaymentCaptured(ctx context.Context, order *domain.Order) error
}

// TimedAcceptance 在固定延迟后检查订单，仍在等待接单则自动接单。
type TimedAcceptance struct {
	scheduler port.DelayScheduler
	delay     time.Duration
}

func NewTimedAcceptance(scheduler port.DelayScheduler, delay time.Duration) *TimedAcceptance {
	if delay <= 0 {
		delay = DefaultAutoAcceptDelay
	}
	return &TimedAcceptance{scheduler: scheduler, delay: delay}
}

func (p *TimedAcceptance) Name() string { return AcceptanceTimed }

func (p *TimedAcceptance) OnPaymentCaptured(ctx context.Context, order *domain.Order) error {
	now := time.Now()
	return p.scheduler.Schedule(ctx, domain.OrderTimeoutCheckEvent{
		TraceID:       trace.SpanFromContext(ctx).SpanContext().TraceID().String(),
		OrderID:       order.ID,
		Kind:          domain.TimeoutAutoAccept,
		ExpectedState: domain.StateWaitingAccept,
		CreationTime:  now,
		DeliverAt:     now.Add(p.delay),
	}, p.delay)
}

// ManualAcceptance 什么也不做，订单等待店员在终端上手动接单。
type ManualAcceptance struct{}

func (ManualAcceptance) Name() string { return AcceptanceManual }

func (ManualAcceptance) OnPaymentCaptured(context.Context, *domain.Order) error { return nil }

// NewAcceptancePolicy 按配置名创建接单策略。
func NewAcceptancePolicy(name string, scheduler port.DelayScheduler, delay time.Duration) (AcceptancePolicy, error) {
	switch name {
	case "", AcceptanceTimed:
		return NewTimedAcceptance(scheduler, delay), nil
	case AcceptanceManual:
		return ManualAcceptance{}, nil
	default:
		return nil, fmt.Errorf("unknown acceptance policy %q", name)
	}
}
