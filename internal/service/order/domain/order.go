// internal/service/order/domain/order.go
package domain

import (
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// MaxCancelReasonLength 按字符计，不按字节。
const MaxCancelReasonLength = 256

// MenuItem 是目录中的商品快照。
type MenuItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Category    string `json:"category,omitempty"`
}

// OrderItem 复制下单时的商品信息，之后目录变化不影响已下订单。
type OrderItem struct {
	MenuItem
	Amount int `json:"amount"`
}

// Cancellation 只在订单被取消时存在。
type Cancellation struct {
	Reason string    `json:"reason"`
	Date   time.Time `json:"date"`
}

// Order 是订单聚合的根实体
type Order struct {
	ID       string        `json:"id"`
	Sequence int64         `json:"sequence"`
	Date     time.Time     `json:"date"`
	Items    []OrderItem   `json:"items"`
	Price    int64         `json:"price"`
	PayWith  PaymentMethod `json:"payWith"`
	State    State         `json:"state"`
	Cancel   *Cancellation `json:"cancel,omitempty"`
	// Version 由仓储在每次写入时递增，用于乐观并发控制
	Version int64 `json:"version"`
}

// CancelGuard 在订单状态被修改之前同步执行，返回错误则整个取消操作中止。
type CancelGuard func(o *Order, reason string) error

// TotalPrice 计算 Σ amount × price。
func TotalPrice(items []OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += int64(item.Amount) * item.Price
	}
	return total
}

// 工厂函数: NewOrder 创建一个等待支付的新订单，价格在此一次性算定。
func NewOrder(id string, sequence int64, now time.Time, items []OrderItem, payWith PaymentMethod) *Order {
	copied := make([]OrderItem, len(items))
	copy(copied, items)
	return &Order{
		ID:       id,
		Sequence: sequence,
		Date:     now,
		Items:    copied,
		Price:    TotalPrice(copied),
		PayWith:  payWith,
		State:    StateWaitingPayment,
	}
}

// Clone 返回深拷贝，事件订阅者拿到的都是快照。
func (o *Order) Clone() *Order {
	c := *o
	c.Items = make([]OrderItem, len(o.Items))
	copy(c.Items, o.Items)
	if o.Cancel != nil {
		cancel := *o.Cancel
		c.Cancel = &cancel
	}
	return &c
}

func (o *Order) transition(to State) error {
	if !CanTransition(o.State, to) {
		return errors.Wrapf(ErrInvalidState, "%s -> %s", o.State, to)
	}
	o.State = to
	return nil
}

// CheckPayable 依次检查：已完成、金额、是否仍在等待支付。
// 金额先于状态校验，错误金额对任何未完成订单都报 ErrAmountMismatch。
func (o *Order) CheckPayable(amount int64) error {
	if o.State == StateDone {
		return ErrAlreadyPaid
	}
	if amount != o.Price {
		return errors.Wrapf(ErrAmountMismatch, "got %d, want %d", amount, o.Price)
	}
	if o.State != StateWaitingPayment {
		return errors.Wrapf(ErrInvalidState, "state %s", o.State)
	}
	return nil
}

// RecordDirectPayment 柜台付款，直接进入等待接单。
func (o *Order) RecordDirectPayment() error {
	if o.State != StateWaitingPayment {
		return o.CheckPayable(o.Price)
	}
	return o.transition(StateWaitingAccept)
}

// RecordPaymentResult 根据网关返回的支付状态推进订单。先比对网关扣款金额，再检查状态。
// READY / IN_PROGRESS / WAITING_FOR_DEPOSIT 保持等待支付；
// 失败类状态落到对应终态并返回 ErrPaymentNotCompleted。
func (o *Order) RecordPaymentResult(status PaymentStatus, captured int64, now time.Time) error {
	if captured != o.Price {
		return errors.Wrapf(ErrGatewayAmount, "captured %d, want %d", captured, o.Price)
	}
	if o.State != StateWaitingPayment {
		return errors.Wrapf(ErrInvalidState, "state %s", o.State)
	}

	var terminal State
	switch status {
	case PaymentDone:
		return o.transition(StateWaitingAccept)
	case PaymentReady, PaymentInProgress, PaymentWaitingForDeposit:
		return nil
	case PaymentCanceled, PaymentPartialCanceled:
		terminal = StateCanceled
	case PaymentAborted:
		terminal = StateAborted
	case PaymentExpired:
		terminal = StateExpired
	default:
		terminal = StateFailed
	}
	if err := o.Terminate(terminal, now); err != nil {
		return err
	}
	return errors.Wrapf(ErrPaymentNotCompleted, "gateway status %s", status)
}

// Terminate 记录网关报告的终态，只接受 Canceled / Aborted / Expired / Failed。
func (o *Order) Terminate(state State, now time.Time) error {
	if !state.IsTerminal() {
		return errors.Wrapf(ErrInvalidState, "%s is not terminal", state)
	}
	if err := o.transition(state); err != nil {
		return err
	}
	if state == StateCanceled {
		o.Cancel = &Cancellation{Reason: "payment canceled", Date: now}
	}
	return nil
}

// Accept 店员接单。
func (o *Order) Accept() error {
	switch o.State {
	case StateDone:
		return ErrAlreadyAccepted
	case StateWaitingAccept:
		o.State = StateDone
		return nil
	default:
		return errors.Wrapf(ErrNotAwaitingAccept, "state %s", o.State)
	}
}

// CancelWith 取消订单。guard 可以为 nil。
func (o *Order) CancelWith(reason string, now time.Time, guard CancelGuard) error {
	if o.State == StateCanceled {
		return ErrAlreadyCanceled
	}
	if utf8.RuneCountInString(reason) > MaxCancelReasonLength {
		return ErrReasonTooLong
	}
	if !CanTransition(o.State, StateCanceled) {
		return errors.Wrapf(ErrInvalidState, "cannot cancel order in state %s", o.State)
	}
	if guard != nil {
		if err := guard(o, reason); err != nil {
			return err
		}
	}
	o.State = StateCanceled
	o.Cancel = &Cancellation{Reason: reason, Date: now}
	return nil
}

// ApplyDeposit 处理网关入金回调：DONE 进入等待接单，其余一律取消。
func (o *Order) ApplyDeposit(status PaymentStatus, now time.Time) error {
	if status == PaymentDone {
		return o.transition(StateWaitingAccept)
	}
	if err := o.transition(StateCanceled); err != nil {
		return err
	}
	o.Cancel = &Cancellation{Reason: "deposit " + string(status), Date: now}
	return nil
}
