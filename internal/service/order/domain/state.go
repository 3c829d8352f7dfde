// internal/service/order/domain/state.go
package domain

import "strconv"

// State 定义了订单的生命周期状态。
// 数值与自助点餐机客户端约定一致，负数均为终态。
type State int

const (
	StateExpired        State = -400 // 支付网关报告支付已过期
	StateAborted        State = -300 // 支付网关报告支付被中止
	StateCanceled       State = -200 // 已取消 (用户、店员或超时)
	StateFailed         State = -100 // 支付处理失败
	StateDone           State = 0    // 已接单，订单完成
	StateWaitingPayment State = 100  // 等待支付
	StateWaitingAccept  State = 200  // 已支付，等待店员接单
)

// validNext 是唯一合法的状态流转表，表外的流转一律拒绝。
var validNext = map[State]map[State]bool{
	StateWaitingPayment: {
		StateWaitingAccept: true,
		StateCanceled:      true,
		StateExpired:       true,
		StateAborted:       true,
		StateFailed:        true,
	},
	StateWaitingAccept: {
		StateDone:     true,
		StateCanceled: true,
	},
	StateDone: {
		StateCanceled: true,
	},
}

// CanTransition 判断 from -> to 是否为合法流转。
func CanTransition(from, to State) bool {
	return validNext[from][to]
}

// IsTerminal 终态之后不再有任何流转。
func (s State) IsTerminal() bool {
	return len(validNext[s]) == 0
}

func (s State) String() string {
	switch s {
	case StateExpired:
		return "EXPIRED"
	case StateAborted:
		return "ABORTED"
	case StateCanceled:
		return "CANCELED"
	case StateFailed:
		return "FAILED"
	case StateDone:
		return "DONE"
	case StateWaitingPayment:
		return "WAITING_PAYMENT"
	case StateWaitingAccept:
		return "WAITING_ACCEPT"
	default:
		return "STATE(" + strconv.Itoa(int(s)) + ")"
	}
}

// PaymentMethod 是下单时选择的支付方式。
type PaymentMethod int

const (
	PayCard           PaymentMethod = 100
	PayToss           PaymentMethod = 150
	PayMobile         PaymentMethod = 200
	PayVirtualAccount PaymentMethod = 300
	PayDirect         PaymentMethod = 1000 // 柜台直接付款，不经过支付网关
)

// Valid 只接受枚举内的支付方式。
func (m PaymentMethod) Valid() bool {
	switch m {
	case PayCard, PayToss, PayMobile, PayVirtualAccount, PayDirect:
		return true
	}
	return false
}

// UsesGateway 为 false 时不存在可退款的网关交易。
func (m PaymentMethod) UsesGateway() bool {
	return m != PayDirect
}
