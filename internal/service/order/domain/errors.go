package domain

import "github.com/pkg/errors"

// 领域错误。调用方用 errors.Is 判断，用 KindOf 归类。
var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrInvalidItems        = errors.New("invalid items")
	ErrDuplicateItem       = errors.New("duplicate item")
	ErrUnknownItem         = errors.New("unknown item")
	ErrInvalidPayMethod    = errors.New("invalid payment method")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrMissingPaymentKey   = errors.New("payment key required")
	ErrReasonTooLong       = errors.New("cancel reason too long")
	ErrReasonRequired      = errors.New("cancel reason required")
	ErrAlreadyCanceled     = errors.New("order already canceled")
	ErrAlreadyAccepted     = errors.New("order already accepted")
	ErrNotAwaitingAccept   = errors.New("order is not waiting for accept")
	ErrAlreadyPaid         = errors.New("order already paid")
	ErrInvalidState        = errors.New("invalid order state")
	ErrVersionConflict     = errors.New("order was modified concurrently")
	ErrAmountMismatch      = errors.New("amount does not match order price")
	ErrGatewayAmount       = errors.New("gateway captured amount does not match order price")
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrGateway             = errors.New("payment gateway error")
	ErrStoreUnavailable    = errors.New("order store unavailable")
	ErrInvalidSecret       = errors.New("invalid payment secret")
	// ErrRefundNotRecorded 表示网关已退款，但取消状态没能写入存储
	ErrRefundNotRecorded = errors.New("payment refunded but cancellation not recorded")
)

// Kind 是错误的粗粒度分类，接口层据此选择状态码。
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindStateConflict
	KindAmountMismatch
	KindGateway
	KindStoreUnavailable
	KindInvalidSecret
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindNotFound:
		return "NotFound"
	case KindStateConflict:
		return "StateConflict"
	case KindAmountMismatch:
		return "AmountMismatch"
	case KindGateway:
		return "GatewayError"
	case KindStoreUnavailable:
		return "StoreUnavailable"
	case KindInvalidSecret:
		return "InvalidSecret"
	default:
		return "Internal"
	}
}

var kinds = []struct {
	kind Kind
	errs []error
}{
	{KindValidation, []error{ErrInvalidItems, ErrDuplicateItem, ErrUnknownItem, ErrInvalidPayMethod, ErrInvalidAmount, ErrMissingPaymentKey, ErrReasonTooLong, ErrReasonRequired}},
	{KindNotFound, []error{ErrOrderNotFound}},
	{KindStateConflict, []error{ErrAlreadyCanceled, ErrAlreadyAccepted, ErrNotAwaitingAccept, ErrAlreadyPaid, ErrInvalidState, ErrVersionConflict, ErrPaymentNotCompleted}},
	// 网关金额不一致也归入金额类，但不会自动重试
	{KindAmountMismatch, []error{ErrAmountMismatch, ErrGatewayAmount}},
	{KindStoreUnavailable, []error{ErrStoreUnavailable, ErrRefundNotRecorded}},
	{KindGateway, []error{ErrGateway}},
	{KindInvalidSecret, []error{ErrInvalidSecret}},
}

// KindOf 返回 err 所属的分类，未知错误归为 KindInternal。
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	for _, k := range kinds {
		for _, target := range k.errs {
			if errors.Is(err, target) {
				return k.kind
			}
		}
	}
	return KindInternal
}
