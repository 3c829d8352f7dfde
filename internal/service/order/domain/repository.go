// internal/service/order/domain/repository.go
package domain

import (
	"context"
	"time"
)

// Location 标识订单当前所在的集合。
type Location int

const (
	LocationPending   Location = iota + 1 // 从未离开过等待支付
	LocationConfirmed                     // 至少离开过一次等待支付
)

func (l Location) String() string {
	if l == LocationPending {
		return "pending"
	}
	return "confirmed"
}

// Found 是 Find 的结果，调用方必须按 Location 选择后续的写操作。
type Found struct {
	Location Location
	Order    *Order
}

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。所有写操作都以 Order.Version 做乐观并发校验，
// 成功后 Version 自增。存储故障统一表现为 ErrStoreUnavailable。
type OrderRepository interface {
	// Find 先查已确认集合再查待支付集合，都没有时返回 ErrOrderNotFound。
	Find(ctx context.Context, id string) (*Found, error)
	// FindMany 按 ids 顺序返回存在的订单，不存在的跳过。
	FindMany(ctx context.Context, ids []string) ([]*Order, error)
	// FindRange 返回 [start, end] 内下单的订单 id，按时间升序；零值表示不设边界。
	FindRange(ctx context.Context, start, end time.Time) ([]string, error)

	// CreatePending 写入新订单；id 冲突时重新生成 id 并重试有限次数。
	CreatePending(ctx context.Context, order *Order) error
	UpdatePending(ctx context.Context, order *Order) error
	UpdateConfirmed(ctx context.Context, order *Order) error
	// Promote 原子地把订单从待支付集合移到已确认集合。
	Promote(ctx context.Context, order *Order) error
	// DeletePending 删除仍处于待支付集合的订单 (取消时使用)。
	DeletePending(ctx context.Context, order *Order) error

	NextSequence(ctx context.Context) (int64, error)
	MaxSequence(ctx context.Context) (int64, error)
}

// PaymentSessionStore 保存支付会话缓存和一次性入金密钥。
type PaymentSessionStore interface {
	CachePaymentSession(ctx context.Context, orderID string, resp *PaymentResponse) error
	// PaymentSession 不存在或已过期时返回 nil, nil。
	PaymentSession(ctx context.Context, orderID string) (*PaymentResponse, error)
	StorePaymentSecret(ctx context.Context, orderID, secret string) error
	// PaymentSecret 不存在或已过期时返回空串。
	PaymentSecret(ctx context.Context, orderID string) (string, error)
	DeletePaymentSecret(ctx context.Context, orderID string) error
}
