package port

import (
	"context"

	"kiosk/internal/service/order/domain"
)

// Catalog 是商品目录的出站端口。
type Catalog interface {
	// GetItem 商品不存在时返回 nil, nil。
	GetItem(ctx context.Context, id string) (*domain.MenuItem, error)
}
