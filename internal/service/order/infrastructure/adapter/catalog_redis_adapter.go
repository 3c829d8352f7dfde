package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"kiosk/internal/pkg/redis"
	"kiosk/internal/service/order/domain"
)

const catalogKey = "items"

// CatalogRedisAdapter 是 port.Catalog 的 Redis 实现，商品以 JSON 存在 hash 中。
type CatalogRedisAdapter struct {
	redisClient *redis.Client
}

func NewCatalogRedisAdapter(redisClient *redis.Client) *CatalogRedisAdapter {
	return &CatalogRedisAdapter{redisClient: redisClient}
}

func (a *CatalogRedisAdapter) GetItem(ctx context.Context, id string) (*domain.MenuItem, error) {
	raw, err := a.redisClient.GetClient().HGet(ctx, catalogKey, id).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog adapter failed to read item %s: %v: %w", id, err, domain.ErrStoreUnavailable)
	}
	var item domain.MenuItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("catalog item %s is malformed: %w", id, err)
	}
	item.ID = id
	return &item, nil
}

// PutItems (管理用) 批量写入商品，已存在的同 ID 商品会被覆盖。
func (a *CatalogRedisAdapter) PutItems(ctx context.Context, items []domain.MenuItem) error {
	if len(items) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(items)*2)
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return err
		}
		values = append(values, item.ID, raw)
	}
	if err := a.redisClient.GetClient().HSet(ctx, catalogKey, values...).Err(); err != nil {
		return fmt.Errorf("failed to import catalog: %w", err)
	}
	return nil
}

// AllItems (管理用) 按 ID 排序返回全部商品。
func (a *CatalogRedisAdapter) AllItems(ctx context.Context) ([]domain.MenuItem, error) {
	all, err := a.redisClient.GetClient().HGetAll(ctx, catalogKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	items := make([]domain.MenuItem, 0, len(all))
	for id, raw := range all {
		var item domain.MenuItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("catalog item %s is malformed: %w", id, err)
		}
		item.ID = id
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}
