package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"kiosk/internal/pkg/logger"
	"kiosk/internal/pkg/redis"
	"kiosk/internal/service/order/domain"
)

const (
	pendingKey   = "{order}:preOrders"
	confirmedKey = "{order}:orders"
	versionKey   = "{order}:versions"
	dateIndexKey = "{order}:dates"
	sequenceKey  = "{order}:sequence"

	sessionKeyPrefix = "payments:session:"
	secretKeyPrefix  = "payments:secret:"

	// 生成新 ID 的最大尝试次数，uuid v4 实际上不会冲突
	maxIDAttempts = 3
)

// DefaultPaymentTTL 是支付会话缓存和入金密钥的默认有效期。
const DefaultPaymentTTL = 1800 * time.Second

// StoreError 表示一次失败的存储操作，errors.Is 匹配 domain.ErrStoreUnavailable。
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("order store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == domain.ErrStoreUnavailable }

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// RedisOrderRepository 是 domain.OrderRepository 和 domain.PaymentSessionStore 的 Redis 实现。
type RedisOrderRepository struct {
	redisClient *redis.Client
	paymentTTL  time.Duration
	newID       func() string
}

// RepositoryOption 调整仓储的可选参数。
type RepositoryOption func(*RedisOrderRepository)

// WithPaymentTTL 覆盖支付会话和密钥的有效期。
func WithPaymentTTL(ttl time.Duration) RepositoryOption {
	return func(r *RedisOrderRepository) {
		if ttl > 0 {
			r.paymentTTL = ttl
		}
	}
}

// WithIDGenerator 替换冲突重试时使用的 ID 生成器。
func WithIDGenerator(gen func() string) RepositoryOption {
	return func(r *RedisOrderRepository) { r.newID = gen }
}

// NewRedisOrderRepository 创建仓储并加载所有 Lua 脚本。
func NewRedisOrderRepository(redisClient *redis.Client, opts ...RepositoryOption) (*RedisOrderRepository, error) {
	for name, content := range orderScripts {
		if err := redisClient.LoadScriptFromContent(name, content); err != nil {
			return nil, fmt.Errorf("failed to load critical order script: %w", err)
		}
	}
	r := &RedisOrderRepository{
		redisClient: redisClient,
		paymentTTL:  DefaultPaymentTTL,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *RedisOrderRepository) Find(ctx context.Context, id string) (*domain.Found, error) {
	pipe := r.redisClient.GetClient().Pipeline()
	confirmed := pipe.HGet(ctx, confirmedKey, id)
	pending := pipe.HGet(ctx, pendingKey, id)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, storeErr("find", err)
	}

	for _, c := range []struct {
		cmd      *goredis.StringCmd
		location domain.Location
	}{{confirmed, domain.LocationConfirmed}, {pending, domain.LocationPending}} {
		raw, err := c.cmd.Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, storeErr("find", err)
		}
		order, err := decodeOrder(raw)
		if err != nil {
			return nil, err
		}
		return &domain.Found{Location: c.location, Order: order}, nil
	}
	return nil, domain.ErrOrderNotFound
}

func (r *RedisOrderRepository) FindMany(ctx context.Context, ids []string) ([]*domain.Order, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := r.redisClient.GetClient().Pipeline()
	confirmed := pipe.HMGet(ctx, confirmedKey, ids...)
	pending := pipe.HMGet(ctx, pendingKey, ids...)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, storeErr("find many", err)
	}

	confirmedVals, pendingVals := confirmed.Val(), pending.Val()
	orders := make([]*domain.Order, 0, len(ids))
	for i := range ids {
		raw, ok := confirmedVals[i].(string)
		if !ok {
			raw, ok = pendingVals[i].(string)
		}
		if !ok {
			continue
		}
		order, err := decodeOrder(raw)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (r *RedisOrderRepository) FindRange(ctx context.Context, start, end time.Time) ([]string, error) {
	opt := &goredis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !start.IsZero() {
		opt.Min = strconv.FormatInt(start.Unix(), 10)
	}
	if !end.IsZero() {
		opt.Max = strconv.FormatInt(end.Unix(), 10)
	}
	ids, err := r.redisClient.GetClient().ZRangeByScore(ctx, dateIndexKey, opt).Result()
	if err != nil {
		return nil, storeErr("find range", err)
	}
	return ids, nil
}

func (r *RedisOrderRepository) CreatePending(ctx context.Context, order *domain.Order) error {
	order.Version = 1
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		raw, err := json.Marshal(order)
		if err != nil {
			return storeErr("create", err)
		}
		keys := []string{pendingKey, confirmedKey, versionKey, dateIndexKey}
		result, err := r.redisClient.RunScript(ctx, createPendingScriptName, keys,
			order.ID, string(raw), order.Date.Unix(), order.Version)
		if err != nil {
			return storeErr("create", err)
		}
		if code, _ := result.(int64); code == 1 {
			return nil
		}

		logger.Ctx(ctx).Warn().Str("order_id", order.ID).Int("attempt", attempt).Msg("order id collision, regenerating")
		order.ID = r.newID()
	}
	return storeErr("create", fmt.Errorf("no free order id after %d attempts", maxIDAttempts))
}

func (r *RedisOrderRepository) UpdatePending(ctx context.Context, order *domain.Order) error {
	return r.runVersioned(ctx, "update pending", updateScriptName, []string{pendingKey, versionKey}, order)
}

func (r *RedisOrderRepository) UpdateConfirmed(ctx context.Context, order *domain.Order) error {
	return r.runVersioned(ctx, "update confirmed", updateScriptName, []string{confirmedKey, versionKey}, order)
}

func (r *RedisOrderRepository) Promote(ctx context.Context, order *domain.Order) error {
	return r.runVersioned(ctx, "promote", promoteScriptName, []string{pendingKey, confirmedKey, versionKey}, order)
}

// runVersioned 以 order.Version 为期望版本执行写脚本，成功后 Version 自增。
func (r *RedisOrderRepository) runVersioned(ctx context.Context, op, script string, keys []string, order *domain.Order) error {
	expected := order.Version
	order.Version = expected + 1
	raw, err := json.Marshal(order)
	if err != nil {
		order.Version = expected
		return storeErr(op, err)
	}

	result, err := r.redisClient.RunScript(ctx, script, keys,
		order.ID, strconv.FormatInt(expected, 10), string(raw), strconv.FormatInt(order.Version, 10))
	if err != nil {
		order.Version = expected
		return storeErr(op, err)
	}
	if err := scriptOutcome(result, order.ID); err != nil {
		order.Version = expected
		return err
	}
	return nil
}

func (r *RedisOrderRepository) DeletePending(ctx context.Context, order *domain.Order) error {
	keys := []string{pendingKey, versionKey, dateIndexKey}
	result, err := r.redisClient.RunScript(ctx, deletePendingScriptName, keys,
		order.ID, strconv.FormatInt(order.Version, 10))
	if err != nil {
		return storeErr("delete pending", err)
	}
	return scriptOutcome(result, order.ID)
}

func scriptOutcome(result interface{}, id string) error {
	code, ok := result.(int64)
	if !ok {
		return storeErr("script", fmt.Errorf("unexpected result type from Lua script: %T", result))
	}
	switch code {
	case 1:
		return nil
	case 0:
		return domain.ErrVersionConflict
	case -1:
		// 订单已不在预期集合中，说明被并发移动或删除
		return fmt.Errorf("order %s moved: %w", id, domain.ErrVersionConflict)
	default:
		return storeErr("script", fmt.Errorf("unknown result code from order script: %d", code))
	}
}

func (r *RedisOrderRepository) NextSequence(ctx context.Context) (int64, error) {
	seq, err := r.redisClient.GetClient().Incr(ctx, sequenceKey).Result()
	if err != nil {
		return 0, storeErr("next sequence", err)
	}
	return seq, nil
}

func (r *RedisOrderRepository) MaxSequence(ctx context.Context) (int64, error) {
	seq, err := r.redisClient.GetClient().Get(ctx, sequenceKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr("max sequence", err)
	}
	return seq, nil
}

func (r *RedisOrderRepository) CachePaymentSession(ctx context.Context, orderID string, resp *domain.PaymentResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return storeErr("cache session", err)
	}
	if err := r.redisClient.GetClient().Set(ctx, sessionKeyPrefix+orderID, raw, r.paymentTTL).Err(); err != nil {
		return storeErr("cache session", err)
	}
	return nil
}

func (r *RedisOrderRepository) PaymentSession(ctx context.Context, orderID string) (*domain.PaymentResponse, error) {
	raw, err := r.redisClient.GetClient().Get(ctx, sessionKeyPrefix+orderID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("payment session", err)
	}
	var resp domain.PaymentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, storeErr("payment session", err)
	}
	return &resp, nil
}

func (r *RedisOrderRepository) StorePaymentSecret(ctx context.Context, orderID, secret string) error {
	if err := r.redisClient.GetClient().Set(ctx, secretKeyPrefix+orderID, secret, r.paymentTTL).Err(); err != nil {
		return storeErr("store secret", err)
	}
	return nil
}

func (r *RedisOrderRepository) PaymentSecret(ctx context.Context, orderID string) (string, error) {
	secret, err := r.redisClient.GetClient().Get(ctx, secretKeyPrefix+orderID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", storeErr("payment secret", err)
	}
	return secret, nil
}

func (r *RedisOrderRepository) DeletePaymentSecret(ctx context.Context, orderID string) error {
	if err := r.redisClient.GetClient().Del(ctx, secretKeyPrefix+orderID).Err(); err != nil {
		return storeErr("delete secret", err)
	}
	return nil
}

func decodeOrder(raw string) (*domain.Order, error) {
	var order domain.Order
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		return nil, storeErr("decode", err)
	}
	return &order, nil
}
