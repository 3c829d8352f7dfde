package infrastructure

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiosk/internal/pkg/redis"
	"kiosk/internal/service/order/domain"
)

func newTestRepository(t *testing.T, opts ...RepositoryOption) (*RedisOrderRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo, err := NewRedisOrderRepository(redis.Wrap(rdb), opts...)
	require.NoError(t, err)
	return repo, mr
}

func newOrder(id string, date time.Time) *domain.Order {
	return domain.NewOrder(id, 1, date, []domain.OrderItem{
		{MenuItem: domain.MenuItem{ID: "americano", Name: "Americano", Price: 3000}, Amount: 1},
	}, domain.PayCard)
}

func TestCreateAndFindPending(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	order := newOrder("o-1", time.Unix(1700000000, 0).UTC())
	require.NoError(t, repo.CreatePending(ctx, order))
	assert.Equal(t, int64(1), order.Version)

	found, err := repo.Find(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LocationPending, found.Location)
	assert.Equal(t, order.Price, found.Order.Price)
	assert.Equal(t, domain.StateWaitingPayment, found.Order.State)

	_, err = repo.Find(ctx, "missing")
	assert.Equal(t, domain.ErrOrderNotFound, err)
}

func TestCreatePendingRegeneratesCollidingID(t *testing.T) {
	ids := []string{"o-1", "o-2"}
	repo, _ := newTestRepository(t, WithIDGenerator(func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}))
	ctx := context.Background()

	require.NoError(t, repo.CreatePending(ctx, newOrder("o-1", time.Now())))

	second := newOrder("o-1", time.Now())
	require.NoError(t, repo.CreatePending(ctx, second))
	assert.Equal(t, "o-2", second.ID)
}

func TestCreatePendingGivesUpAfterBoundedAttempts(t *testing.T) {
	repo, _ := newTestRepository(t, WithIDGenerator(func() string { return "o-1" }))
	ctx := context.Background()

	require.NoError(t, repo.CreatePending(ctx, newOrder("o-1", time.Now())))
	err := repo.CreatePending(ctx, newOrder("o-1", time.Now()))
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
}

func TestPromoteMovesOrderAtomically(t *testing.T) {
	repo, mr := newTestRepository(t)
	ctx := context.Background()

	order := newOrder("o-1", time.Now())
	require.NoError(t, repo.CreatePending(ctx, order))

	order.State = domain.StateWaitingAccept
	require.NoError(t, repo.Promote(ctx, order))
	assert.Equal(t, int64(2), order.Version)

	found, err := repo.Find(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LocationConfirmed, found.Location)
	assert.Equal(t, domain.StateWaitingAccept, found.Order.State)
	assert.Empty(t, mr.HGet(pendingKey, "o-1"))

	// 已确认订单不能再次提升
	err = repo.Promote(ctx, found.Order)
	assert.True(t, errors.Is(err, domain.ErrVersionConflict))
}

func TestStaleWriteIsRejected(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.CreatePending(ctx, newOrder("o-1", time.Now())))

	first, err := repo.Find(ctx, "o-1")
	require.NoError(t, err)
	second, err := repo.Find(ctx, "o-1")
	require.NoError(t, err)

	first.Order.State = domain.StateWaitingAccept
	require.NoError(t, repo.Promote(ctx, first.Order))

	require.NoError(t, second.Order.CancelWith("timeout", time.Now(), nil))
	err = repo.DeletePending(ctx, second.Order)
	assert.True(t, errors.Is(err, domain.ErrVersionConflict))
	assert.Equal(t, domain.KindStateConflict, domain.KindOf(err))

	found, err := repo.Find(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateWaitingAccept, found.Order.State)
}

func TestUpdateKeepsVersionOnConflict(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	order := newOrder("o-1", time.Now())
	require.NoError(t, repo.CreatePending(ctx, order))

	stale := order.Clone()
	require.NoError(t, repo.UpdatePending(ctx, order))

	err := repo.UpdatePending(ctx, stale)
	assert.True(t, errors.Is(err, domain.ErrVersionConflict))
	assert.Equal(t, int64(1), stale.Version)
}

func TestDeletePendingRemovesDateIndex(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	order := newOrder("o-1", time.Now())
	require.NoError(t, repo.CreatePending(ctx, order))
	require.NoError(t, repo.DeletePending(ctx, order))

	_, err := repo.Find(ctx, "o-1")
	assert.Equal(t, domain.ErrOrderNotFound, err)

	ids, err := repo.FindRange(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFindRangeIsInclusiveAndAscending(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0).UTC()
	for i, id := range []string{"c", "a", "b"} {
		require.NoError(t, repo.CreatePending(ctx, newOrder(id, base.Add(time.Duration(2-i)*time.Hour))))
	}
	// c: +2h, a: +1h, b: +0h

	ids, err := repo.FindRange(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids)

	ids, err = repo.FindRange(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, ids)

	orders, err := repo.FindMany(ctx, []string{"c", "missing", "a"})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "c", orders[0].ID)
	assert.Equal(t, "a", orders[1].ID)
}

func TestSequenceIsUniqueUnderConcurrency(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	const n = 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := repo.NextSequence(ctx)
			assert.NoError(t, err)
			mu.Lock()
			seen[seq] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	last, err := repo.MaxSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(n), last)
}

func TestPaymentSessionExpires(t *testing.T) {
	repo, mr := newTestRepository(t)
	ctx := context.Background()

	resp := &domain.PaymentResponse{State: domain.StateWaitingAccept, Price: 3000}
	require.NoError(t, repo.CachePaymentSession(ctx, "o-1", resp))

	cached, err := repo.PaymentSession(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, resp, cached)

	mr.FastForward(DefaultPaymentTTL + time.Second)
	cached, err = repo.PaymentSession(ctx, "o-1")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestPaymentSecretLifecycle(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	secret, err := repo.PaymentSecret(ctx, "o-1")
	require.NoError(t, err)
	assert.Empty(t, secret)

	require.NoError(t, repo.StorePaymentSecret(ctx, "o-1", "s3cr3t"))
	secret, err = repo.PaymentSecret(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", secret)

	require.NoError(t, repo.DeletePaymentSecret(ctx, "o-1"))
	secret, err = repo.PaymentSecret(ctx, "o-1")
	require.NoError(t, err)
	assert.Empty(t, secret)
}

func TestStoreFailureIsStoreUnavailable(t *testing.T) {
	repo, mr := newTestRepository(t)
	mr.Close()

	_, err := repo.Find(context.Background(), "o-1")
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
	assert.Equal(t, domain.KindStoreUnavailable, domain.KindOf(err))
}
