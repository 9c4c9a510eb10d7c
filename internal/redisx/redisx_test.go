package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestLocker_SingleHolder(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	l := NewLocker(rdb)

	release, ok, err := l.Acquire(ctx, "sweeper", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.Acquire(ctx, "sweeper", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("lock:sweeper"))

	_, ok, err = l.Acquire(ctx, "sweeper", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocker_StaleReleaseKeepsNewHolder(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	l := NewLocker(rdb)

	release, ok, err := l.Acquire(ctx, "sweeper", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = l.Acquire(ctx, "sweeper", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, release(ctx))
	assert.True(t, mr.Exists("lock:sweeper"))
}

type countingSource struct {
	calls int
	p     orders.Product
}

func (s *countingSource) GetProduct(context.Context, string) (orders.Product, error) {
	s.calls++
	return s.p, nil
}

func TestCachedCatalog_ReadThrough(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	src := &countingSource{p: orders.Product{ID: "p1", Name: "Kettle", Price: decimal.RequireFromString("49.90"), CurrentStock: 7}}
	c := NewCachedCatalog(src, rdb, time.Minute, zap.NewNop())

	for i := 0; i < 3; i++ {
		p, err := c.GetProduct(ctx, "p1")
		require.NoError(t, err)
		assert.True(t, src.p.Price.Equal(p.Price))
		assert.Equal(t, 7, p.CurrentStock)
	}
	assert.Equal(t, 1, src.calls)

	mr.FastForward(2 * time.Minute)
	_, err := c.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestIdempotency_ClaimReplayAndInFlight(t *testing.T) {
	ctx := context.Background()
	_, rdb := newRedis(t)
	idem := NewIdempotency(rdb, time.Hour)

	_, claimed, err := idem.Claim(ctx, "u1", "k1")
	require.NoError(t, err)
	require.True(t, claimed)

	_, _, err = idem.Claim(ctx, "u1", "k1")
	require.ErrorIs(t, err, ErrRequestInFlight)

	require.NoError(t, idem.Complete(ctx, "u1", "k1", "order-1"))
	orderID, claimed, err := idem.Claim(ctx, "u1", "k1")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "order-1", orderID)

	// key is scoped per user
	_, claimed, err = idem.Claim(ctx, "u2", "k1")
	require.NoError(t, err)
	assert.True(t, claimed)

	require.NoError(t, idem.Abandon(ctx, "u2", "k1"))
	_, claimed, err = idem.Claim(ctx, "u2", "k1")
	require.NoError(t, err)
	assert.True(t, claimed)
}
