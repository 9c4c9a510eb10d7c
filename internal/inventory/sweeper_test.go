package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/storefront-settlement/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type releasingResolver struct {
	ledger *Ledger
	store  store.Store
	fail   map[string]bool

	mu    sync.Mutex
	calls []string
}

func (r *releasingResolver) ResolveExpiredHold(ctx context.Context, holdID string) error {
	r.mu.Lock()
	r.calls = append(r.calls, holdID)
	r.mu.Unlock()
	if r.fail[holdID] {
		return errors.New("order store unavailable")
	}
	return r.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return r.ledger.ReleaseHold(ctx, tx, holdID, ReasonReservationExpired)
	})
}

type stubLocker struct {
	held bool
	ttl  time.Duration
}

func (l *stubLocker) Acquire(_ context.Context, _ string, ttl time.Duration) (func(context.Context) error, bool, error) {
	if l.held {
		return nil, false, nil
	}
	l.held = true
	l.ttl = ttl
	return func(context.Context) error { l.held = false; return nil }, true, nil
}

func TestSweeper_ReleasesExpiredHolds(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	l, st := newLedger(t, map[string]int{"p1": 3})
	l.WithClock(clock)

	_, err := l.Reserve(ctx, "stale", "p1", 2)
	require.NoError(t, err)

	now = now.Add(31 * time.Minute)
	_, err = l.Reserve(ctx, "fresh", "p1", 1)
	require.NoError(t, err)

	res := &releasingResolver{ledger: l, store: st}
	sw := NewSweeper(st, res, &stubLocker{}, zap.NewNop(), nil, SweeperConfig{Timeout: 30 * time.Minute}).WithClock(clock)

	n, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"stale"}, res.calls)

	rec, err := l.Stock(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Available)
	assert.Equal(t, 1, rec.Reserved)
}

func TestSweeper_SkipsWhenLockHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	l, st := newLedger(t, map[string]int{"p1": 3})
	l.WithClock(func() time.Time { return time.Now().Add(-time.Hour) })
	_, err := l.Reserve(ctx, "stale", "p1", 1)
	require.NoError(t, err)

	res := &releasingResolver{ledger: l, store: st}
	sw := NewSweeper(st, res, &stubLocker{held: true}, zap.NewNop(), nil, SweeperConfig{})

	n, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, res.calls)
}

func TestSweeper_RetriesAndCountsUnresolved(t *testing.T) {
	ctx := context.Background()
	l, st := newLedger(t, map[string]int{"p1": 3})
	l.WithClock(func() time.Time { return time.Now().Add(-time.Hour) })
	_, err := l.Reserve(ctx, "stuck", "p1", 1)
	require.NoError(t, err)

	res := &releasingResolver{ledger: l, store: st, fail: map[string]bool{"stuck": true}}
	sw := NewSweeper(st, res, nil, zap.NewNop(), nil, SweeperConfig{AlertAfter: 2})

	for i := 0; i < 3; i++ {
		n, err := sw.SweepOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	assert.Len(t, res.calls, 3)
	assert.Equal(t, 3, sw.misses["stuck"])

	res.fail = nil
	n, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotContains(t, sw.misses, "stuck")
}

func TestSweeper_FailingHoldsDoNotStarveNewerOnes(t *testing.T) {
	ctx := context.Background()
	start := time.Now().Add(-2 * time.Hour)
	clock := start
	l, st := newLedger(t, map[string]int{"p1": 10})
	l.WithClock(func() time.Time { return clock })

	fail := map[string]bool{}
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("stuck-%d", i)
		fail[id] = true
		_, err := l.Reserve(ctx, id, "p1", 1)
		require.NoError(t, err)
		clock = clock.Add(time.Second)
	}
	_, err := l.Reserve(ctx, "newer", "p1", 1)
	require.NoError(t, err)

	res := &releasingResolver{ledger: l, store: st, fail: fail}
	sw := NewSweeper(st, res, nil, zap.NewNop(), nil, SweeperConfig{Batch: 2})

	n, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"stuck-0", "stuck-1", "stuck-2", "stuck-3", "newer"}, res.calls)

	rec, err := l.Stock(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Reserved)
}

type slowResolver struct {
	delay time.Duration

	mu        sync.Mutex
	calls     int
	deadlines []time.Time
}

func (r *slowResolver) ResolveExpiredHold(ctx context.Context, _ string) error {
	r.mu.Lock()
	r.calls++
	if d, ok := ctx.Deadline(); ok {
		r.deadlines = append(r.deadlines, d)
	}
	r.mu.Unlock()
	select {
	case <-time.After(r.delay):
		return errors.New("still busy")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestSweeper_StaysWithinLockLease(t *testing.T) {
	ctx := context.Background()
	l, st := newLedger(t, map[string]int{"p1": 20})
	l.WithClock(func() time.Time { return time.Now().Add(-time.Hour) })
	for i := 0; i < 20; i++ {
		_, err := l.Reserve(ctx, fmt.Sprintf("o%d", i), "p1", 1)
		require.NoError(t, err)
	}

	locker := &stubLocker{}
	res := &slowResolver{delay: 30 * time.Millisecond}
	lease := 200 * time.Millisecond
	sw := NewSweeper(st, res, locker, zap.NewNop(), nil, SweeperConfig{Interval: time.Second, LockTTL: lease})

	began := time.Now()
	_, err := sw.SweepOnce(ctx)
	require.NoError(t, err)

	assert.Less(t, time.Since(began), lease)
	assert.Equal(t, lease, locker.ttl)
	assert.Less(t, res.calls, 20)
	require.NotEmpty(t, res.deadlines)
	assert.True(t, res.deadlines[0].Before(began.Add(lease)))
	assert.False(t, locker.held)
}

func TestSweeper_DefaultLeaseOutlastsInterval(t *testing.T) {
	sw := NewSweeper(store.NewMemory(), &releasingResolver{}, nil, zap.NewNop(), nil, SweeperConfig{Interval: time.Minute})
	assert.Equal(t, 5*time.Minute, sw.cfg.LockTTL)
}
