package inventory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ariefcatur/storefront-settlement/internal/logging"
	"github.com/ariefcatur/storefront-settlement/internal/metrics"
	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/ariefcatur/storefront-settlement/internal/store"
	"go.uber.org/zap"
)

const sweepLockKey = "reservation-sweeper"

// Locker guards a sweep across processes. ok=false means another process holds the lock.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// ExpiredHoldResolver decides what an expired hold means for its order and applies it.
type ExpiredHoldResolver interface {
	ResolveExpiredHold(ctx context.Context, holdID string) error
}

type SweeperConfig struct {
	Timeout  time.Duration
	Interval time.Duration
	// LockTTL is the lease on the cross-process lock. A sweep stops before the lease runs out.
	LockTTL    time.Duration
	AlertAfter int
	Batch      int
}

type Sweeper struct {
	store    store.Store
	resolver ExpiredHoldResolver
	locker   Locker
	logger   *zap.Logger
	metrics  *metrics.Metrics
	cfg      SweeperConfig
	now      func() time.Time

	running atomic.Bool
	misses  map[string]int // hold_id -> jumlah siklus gagal berturut-turut
}

func NewSweeper(st store.Store, resolver ExpiredHoldResolver, locker Locker, logger *zap.Logger, m *metrics.Metrics, cfg SweeperConfig) *Sweeper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * cfg.Interval
	}
	if cfg.AlertAfter <= 0 {
		cfg.AlertAfter = 3
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 200
	}
	return &Sweeper{
		store: st, resolver: resolver, locker: locker, logger: logger, metrics: m, cfg: cfg,
		now:    time.Now,
		misses: make(map[string]int),
	}
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	logging.Info(ctx, s.logger, "reservation sweeper started",
		zap.Duration("timeout", s.cfg.Timeout), zap.Duration("interval", s.cfg.Interval),
		zap.Duration("lock_ttl", s.cfg.LockTTL))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info(ctx, s.logger, "reservation sweeper stopping")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				logging.Error(ctx, s.logger, "sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce resolves holds older than the timeout and returns how many holds were resolved.
// Overlapping calls, in this process or another, return immediately. A sweep pages through
// every expired hold but gives up once its share of the lock lease is spent.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if !s.running.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer s.running.Store(false)

	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, sweepLockKey, s.cfg.LockTTL)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
		defer func() { _ = release(context.WithoutCancel(ctx)) }()
	}

	sweepCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTTL-s.cfg.LockTTL/10)
	defer cancel()

	cutoff := s.now().Add(-s.cfg.Timeout)
	seen := make(map[string]bool)
	cursor := store.HoldCursor{}
	resolved := 0
	complete := false

	for sweepCtx.Err() == nil {
		var page []orders.Reservation
		if err := s.store.InTx(sweepCtx, func(ctx context.Context, tx store.Tx) error {
			var err error
			page, err = tx.Holds().ListExpired(ctx, cutoff, cursor, s.cfg.Batch)
			return err
		}); err != nil {
			if sweepCtx.Err() != nil {
				break
			}
			return resolved, err
		}
		if len(page) > 0 {
			cursor = store.CursorOf(page[len(page)-1])
		}
		resolved += s.resolvePage(sweepCtx, page, seen)
		if len(page) < s.cfg.Batch {
			complete = sweepCtx.Err() == nil
			break
		}
	}

	if complete {
		// hold yang sudah tidak expired (di-resolve jalur lain) tidak perlu dihitung lagi
		for holdID := range s.misses {
			if !seen[holdID] {
				delete(s.misses, holdID)
			}
		}
	} else if ctx.Err() == nil {
		logging.Warn(ctx, s.logger, "sweep stopped before the lock lease ran out",
			zap.Int("holds_seen", len(seen)), zap.Int("resolved", resolved))
	}

	if resolved > 0 {
		s.metrics.SweeperResolved(resolved)
		logging.Info(ctx, s.logger, "expired reservations resolved", zap.Int("holds", resolved))
	}
	return resolved, nil
}

// resolvePage resolves each hold of page not seen earlier in this sweep and returns how many
// reservation rows were resolved.
func (s *Sweeper) resolvePage(ctx context.Context, page []orders.Reservation, seen map[string]bool) int {
	byHold := make(map[string]int)
	var holdIDs []string
	for _, r := range page {
		if seen[r.HoldID] {
			continue
		}
		if _, ok := byHold[r.HoldID]; !ok {
			holdIDs = append(holdIDs, r.HoldID)
		}
		byHold[r.HoldID]++
	}

	resolved := 0
	for _, holdID := range holdIDs {
		if ctx.Err() != nil {
			break
		}
		seen[holdID] = true
		if err := s.resolver.ResolveExpiredHold(ctx, holdID); err != nil {
			s.misses[holdID]++
			if s.misses[holdID] == s.cfg.AlertAfter {
				s.metrics.SweeperUnresolved()
				logging.Error(ctx, s.logger, "expired reservation still unresolved",
					zap.String("hold_id", holdID), zap.Int("cycles", s.misses[holdID]), zap.Error(err))
			} else {
				logging.Warn(ctx, s.logger, "resolve expired reservation failed",
					zap.String("hold_id", holdID), zap.Error(err))
			}
			continue
		}
		delete(s.misses, holdID)
		resolved += byHold[holdID]
	}
	return resolved
}
