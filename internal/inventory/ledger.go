package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/storefront-settlement/internal/logging"
	"github.com/ariefcatur/storefront-settlement/internal/metrics"
	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/ariefcatur/storefront-settlement/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ReasonInitialStock        = "INITIAL_STOCK"
	ReasonOrderPaid           = "ORDER_PAID"
	ReasonPaymentFailed       = "PAYMENT_FAILED"
	ReasonOrderCancellation   = "ORDER_CANCELLATION"
	ReasonReservationExpired  = "RESERVATION_EXPIRED"
	ReasonCheckoutCompensated = "CHECKOUT_COMPENSATION"
)

// DefaultLowStockThreshold applies to records seeded without an explicit threshold.
const DefaultLowStockThreshold = 5

// Notifier receives stock alerts after the transaction that caused them committed.
type Notifier interface {
	Enqueue(ctx context.Context, topic, eventType, key string, payload any) error
}

type Item struct {
	ProductID string
	Quantity  int
}

// Ledger owns every mutation of stock records. Each entry point is one transaction; the
// *Tx variants join a transaction opened by the caller.
type Ledger struct {
	store    store.Store
	logger   *zap.Logger
	metrics  *metrics.Metrics
	notifier Notifier
	lowStock int
	now      func() time.Time
}

func NewLedger(st store.Store, logger *zap.Logger, m *metrics.Metrics) *Ledger {
	return &Ledger{store: st, logger: logger, metrics: m, lowStock: DefaultLowStockThreshold, now: time.Now}
}

func (l *Ledger) WithNotifier(n Notifier) *Ledger {
	l.notifier = n
	return l
}

// WithLowStockThreshold sets the threshold given to newly seeded records.
func (l *Ledger) WithLowStockThreshold(n int) *Ledger {
	if n >= 0 {
		l.lowStock = n
	}
	return l
}

// WithClock swaps the time source used for hold and log timestamps.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// EnsureStock seeds a stock record from the catalog baseline when none exists yet.
func (l *Ledger) EnsureStock(ctx context.Context, productID string, baseline int) error {
	if baseline < 0 {
		baseline = 0
	}
	return l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		now := l.now()
		inserted, err := tx.Stock().Seed(ctx, orders.StockRecord{
			ProductID: productID, Available: baseline, LowStockThreshold: l.lowStock, UpdatedAt: now,
		})
		if err != nil || !inserted {
			return err
		}
		return tx.Stock().AppendLog(ctx, orders.LogEntry{
			ID: uuid.NewString(), ProductID: productID, Delta: baseline, Kind: orders.LogAdjust,
			Reason: ReasonInitialStock, PreviousQuantity: 0, NewQuantity: baseline, CreatedAt: now,
		})
	})
}

// Reserve moves qty from available to reserved and records a hold for holdID.
func (l *Ledger) Reserve(ctx context.Context, holdID, productID string, qty int) (orders.Reservation, error) {
	if qty <= 0 {
		return orders.Reservation{}, fmt.Errorf("reserve %s: quantity %d: %w", productID, qty, orders.ErrValidation)
	}
	var res orders.Reservation
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		rec, err := tx.Stock().Lock(ctx, productID)
		if errors.Is(err, orders.ErrNotFound) {
			return &orders.StockError{ProductID: productID, Requested: qty}
		}
		if err != nil {
			return err
		}
		if rec.Available < qty {
			return &orders.StockError{ProductID: productID, Requested: qty, Available: rec.Available}
		}

		now := l.now()
		prev := rec.Available
		rec.Available -= qty
		rec.Reserved += qty
		rec.UpdatedAt = now
		if err := tx.Stock().Save(ctx, rec); err != nil {
			return err
		}
		if err := tx.Stock().AppendLog(ctx, orders.LogEntry{
			ID: uuid.NewString(), ProductID: productID, Delta: -qty, Kind: orders.LogReserve,
			Reason: holdID, PreviousQuantity: prev, NewQuantity: rec.Available, CreatedAt: now,
		}); err != nil {
			return err
		}

		l.watch(tx, rec, prev, holdID)

		res = orders.Reservation{
			ID: uuid.NewString(), HoldID: holdID, ProductID: productID, Quantity: qty,
			Status: orders.HoldReserved, CreatedAt: now,
		}
		return tx.Holds().Insert(ctx, res)
	})
	if err != nil {
		return orders.Reservation{}, err
	}
	l.metrics.LedgerOp(string(orders.LogReserve))
	return res, nil
}

// ReserveAll reserves every item for holdID or nothing: on the first failure the holds already
// taken are released before the failure is returned.
func (l *Ledger) ReserveAll(ctx context.Context, holdID string, items []Item) ([]orders.Reservation, error) {
	out := make([]orders.Reservation, 0, len(items))
	for _, it := range items {
		r, err := l.Reserve(ctx, holdID, it.ProductID, it.Quantity)
		if err != nil {
			if len(out) > 0 {
				// context bisa sudah cancel; kompensasi tetap harus jalan
				if rerr := l.ReleaseAll(context.WithoutCancel(ctx), holdID, ReasonCheckoutCompensated); rerr != nil {
					logging.Error(ctx, l.logger, "compensating release failed",
						zap.String("hold_id", holdID), zap.Error(rerr))
				}
			}
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ReleaseAll releases every open hold of holdID in its own transaction.
func (l *Ledger) ReleaseAll(ctx context.Context, holdID, reason string) error {
	return l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return l.ReleaseHold(ctx, tx, holdID, reason)
	})
}

// Commit finalizes a sale: the quantity leaves reserved and never returns to available.
func (l *Ledger) Commit(ctx context.Context, productID string, qty int) error {
	return l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return l.commitTx(ctx, tx, productID, qty, ReasonOrderPaid)
	})
}

// Release returns reserved quantity to available.
func (l *Ledger) Release(ctx context.Context, productID string, qty int, reason string) error {
	return l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return l.releaseTx(ctx, tx, productID, qty, reason)
	})
}

// Adjust applies an administrative correction to available stock.
func (l *Ledger) Adjust(ctx context.Context, productID string, delta int, reason string) (orders.StockRecord, error) {
	var rec orders.StockRecord
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		rec, err = l.AdjustTx(ctx, tx, productID, delta, reason)
		return err
	})
	return rec, err
}

// CommitHold commits every open hold of holdID inside tx.
func (l *Ledger) CommitHold(ctx context.Context, tx store.Tx, holdID string) error {
	return l.resolveHold(ctx, tx, holdID, orders.HoldCommitted, ReasonOrderPaid)
}

// ReleaseHold releases every open hold of holdID inside tx.
func (l *Ledger) ReleaseHold(ctx context.Context, tx store.Tx, holdID, reason string) error {
	return l.resolveHold(ctx, tx, holdID, orders.HoldReleased, reason)
}

func (l *Ledger) resolveHold(ctx context.Context, tx store.Tx, holdID string, to orders.HoldStatus, reason string) error {
	holds, err := tx.Holds().ListByHold(ctx, holdID, orders.HoldReserved)
	if err != nil {
		return err
	}
	for _, h := range holds {
		ok, err := tx.Holds().Resolve(ctx, h.ID, to, l.now())
		if err != nil {
			return err
		}
		if !ok {
			continue // sudah di-resolve transaksi lain
		}
		if to == orders.HoldCommitted {
			err = l.commitTx(ctx, tx, h.ProductID, h.Quantity, reason)
		} else {
			err = l.releaseTx(ctx, tx, h.ProductID, h.Quantity, reason)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) commitTx(ctx context.Context, tx store.Tx, productID string, qty int, reason string) error {
	rec, err := tx.Stock().Lock(ctx, productID)
	if err != nil {
		return err
	}
	if rec.Reserved < qty {
		return l.violation(ctx, orders.LogCommit, rec, qty)
	}
	rec.Reserved -= qty
	rec.UpdatedAt = l.now()
	if err := tx.Stock().Save(ctx, rec); err != nil {
		return err
	}
	l.metrics.LedgerOp(string(orders.LogCommit))
	return tx.Stock().AppendLog(ctx, orders.LogEntry{
		ID: uuid.NewString(), ProductID: productID, Delta: -qty, Kind: orders.LogCommit, Reason: reason,
		PreviousQuantity: rec.Available, NewQuantity: rec.Available, CreatedAt: rec.UpdatedAt,
	})
}

func (l *Ledger) releaseTx(ctx context.Context, tx store.Tx, productID string, qty int, reason string) error {
	rec, err := tx.Stock().Lock(ctx, productID)
	if err != nil {
		return err
	}
	if rec.Reserved < qty {
		return l.violation(ctx, orders.LogRelease, rec, qty)
	}
	prev := rec.Available
	rec.Reserved -= qty
	rec.Available += qty
	rec.UpdatedAt = l.now()
	if err := tx.Stock().Save(ctx, rec); err != nil {
		return err
	}
	l.metrics.LedgerOp(string(orders.LogRelease))
	l.watch(tx, rec, prev, reason)
	return tx.Stock().AppendLog(ctx, orders.LogEntry{
		ID: uuid.NewString(), ProductID: productID, Delta: qty, Kind: orders.LogRelease, Reason: reason,
		PreviousQuantity: prev, NewQuantity: rec.Available, CreatedAt: rec.UpdatedAt,
	})
}

// AdjustTx is Adjust inside the caller's transaction. A missing record is created for
// positive deltas.
func (l *Ledger) AdjustTx(ctx context.Context, tx store.Tx, productID string, delta int, reason string) (orders.StockRecord, error) {
	now := l.now()
	rec, err := tx.Stock().Lock(ctx, productID)
	if errors.Is(err, orders.ErrNotFound) && delta >= 0 {
		rec = orders.StockRecord{ProductID: productID, LowStockThreshold: l.lowStock, UpdatedAt: now}
		if _, err = tx.Stock().Seed(ctx, rec); err == nil {
			rec, err = tx.Stock().Lock(ctx, productID)
		}
	}
	if err != nil {
		return orders.StockRecord{}, err
	}
	if rec.Available+delta < 0 {
		return orders.StockRecord{}, &orders.StockError{ProductID: productID, Requested: -delta, Available: rec.Available}
	}

	prev := rec.Available
	rec.Available += delta
	rec.UpdatedAt = now
	if err := tx.Stock().Save(ctx, rec); err != nil {
		return orders.StockRecord{}, err
	}
	if err := tx.Stock().AppendLog(ctx, orders.LogEntry{
		ID: uuid.NewString(), ProductID: productID, Delta: delta, Kind: orders.LogAdjust, Reason: reason,
		PreviousQuantity: prev, NewQuantity: rec.Available, CreatedAt: now,
	}); err != nil {
		return orders.StockRecord{}, err
	}
	l.metrics.LedgerOp(string(orders.LogAdjust))
	l.watch(tx, rec, prev, reason)
	return rec, nil
}

// watch schedules a stock alert for after commit when available crossed the low-stock
// threshold downwards or left zero.
func (l *Ledger) watch(tx store.Tx, rec orders.StockRecord, prev int, reason string) {
	var topic, eventType string
	switch {
	case rec.LowOn(prev):
		topic, eventType = orders.TopicStockLow, orders.EventStockLow
	case rec.BackInStockOn(prev):
		topic, eventType = orders.TopicBackInStock, orders.EventBackInStock
	default:
		return
	}
	alert := orders.StockAlertPayload{
		ProductID:         rec.ProductID,
		Available:         rec.Available,
		PreviousQuantity:  prev,
		LowStockThreshold: rec.LowStockThreshold,
		Reason:            reason,
	}
	tx.OnCommit(func(ctx context.Context) {
		if eventType == orders.EventStockLow {
			logging.Warn(ctx, l.logger, "low stock",
				zap.String("product_id", alert.ProductID),
				zap.Int("available", alert.Available),
				zap.Int("threshold", alert.LowStockThreshold))
		}
		l.metrics.StockAlert(eventType)
		if l.notifier == nil {
			return
		}
		if err := l.notifier.Enqueue(ctx, topic, eventType, alert.ProductID, alert); err != nil {
			logging.Warn(ctx, l.logger, "stock alert not enqueued",
				zap.String("product_id", alert.ProductID), zap.String("event_type", eventType), zap.Error(err))
		}
	})
}

func (l *Ledger) violation(ctx context.Context, kind orders.LogKind, rec orders.StockRecord, qty int) error {
	l.metrics.InvariantViolation(string(kind))
	logging.Error(ctx, l.logger, "ledger invariant violated",
		zap.String("kind", string(kind)),
		zap.String("product_id", rec.ProductID),
		zap.Int("requested", qty),
		zap.Int("reserved", rec.Reserved),
	)
	return fmt.Errorf("%s %d of product %s with %d reserved: %w", kind, qty, rec.ProductID, rec.Reserved, orders.ErrInvariantViolation)
}

func (l *Ledger) Stock(ctx context.Context, productID string) (orders.StockRecord, error) {
	var rec orders.StockRecord
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		rec, err = tx.Stock().Get(ctx, productID)
		return err
	})
	return rec, err
}

func (l *Ledger) History(ctx context.Context, productID string) ([]orders.LogEntry, error) {
	return l.Movements(ctx, productID, time.Time{}, time.Time{})
}

// Movements lists the log entries of productID created within [since, until]. A zero bound
// leaves that side open.
func (l *Ledger) Movements(ctx context.Context, productID string, since, until time.Time) ([]orders.LogEntry, error) {
	if !since.IsZero() && !until.IsZero() && until.Before(since) {
		return nil, fmt.Errorf("movements of %s: range ends before it starts: %w", productID, orders.ErrValidation)
	}
	var out []orders.LogEntry
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Stock().History(ctx, productID, since, until)
		return err
	})
	return out, err
}

// LowStock lists records at or below threshold, or at or below their own threshold when
// threshold is nil.
func (l *Ledger) LowStock(ctx context.Context, threshold *int) ([]orders.StockRecord, error) {
	if threshold != nil && *threshold < 0 {
		return nil, fmt.Errorf("low stock threshold %d: %w", *threshold, orders.ErrValidation)
	}
	var out []orders.StockRecord
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Stock().ListLow(ctx, threshold)
		return err
	})
	return out, err
}

func (l *Ledger) SetThreshold(ctx context.Context, productID string, threshold int) (orders.StockRecord, error) {
	if threshold < 0 {
		return orders.StockRecord{}, fmt.Errorf("low stock threshold %d: %w", threshold, orders.ErrValidation)
	}
	var rec orders.StockRecord
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Stock().SetThreshold(ctx, productID, threshold, l.now()); err != nil {
			return err
		}
		var err error
		rec, err = tx.Stock().Get(ctx, productID)
		return err
	})
	return rec, err
}
