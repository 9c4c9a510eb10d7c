// Package store defines the persistence boundary of the settlement core. Every mutation runs
// inside InTx so that an order transition and its ledger effect commit or roll back together.
package store

import (
	"context"
	"time"

	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/shopspring/decimal"
)

type Store interface {
	// InTx runs fn in one transaction. A non-nil error from fn rolls everything back.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Tx interface {
	Stock() StockRepo
	Holds() HoldRepo
	Orders() OrderRepo
	Payments() PaymentRepo
	// OnCommit registers fn to run after the transaction committed. Rolled back
	// transactions drop their hooks.
	OnCommit(fn func(ctx context.Context))
}

type StockRepo interface {
	// Lock returns the record and keeps it locked until the transaction ends.
	Lock(ctx context.Context, productID string) (orders.StockRecord, error)
	Get(ctx context.Context, productID string) (orders.StockRecord, error)
	// Seed inserts the record unless one exists. Reports whether it inserted.
	Seed(ctx context.Context, rec orders.StockRecord) (bool, error)
	Save(ctx context.Context, rec orders.StockRecord) error
	SetThreshold(ctx context.Context, productID string, threshold int, at time.Time) error
	AppendLog(ctx context.Context, e orders.LogEntry) error
	// History lists log entries oldest first. Zero since or until leave that side open.
	History(ctx context.Context, productID string, since, until time.Time) ([]orders.LogEntry, error)
	// ListLow returns records at or below threshold, or below their own threshold when
	// threshold is nil.
	ListLow(ctx context.Context, threshold *int) ([]orders.StockRecord, error)
}

type HoldRepo interface {
	Insert(ctx context.Context, r orders.Reservation) error
	ListByHold(ctx context.Context, holdID string, status orders.HoldStatus) ([]orders.Reservation, error)
	// Resolve moves a hold out of RESERVED. False means someone else resolved it first.
	Resolve(ctx context.Context, id string, to orders.HoldStatus, at time.Time) (bool, error)
	// ListExpired pages through RESERVED holds created before cutoff, ordered by
	// (created_at, id) and starting strictly after the cursor.
	ListExpired(ctx context.Context, before time.Time, after HoldCursor, limit int) ([]orders.Reservation, error)
}

// HoldCursor is a keyset position in the expired-hold scan. The zero value starts at the oldest.
type HoldCursor struct {
	CreatedAt time.Time
	ID        string
}

func CursorOf(r orders.Reservation) HoldCursor {
	return HoldCursor{CreatedAt: r.CreatedAt, ID: r.ID}
}

func (c HoldCursor) Before(r orders.Reservation) bool {
	if c.ID == "" {
		return true
	}
	if !r.CreatedAt.Equal(c.CreatedAt) {
		return r.CreatedAt.After(c.CreatedAt)
	}
	return r.ID > c.ID
}

// OrderState is one point on the two status axes.
type OrderState struct {
	Status        orders.Status
	PaymentStatus orders.PaymentStatus
}

func StateOf(o orders.Order) OrderState {
	return OrderState{Status: o.Status, PaymentStatus: o.PaymentStatus}
}

type OrderRepo interface {
	Insert(ctx context.Context, o orders.Order) error
	Get(ctx context.Context, id string) (orders.Order, error)
	GetByReference(ctx context.Context, reference string) (orders.Order, error)
	// Transition is a compare-and-set on both axes. False means the order was not in from.
	Transition(ctx context.Context, id string, from, to OrderState, reason string, at time.Time) (bool, error)
	SetPaymentReference(ctx context.Context, id, reference string, at time.Time) error
}

type PaymentRepo interface {
	// Insert fails with ErrOpenPayment when the order already has a non-terminal payment.
	Insert(ctx context.Context, p orders.Payment) error
	GetByReference(ctx context.Context, reference string) (orders.Payment, error)
	LatestForOrder(ctx context.Context, orderID string) (orders.Payment, error)
	// Initialize records the provider side of a PENDING payment.
	Initialize(ctx context.Context, id, providerRef, redirectURL string, at time.Time) (bool, error)
	Transition(ctx context.Context, id string, from []orders.PaymentRecordStatus, to orders.PaymentRecordStatus, at time.Time) (bool, error)
	// SetProviderReference stores the provider transaction id learned at verification.
	SetProviderReference(ctx context.Context, id, providerRef string, at time.Time) error
	// SettleRefund is Transition that also stores the refunded total.
	SettleRefund(ctx context.Context, id string, from []orders.PaymentRecordStatus, to orders.PaymentRecordStatus, refunded decimal.Decimal, at time.Time) (bool, error)
}
