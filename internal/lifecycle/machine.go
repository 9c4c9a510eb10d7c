// Package lifecycle moves orders along the status and payment axes. Every transition is a
// compare-and-set committed in the same transaction as its inventory effect.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/storefront-settlement/internal/inventory"
	"github.com/ariefcatur/storefront-settlement/internal/logging"
	"github.com/ariefcatur/storefront-settlement/internal/metrics"
	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/ariefcatur/storefront-settlement/internal/store"
	"github.com/ariefcatur/storefront-settlement/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Dispatcher hands work to the background queue. Implementations must not block on delivery.
type Dispatcher interface {
	Enqueue(ctx context.Context, topic, eventType, key string, payload any) error
}

type Machine struct {
	store      store.Store
	ledger     *inventory.Ledger
	dispatcher Dispatcher
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewMachine(st store.Store, ledger *inventory.Ledger, d Dispatcher, logger *zap.Logger, m *metrics.Metrics) *Machine {
	return &Machine{store: st, ledger: ledger, dispatcher: d, logger: logger, metrics: m, now: time.Now}
}

func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

var (
	statePending = store.OrderState{Status: orders.StatusPending, PaymentStatus: orders.PaymentPending}
	openPayment  = []orders.PaymentRecordStatus{orders.PaymentRecordPending, orders.PaymentRecordInitialized}
	paidPayment  = []orders.PaymentRecordStatus{orders.PaymentRecordSuccessful}
	// a late payment may still be open when its order was abandoned
	latePayment = append([]orders.PaymentRecordStatus{orders.PaymentRecordFailed}, openPayment...)
	claimed     = []orders.PaymentRecordStatus{orders.PaymentRecordRefundPending}
)

// Create inserts a new PENDING order. Its stock must already be held under the order id.
func (m *Machine) Create(ctx context.Context, o orders.Order) (orders.Order, error) {
	now := m.now()
	o.Status = orders.StatusPending
	o.PaymentStatus = orders.PaymentPending
	o.Total = orders.TotalOf(o.LineItems)
	o.CreatedAt, o.UpdatedAt = now, now

	err := m.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Orders().Insert(ctx, o)
	})
	if err != nil {
		return orders.Order{}, err
	}
	return o, nil
}

// BindPayment stores the payment record and the reference -> order mapping before any provider call.
func (m *Machine) BindPayment(ctx context.Context, p orders.Payment) error {
	return m.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.Orders().Get(ctx, p.OrderID)
		if err != nil {
			return err
		}
		if store.StateOf(o) != statePending {
			return &orders.TransitionError{OrderID: o.ID, From: stateName(store.StateOf(o)), To: "payment bound"}
		}
		now := m.now()
		p.Status = orders.PaymentRecordPending
		p.CreatedAt, p.UpdatedAt = now, now
		if err := tx.Payments().Insert(ctx, p); err != nil {
			return err
		}
		return tx.Orders().SetPaymentReference(ctx, o.ID, p.Reference, now)
	})
}

func (m *Machine) MarkPaymentInitialized(ctx context.Context, paymentID, providerRef, redirectURL string) error {
	return m.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ok, err := tx.Payments().Initialize(ctx, paymentID, providerRef, redirectURL, m.now())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("payment %s no longer pending: %w", paymentID, orders.ErrIllegalTransition)
		}
		return nil
	})
}

// MarkPaid settles a PENDING order exactly once and commits its held stock.
func (m *Machine) MarkPaid(ctx context.Context, orderID, reference, providerTxID string) (orders.Order, error) {
	o, err := m.apply(ctx, "MarkPaid", orderID, func(ctx context.Context, tx store.Tx, o orders.Order) (orders.Order, error) {
		o, err := m.cas(ctx, tx, o, store.OrderState{Status: orders.StatusProcessing, PaymentStatus: orders.PaymentSuccessful}, "")
		if err != nil {
			return o, err
		}
		if err := m.ledger.CommitHold(ctx, tx, o.ID); err != nil {
			return o, err
		}
		p, err := m.paymentOf(ctx, tx, o.ID, reference)
		if err != nil {
			return o, err
		}
		if p != nil {
			if _, err := tx.Payments().Transition(ctx, p.ID, openPayment, orders.PaymentRecordSuccessful, m.now()); err != nil {
				return o, err
			}
			if providerTxID != "" {
				if err := tx.Payments().SetProviderReference(ctx, p.ID, providerTxID, m.now()); err != nil {
					return o, err
				}
			}
		}
		return o, nil
	})
	if err != nil {
		return o, err
	}
	m.publish(ctx, o, orders.TopicOrderConfirmed, orders.EventOrderConfirmed, "order_confirmation", "")
	return o, nil
}

// MarkPaymentFailed fails a PENDING order and returns its held stock.
func (m *Machine) MarkPaymentFailed(ctx context.Context, orderID, reason string) (orders.Order, error) {
	o, err := m.apply(ctx, "MarkPaymentFailed", orderID, func(ctx context.Context, tx store.Tx, o orders.Order) (orders.Order, error) {
		return m.abandon(ctx, tx, o, orders.StatusFailed, reason, inventory.ReasonPaymentFailed)
	})
	if err != nil {
		return o, err
	}
	m.publish(ctx, o, orders.TopicOrderPaymentFailed, orders.EventOrderPaymentFailed, "payment_failed", reason)
	return o, nil
}

// Cancel cancels an unpaid order and returns its held stock.
func (m *Machine) Cancel(ctx context.Context, orderID, reason string) (orders.Order, error) {
	o, err := m.apply(ctx, "Cancel", orderID, func(ctx context.Context, tx store.Tx, o orders.Order) (orders.Order, error) {
		return m.abandon(ctx, tx, o, orders.StatusCancelled, reason, inventory.ReasonOrderCancellation)
	})
	if err != nil {
		return o, err
	}
	m.publish(ctx, o, orders.TopicOrderCancelled, orders.EventOrderCancelled, "order_cancelled", reason)
	return o, nil
}

func (m *Machine) abandon(ctx context.Context, tx store.Tx, o orders.Order, to orders.Status, reason, ledgerReason string) (orders.Order, error) {
	if store.StateOf(o) != statePending {
		return o, &orders.TransitionError{OrderID: o.ID, From: stateName(store.StateOf(o)), To: string(to)}
	}
	o, err := m.cas(ctx, tx, o, store.OrderState{Status: to, PaymentStatus: orders.PaymentFailed}, reason)
	if err != nil {
		return o, err
	}
	if err := m.ledger.ReleaseHold(ctx, tx, o.ID, ledgerReason); err != nil {
		return o, err
	}
	return o, m.closeOpenPayment(ctx, tx, o.ID)
}

// CancelPaid cancels an order whose payment already succeeded. refunded reports whether the
// provider refund went through; otherwise the payment keeps whatever claim the caller holds
// until CompleteRefund. Stock goes back to available unless the order already shipped.
func (m *Machine) CancelPaid(ctx context.Context, orderID string, refunded bool, reason string) (orders.Order, error) {
	var restock bool
	o, err := m.apply(ctx, "CancelPaid", orderID, func(ctx context.Context, tx store.Tx, o orders.Order) (orders.Order, error) {
		if o.PaymentStatus != orders.PaymentSuccessful {
			return o, &orders.TransitionError{OrderID: o.ID, From: stateName(store.StateOf(o)), To: string(orders.StatusCancelled)}
		}
		to := store.OrderState{Status: orders.StatusCancelled, PaymentStatus: orders.PaymentSuccessful}
		if refunded {
			to.PaymentStatus = orders.PaymentRefunded
		}
		shipped := o.Status == orders.StatusShipped
		o, err := m.cas(ctx, tx, o, to, reason)
		if err != nil {
			return o, err
		}
		if !shipped {
			restock = true
			for _, li := range o.LineItems {
				if _, err := m.ledger.AdjustTx(ctx, tx, li.ProductID, li.Quantity, inventory.ReasonOrderCancellation); err != nil {
					return o, err
				}
			}
		}
		if refunded {
			return o, m.refundPayment(ctx, tx, o.ID)
		}
		return o, nil
	})
	if err != nil {
		return o, err
	}
	logging.Info(ctx, m.logger, "paid order cancelled",
		zap.String("order_id", o.ID), zap.Bool("refunded", refunded), zap.Bool("restocked", restock))
	m.publish(ctx, o, orders.TopicOrderCancelled, orders.EventOrderCancelled, "order_cancelled", reason)
	return o, nil
}

// Advance moves a paid order forward through fulfillment.
func (m *Machine) Advance(ctx context.Context, orderID string, to orders.Status) (orders.Order, error) {
	return m.apply(ctx, "Advance", orderID, func(ctx context.Context, tx store.Tx, o orders.Order) (orders.Order, error) {
		switch {
		case to == orders.StatusCancelled || to == orders.StatusFailed || to == orders.StatusPending || to == orders.StatusProcessing:
			return o, &orders.TransitionError{OrderID: o.ID, From: string(o.Status), To: string(to)}
		case o.PaymentStatus != orders.PaymentSuccessful:
			return o, &orders.TransitionError{OrderID: o.ID, From: stateName(store.StateOf(o)), To: string(to)}
		}
		return m.cas(ctx, tx, o, store.OrderState{Status: to, PaymentStatus: o.PaymentStatus}, "")
	})
}

// ResolveExpiredHold settles a reservation that outlived the checkout timeout.
func (m *Machine) ResolveExpiredHold(ctx context.Context, holdID string) error {
	var cancelled *orders.Order
	_, err := m.apply(ctx, "ResolveExpiredHold", "", func(ctx context.Context, tx store.Tx, _ orders.Order) (orders.Order, error) {
		o, err := tx.Orders().Get(ctx, holdID)
		switch {
		case errors.Is(err, orders.ErrNotFound):
			// hold tanpa order: checkout gagal di tengah jalan
			return orders.Order{}, m.ledger.ReleaseHold(ctx, tx, holdID, inventory.ReasonReservationExpired)
		case err != nil:
			return orders.Order{}, err
		case store.StateOf(o) == statePending:
			o, err = m.abandon(ctx, tx, o, orders.StatusCancelled, inventory.ReasonReservationExpired, inventory.ReasonReservationExpired)
			if err == nil {
				cancelled = &o
			}
			return o, err
		case o.PaymentStatus == orders.PaymentSuccessful || o.PaymentStatus == orders.PaymentRefunded:
			return orders.Order{}, m.ledger.CommitHold(ctx, tx, holdID)
		default:
			return orders.Order{}, m.ledger.ReleaseHold(ctx, tx, holdID, inventory.ReasonReservationExpired)
		}
	})
	if err != nil {
		return err
	}
	if cancelled != nil {
		logging.Info(ctx, m.logger, "order cancelled after reservation timeout", zap.String("order_id", cancelled.ID))
		m.publish(ctx, *cancelled, orders.TopicOrderCancelled, orders.EventOrderCancelled, "order_cancelled", inventory.ReasonReservationExpired)
	}
	return nil
}

func (m *Machine) Get(ctx context.Context, orderID string) (orders.Order, error) {
	var o orders.Order
	err := m.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		o, err = tx.Orders().Get(ctx, orderID)
		return err
	})
	return o, err
}

// Payment returns the payment behind reference together with its order.
func (m *Machine) Payment(ctx context.Context, reference string) (orders.Payment, orders.Order, error) {
	var (
		p orders.Payment
		o orders.Order
	)
	err := m.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if p, err = tx.Payments().GetByReference(ctx, reference); err != nil {
			return err
		}
		o, err = tx.Orders().Get(ctx, p.OrderID)
		return err
	})
	return p, o, err
}

// LatestPayment returns the most recent payment attempt of an order.
func (m *Machine) LatestPayment(ctx context.Context, orderID string) (orders.Payment, error) {
	var p orders.Payment
	err := m.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = tx.Payments().LatestForOrder(ctx, orderID)
		return err
	})
	return p, err
}

// apply loads the order (when orderID is set) and runs fn in one transaction.
func (m *Machine) apply(ctx context.Context, op, orderID string, fn func(ctx context.Context, tx store.Tx, o orders.Order) (orders.Order, error)) (orders.Order, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "lifecycle."+op, trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	var out orders.Order
	err := m.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var (
			o   orders.Order
			err error
		)
		if orderID != "" {
			if o, err = tx.Orders().Get(ctx, orderID); err != nil {
				return err
			}
		}
		out, err = fn(ctx, tx, o)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return orders.Order{}, err
	}
	if out.ID != "" {
		m.metrics.Transition(string(out.Status), string(out.PaymentStatus))
	}
	return out, nil
}

// cas validates the edge on both axes and applies it conditionally.
func (m *Machine) cas(ctx context.Context, tx store.Tx, o orders.Order, to store.OrderState, reason string) (orders.Order, error) {
	from := store.StateOf(o)
	illegal := &orders.TransitionError{OrderID: o.ID, From: stateName(from), To: stateName(to)}
	if from == to {
		return o, illegal
	}
	if to.Status != from.Status && !orders.CanTransition(from.Status, to.Status) {
		return o, illegal
	}
	if to.PaymentStatus != from.PaymentStatus && !orders.CanTransitionPayment(from.PaymentStatus, to.PaymentStatus) {
		return o, illegal
	}

	now := m.now()
	ok, err := tx.Orders().Transition(ctx, o.ID, from, to, reason, now)
	if err != nil {
		return o, err
	}
	if !ok {
		return o, illegal
	}
	o.Status, o.PaymentStatus, o.UpdatedAt = to.Status, to.PaymentStatus, now
	if reason != "" {
		o.StatusReason = reason
	}
	return o, nil
}

func (m *Machine) paymentOf(ctx context.Context, tx store.Tx, orderID, reference string) (*orders.Payment, error) {
	var (
		p   orders.Payment
		err error
	)
	if reference != "" {
		p, err = tx.Payments().GetByReference(ctx, reference)
	} else {
		p, err = tx.Payments().LatestForOrder(ctx, orderID)
	}
	if errors.Is(err, orders.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.OrderID != orderID {
		return nil, fmt.Errorf("payment %s belongs to order %s, not %s: %w", p.Reference, p.OrderID, orderID, orders.ErrValidation)
	}
	return &p, nil
}

func (m *Machine) closeOpenPayment(ctx context.Context, tx store.Tx, orderID string) error {
	p, err := m.paymentOf(ctx, tx, orderID, "")
	if err != nil || p == nil {
		return err
	}
	_, err = tx.Payments().Transition(ctx, p.ID, openPayment, orders.PaymentRecordFailed, m.now())
	return err
}

func (m *Machine) refundPayment(ctx context.Context, tx store.Tx, orderID string) error {
	p, err := m.paymentOf(ctx, tx, orderID, "")
	if err != nil || p == nil {
		return err
	}
	from := append(append([]orders.PaymentRecordStatus{}, paidPayment...), claimed...)
	_, err = tx.Payments().SettleRefund(ctx, p.ID, from, orders.PaymentRecordRefunded, p.Amount, m.now())
	return err
}

func stateName(s store.OrderState) string {
	return string(s.Status) + "/" + string(s.PaymentStatus)
}
