package lifecycle

import (
	"context"
	"fmt"

	"github.com/ariefcatur/storefront-settlement/internal/logging"
	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/ariefcatur/storefront-settlement/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RefundClaim is the exclusive right to send money back for one payment. It is taken by
// moving the payment to REFUND_PENDING and ends with CompleteRefund or AbortRefund. Only the
// holder may call the provider.
type RefundClaim struct {
	Payment orders.Payment
	Order   orders.Order
	Amount  decimal.Decimal
	// Late marks a payment that arrived after its order was abandoned.
	Late bool
}

// ProviderAmount is the amount to pass to the provider. nil asks for the whole charge.
func (c RefundClaim) ProviderAmount() *decimal.Decimal {
	if c.Late || (c.Payment.RefundedAmount.IsZero() && c.Amount.Equal(c.Payment.Amount)) {
		return nil
	}
	amount := c.Amount
	return &amount
}

// ClaimRefund claims the settled payment of a paid order. amount nil claims whatever has not
// been refunded yet. A refund already in flight yields ErrRefundInProgress.
func (m *Machine) ClaimRefund(ctx context.Context, orderID string, amount *decimal.Decimal) (RefundClaim, error) {
	var c RefundClaim
	err := m.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		if o.PaymentStatus != orders.PaymentSuccessful {
			return &orders.TransitionError{OrderID: o.ID, From: stateName(store.StateOf(o)), To: string(orders.PaymentRefunded)}
		}
		p, err := m.paymentOf(ctx, tx, o.ID, "")
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("payment of order %s: %w", o.ID, orders.ErrNotFound)
		}
		if p.Status == orders.PaymentRecordRefundPending {
			return fmt.Errorf("order %s: %w", o.ID, orders.ErrRefundInProgress)
		}

		remaining := p.Amount.Sub(p.RefundedAmount)
		claim := remaining
		if amount != nil {
			claim = *amount
		}
		if !claim.IsPositive() || claim.GreaterThan(remaining) {
			return fmt.Errorf("%w: refund amount must be within (0, %s]", orders.ErrValidation, remaining.StringFixed(2))
		}

		ok, err := tx.Payments().Transition(ctx, p.ID, paidPayment, orders.PaymentRecordRefundPending, m.now())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("order %s: %w", o.ID, orders.ErrRefundInProgress)
		}
		p.Status = orders.PaymentRecordRefundPending
		c = RefundClaim{Payment: *p, Order: o, Amount: claim}
		return nil
	})
	return c, err
}

// ClaimLateRefund claims a payment whose order was already abandoned when the money arrived.
func (m *Machine) ClaimLateRefund(ctx context.Context, reference string, amount decimal.Decimal) (RefundClaim, error) {
	var c RefundClaim
	err := m.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.Payments().GetByReference(ctx, reference)
		if err != nil {
			return err
		}
		o, err := tx.Orders().Get(ctx, p.OrderID)
		if err != nil {
			return err
		}
		if store.StateOf(o) == statePending {
			return &orders.TransitionError{OrderID: o.ID, From: stateName(store.StateOf(o)), To: "late refund"}
		}
		ok, err := tx.Payments().Transition(ctx, p.ID, latePayment, orders.PaymentRecordRefundPending, m.now())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("payment %s is %s: %w", reference, p.Status, orders.ErrRefundInProgress)
		}
		p.Status = orders.PaymentRecordRefundPending
		c = RefundClaim{Payment: p, Order: o, Amount: amount, Late: true}
		return nil
	})
	return c, err
}

// PendingRefund rebuilds the claim left behind by a refund that failed at the provider.
// ok=false means nothing is pending any more.
func (m *Machine) PendingRefund(ctx context.Context, orderID, reference string, amount *decimal.Decimal) (c RefundClaim, ok bool, err error) {
	err = m.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		p, err := m.paymentOf(ctx, tx, o.ID, reference)
		if err != nil || p == nil {
			return err
		}
		if p.Status != orders.PaymentRecordRefundPending {
			return nil
		}
		c = RefundClaim{Payment: *p, Order: o, Late: o.PaymentStatus != orders.PaymentSuccessful}
		switch {
		case amount != nil:
			c.Amount = *amount
		case c.Late:
			c.Amount = p.Amount
		default:
			c.Amount = p.Amount.Sub(p.RefundedAmount)
		}
		ok = true
		return nil
	})
	return c, ok, err
}

// CompleteRefund records the refund the claim holder got from the provider. The order moves
// to REFUNDED once the whole charge went back; a partial refund leaves it paid.
func (m *Machine) CompleteRefund(ctx context.Context, c RefundClaim) (orders.Order, error) {
	var full bool
	o, err := m.apply(ctx, "CompleteRefund", c.Order.ID, func(ctx context.Context, tx store.Tx, o orders.Order) (orders.Order, error) {
		p, err := tx.Payments().GetByReference(ctx, c.Payment.Reference)
		if err != nil {
			return o, err
		}
		refunded := p.RefundedAmount.Add(c.Amount)
		to := orders.PaymentRecordSuccessful
		full = !c.Late && refunded.GreaterThanOrEqual(p.Amount)
		if c.Late || full {
			to = orders.PaymentRecordRefunded
		}
		ok, err := tx.Payments().SettleRefund(ctx, p.ID, claimed, to, refunded, m.now())
		if err != nil {
			return o, err
		}
		if !ok {
			return o, fmt.Errorf("payment %s is %s, not %s: %w", p.Reference, p.Status, orders.PaymentRecordRefundPending, orders.ErrIllegalTransition)
		}
		if !full || o.PaymentStatus != orders.PaymentSuccessful {
			return o, nil
		}
		return m.cas(ctx, tx, o, store.OrderState{Status: o.Status, PaymentStatus: orders.PaymentRefunded}, "")
	})
	if err != nil {
		return o, err
	}
	switch {
	case c.Late:
		logging.Info(ctx, m.logger, "late payment refunded",
			zap.String("order_id", o.ID), zap.String("reference", c.Payment.Reference), zap.String("status", string(o.Status)))
	case full:
		m.publish(ctx, o, orders.TopicOrderRefunded, orders.EventOrderRefunded, "refund_processed", "")
	default:
		logging.Info(ctx, m.logger, "partial refund issued",
			zap.String("order_id", o.ID), zap.String("amount", c.Amount.StringFixed(2)))
	}
	return o, nil
}

// AbortRefund gives the claim back after the provider refused the refund.
func (m *Machine) AbortRefund(ctx context.Context, c RefundClaim) error {
	back := orders.PaymentRecordSuccessful
	if c.Late {
		back = orders.PaymentRecordFailed
	}
	return m.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Payments().Transition(ctx, c.Payment.ID, claimed, back, m.now())
		return err
	})
}

// NoteProviderRefund reconciles a refund reported by the provider. amount is what that refund
// returned. Refunds this service issued are already counted, so the running total only ever
// rises to the largest single refund seen.
func (m *Machine) NoteProviderRefund(ctx context.Context, reference string, amount decimal.Decimal) (orders.Order, error) {
	var full bool
	o, err := m.apply(ctx, "NoteProviderRefund", "", func(ctx context.Context, tx store.Tx, _ orders.Order) (orders.Order, error) {
		p, err := tx.Payments().GetByReference(ctx, reference)
		if err != nil {
			return orders.Order{}, err
		}
		o, err := tx.Orders().Get(ctx, p.OrderID)
		if err != nil {
			return orders.Order{}, err
		}
		// claim holder yang mencatat refund-nya sendiri
		if p.Status != orders.PaymentRecordSuccessful || !amount.IsPositive() {
			return o, nil
		}
		refunded := decimal.Max(p.RefundedAmount, amount)
		if refunded.Equal(p.RefundedAmount) {
			return o, nil
		}
		to := orders.PaymentRecordSuccessful
		full = refunded.GreaterThanOrEqual(p.Amount)
		if full {
			to = orders.PaymentRecordRefunded
		}
		if _, err := tx.Payments().SettleRefund(ctx, p.ID, paidPayment, to, refunded, m.now()); err != nil {
			return o, err
		}
		if !full || o.PaymentStatus != orders.PaymentSuccessful {
			full = false
			return o, nil
		}
		return m.cas(ctx, tx, o, store.OrderState{Status: o.Status, PaymentStatus: orders.PaymentRefunded}, "")
	})
	if err != nil {
		return o, err
	}
	if full {
		m.publish(ctx, o, orders.TopicOrderRefunded, orders.EventOrderRefunded, "refund_processed", "")
	}
	return o, nil
}
