package checkout

import (
	"context"
	"fmt"

	"github.com/ariefcatur/storefront-settlement/internal/logging"
	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/ariefcatur/storefront-settlement/internal/payment"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Cancel cancels an order. Unpaid orders release their holds. A paid order's payment is
// claimed for refund before the provider is called, so concurrent cancels refund once; a
// failed refund keeps the claim and is queued for retry.
func (o *Orchestrator) Cancel(ctx context.Context, orderID, reason string) (orders.Order, error) {
	order, err := o.machine.Get(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	if reason == "" {
		reason = "cancelled by customer"
	}

	switch {
	case order.Status == orders.StatusPending && order.PaymentStatus == orders.PaymentPending:
		return o.machine.Cancel(ctx, orderID, reason)
	case order.PaymentStatus != orders.PaymentSuccessful || order.Status.Terminal():
		return order, &orders.TransitionError{OrderID: order.ID, From: string(order.Status), To: string(orders.StatusCancelled)}
	}

	if !order.PaymentMethod.Redirects() {
		logging.Warn(ctx, o.logger, "manual payment cancelled, refund must be settled offline", zap.String("order_id", order.ID))
		return o.machine.CancelPaid(ctx, orderID, false, reason)
	}
	claim, err := o.machine.ClaimRefund(ctx, orderID, nil)
	if err != nil {
		return order, err
	}
	gw, ref, err := o.refundVia(claim.Payment)
	if err != nil {
		_ = o.machine.AbortRefund(context.WithoutCancel(ctx), claim)
		return order, err
	}
	res, err := gw.Refund(ctx, ref, claim.ProviderAmount())
	refunded := err == nil && res.Success
	if !refunded {
		logging.Warn(ctx, o.logger, "refund on cancel failed, queued for retry",
			zap.String("order_id", order.ID), zap.String("reference", claim.Payment.Reference), zap.Error(err))
		o.requestRefund(context.WithoutCancel(ctx), claim, ref, reason)
	}
	return o.machine.CancelPaid(context.WithoutCancel(ctx), orderID, refunded, reason)
}

// Refund returns money for a settled payment. amount nil refunds whatever has not been
// refunded yet. The order moves to REFUNDED once the whole charge went back.
func (o *Orchestrator) Refund(ctx context.Context, orderID string, amount *decimal.Decimal) (orders.Order, error) {
	claim, err := o.machine.ClaimRefund(ctx, orderID, amount)
	if err != nil {
		return orders.Order{}, err
	}
	if !claim.Order.PaymentMethod.Redirects() {
		// transfer manual: dana dikembalikan di luar sistem
		return o.machine.CompleteRefund(ctx, claim)
	}

	gw, ref, err := o.refundVia(claim.Payment)
	if err == nil {
		var res payment.RefundResult
		if res, err = gw.Refund(ctx, ref, claim.ProviderAmount()); err == nil && !res.Success {
			err = fmt.Errorf("%w: provider declined refund for %s", orders.ErrRefundFailed, claim.Payment.Reference)
		}
	}
	if err != nil {
		if aerr := o.machine.AbortRefund(context.WithoutCancel(ctx), claim); aerr != nil {
			logging.Error(ctx, o.logger, "refund claim not released",
				zap.String("order_id", orderID), zap.Error(aerr))
		}
		return claim.Order, err
	}
	return o.machine.CompleteRefund(context.WithoutCancel(ctx), claim)
}

// ConfirmManualPayment settles an order paid outside the hosted checkout.
func (o *Orchestrator) ConfirmManualPayment(ctx context.Context, orderID string) (orders.Order, error) {
	order, err := o.machine.Get(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	if order.PaymentMethod.Redirects() {
		return order, fmt.Errorf("%w: order %s is paid through %s checkout", orders.ErrValidation, order.ID, order.PaymentMethod)
	}
	return o.machine.MarkPaid(ctx, orderID, "", "")
}

// RetryRefund replays a queued refund. The claim taken when it was queued is still held, so
// the retry is the only caller that may reach the provider. An error leaves the work item for
// redelivery.
func (o *Orchestrator) RetryRefund(ctx context.Context, req orders.RefundRequestedPayload) error {
	var amount *decimal.Decimal
	if req.Amount != "" {
		a, err := decimal.NewFromString(req.Amount)
		if err != nil {
			return fmt.Errorf("refund request for order %s: amount %q: %w", req.OrderID, req.Amount, orders.ErrValidation)
		}
		amount = &a
	}
	claim, ok, err := o.machine.PendingRefund(ctx, req.OrderID, req.Reference, amount)
	if err != nil {
		return err
	}
	if !ok {
		logging.Info(ctx, o.logger, "queued refund already settled", zap.String("order_id", req.OrderID))
		return nil
	}

	gw, err := o.gateways.Get(req.Provider)
	if err != nil {
		return err
	}
	ref := req.ProviderReference
	if ref == "" {
		ref = claim.Payment.Reference
	}
	res, err := gw.Refund(ctx, ref, claim.ProviderAmount())
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%w: order %s", orders.ErrRefundFailed, req.OrderID)
	}
	_, err = o.machine.CompleteRefund(context.WithoutCancel(ctx), claim)
	return err
}

// refundVia resolves the gateway and the provider-side reference of a payment.
func (o *Orchestrator) refundVia(p orders.Payment) (payment.Gateway, string, error) {
	gw, err := o.gateways.Get(p.Provider)
	if err != nil {
		return nil, "", err
	}
	ref := p.Reference
	if p.ProviderReference != nil && *p.ProviderReference != "" {
		ref = *p.ProviderReference
	}
	return gw, ref, nil
}
