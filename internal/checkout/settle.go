package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/storefront-settlement/internal/lifecycle"
	"github.com/ariefcatur/storefront-settlement/internal/logging"
	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/ariefcatur/storefront-settlement/internal/payment"
	"github.com/ariefcatur/storefront-settlement/internal/telemetry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// HandleWebhook applies an admitted, signature-checked provider event.
func (o *Orchestrator) HandleWebhook(ctx context.Context, provider string, ev payment.WebhookEvent) error {
	switch ev.Kind {
	case payment.EventCharge:
		_, err := o.Settle(ctx, provider, ev.Reference)
		if errors.Is(err, orders.ErrNotFound) {
			return nil
		}
		return err
	case payment.EventRefund:
		return o.refundConfirmed(ctx, ev.Reference, ev.Amount)
	default:
		logging.Info(ctx, o.logger, "webhook event ignored",
			zap.String("provider", provider), zap.String("event_type", ev.Type))
		return nil
	}
}

// refundConfirmed reconciles a refund the provider reports. amount is what that one refund
// returned; zero means the provider did not say.
func (o *Orchestrator) refundConfirmed(ctx context.Context, reference string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		logging.Warn(ctx, o.logger, "refund event without amount ignored", zap.String("reference", reference))
		return nil
	}
	_, err := o.machine.NoteProviderRefund(ctx, reference, amount)
	if errors.Is(err, orders.ErrNotFound) {
		logging.Warn(ctx, o.logger, "refund event for unknown reference", zap.String("reference", reference))
		return nil
	}
	if err != nil && !errors.Is(err, orders.ErrIllegalTransition) {
		return err
	}
	return nil
}

// Settle verifies the payment behind reference and moves its order to paid or failed.
// Repeated calls are no-ops once the payment left its open state.
func (o *Orchestrator) Settle(ctx context.Context, provider, reference string) (order orders.Order, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "checkout.Settle",
		trace.WithAttributes(attribute.String("payment.provider", provider), attribute.String("payment.reference", reference)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	p, order, err := o.machine.Payment(ctx, reference)
	if errors.Is(err, orders.ErrNotFound) {
		logging.Warn(ctx, o.logger, "settle for unknown reference",
			zap.String("provider", provider), zap.String("reference", reference))
		return orders.Order{}, fmt.Errorf("payment %s: %w", reference, err)
	}
	if err != nil {
		return orders.Order{}, err
	}
	if provider != "" && provider != p.Provider {
		logging.Warn(ctx, o.logger, "provider mismatch for reference",
			zap.String("provider", provider), zap.String("bound_provider", p.Provider), zap.String("reference", reference))
	}

	pending := order.Status == orders.StatusPending && order.PaymentStatus == orders.PaymentPending
	late := !pending && p.Status == orders.PaymentRecordFailed
	if !p.Status.Open() && !late {
		return order, nil
	}
	if !pending && !late {
		// payment record masih open tapi order sudah lewat
		late = true
	}

	gw, err := o.gateways.Get(p.Provider)
	if err != nil {
		return order, err
	}
	vr, err := gw.Verify(ctx, reference)
	if err != nil {
		return order, err
	}

	switch {
	case late:
		if vr.Success {
			o.refundLate(ctx, gw, p, order, vr)
		}
		return order, nil
	case vr.Success && vr.Amount.GreaterThanOrEqual(order.Total):
		paid, err := o.machine.MarkPaid(ctx, order.ID, reference, vr.ProviderTransactionID)
		if errors.Is(err, orders.ErrIllegalTransition) {
			return o.reread(ctx, order)
		}
		return paid, err
	case vr.Success:
		logging.Warn(ctx, o.logger, "underpayment",
			zap.String("order_id", order.ID), zap.String("paid", vr.Amount.StringFixed(2)), zap.String("total", order.Total.StringFixed(2)))
		failed, err := o.machine.MarkPaymentFailed(ctx, order.ID, "amount paid is less than order total")
		if errors.Is(err, orders.ErrIllegalTransition) {
			return o.reread(ctx, order)
		}
		if err != nil {
			return failed, err
		}
		p.Status = orders.PaymentRecordFailed
		o.refundLate(ctx, gw, p, failed, vr)
		return failed, nil
	case vr.Pending():
		return order, nil
	default:
		failed, err := o.machine.MarkPaymentFailed(ctx, order.ID, "payment "+vr.Status)
		if errors.Is(err, orders.ErrIllegalTransition) {
			return o.reread(ctx, order)
		}
		return failed, err
	}
}

func (o *Orchestrator) reread(ctx context.Context, order orders.Order) (orders.Order, error) {
	cur, err := o.machine.Get(ctx, order.ID)
	if err != nil {
		return order, nil
	}
	return cur, nil
}

// refundLate returns money that arrived for an order which can no longer be fulfilled. Only
// the caller that claims the payment calls the provider.
func (o *Orchestrator) refundLate(ctx context.Context, gw payment.Gateway, p orders.Payment, order orders.Order, vr payment.VerifyResult) {
	ctx = context.WithoutCancel(ctx)
	claim, err := o.machine.ClaimLateRefund(ctx, p.Reference, vr.Amount)
	if err != nil {
		logging.Info(ctx, o.logger, "late payment refund left to its claim holder",
			zap.String("order_id", order.ID), zap.String("reference", p.Reference), zap.Error(err))
		return
	}
	ref := vr.ProviderTransactionID
	if ref == "" {
		ref = p.Reference
	}
	res, err := gw.Refund(ctx, ref, claim.ProviderAmount())
	if err == nil && res.Success {
		if _, err := o.machine.CompleteRefund(ctx, claim); err != nil {
			logging.Warn(ctx, o.logger, "late refund not recorded",
				zap.String("order_id", order.ID), zap.String("reference", p.Reference), zap.Error(err))
		}
		return
	}
	logging.Error(ctx, o.logger, "late payment refund failed, queued for retry",
		zap.String("order_id", order.ID), zap.String("reference", p.Reference), zap.Error(err))
	o.requestRefund(ctx, claim, ref, "late payment")
}

func (o *Orchestrator) requestRefund(ctx context.Context, claim lifecycle.RefundClaim, providerRef, reason string) {
	if o.dispatcher == nil {
		return
	}
	payload := orders.RefundRequestedPayload{
		OrderID:           claim.Order.ID,
		Reference:         claim.Payment.Reference,
		Provider:          claim.Payment.Provider,
		ProviderReference: providerRef,
		Amount:            claim.Amount.StringFixed(2),
		Reason:            reason,
	}
	if err := o.dispatcher.Enqueue(ctx, orders.TopicRefundRequested, orders.EventRefundRequested, claim.Order.ID, payload); err != nil {
		logging.Error(ctx, o.logger, "refund request not enqueued",
			zap.String("order_id", claim.Order.ID), zap.Error(err))
	}
}

// ApplyAdmitted replays a webhook event that the API admitted and queued.
func (o *Orchestrator) ApplyAdmitted(ctx context.Context, p orders.WebhookAdmittedPayload) error {
	ev := payment.WebhookEvent{
		ID:        p.EventID,
		Type:      p.Type,
		Kind:      payment.EventKind(p.Kind),
		Reference: p.Reference,
	}
	if p.Amount != "" {
		amount, err := decimal.NewFromString(p.Amount)
		if err != nil {
			return fmt.Errorf("admitted webhook %s: amount %q: %w", p.EventID, p.Amount, orders.ErrValidation)
		}
		ev.Amount = amount
	}
	return o.HandleWebhook(ctx, p.Provider, ev)
}
