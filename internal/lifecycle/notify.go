package lifecycle

import (
	"context"

	"github.com/ariefcatur/storefront-settlement/internal/logging"
	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"go.uber.org/zap"
)

// publish emits the order event and the customer email work item. Delivery problems are
// logged and never undo a committed transition.
func (m *Machine) publish(ctx context.Context, o orders.Order, topic, eventType, template, reason string) {
	if m.dispatcher == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	event := orders.OrderEventPayload{
		OrderID:       o.ID,
		UserID:        o.UserID,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		Total:         o.Total.StringFixed(2),
		Reason:        reason,
	}
	if err := m.dispatcher.Enqueue(ctx, topic, eventType, o.ID, event); err != nil {
		logging.Warn(ctx, m.logger, "order event not enqueued",
			zap.String("order_id", o.ID), zap.String("event_type", eventType), zap.Error(err))
	}

	email := orders.EmailPayload{
		Template: template,
		To:       recipient(o),
		UserID:   o.UserID,
		OrderID:  o.ID,
		Data:     map[string]string{"total": event.Total, "status": event.Status},
	}
	if reason != "" {
		email.Data["reason"] = reason
	}
	if err := m.dispatcher.Enqueue(ctx, orders.TopicNotificationEmail, orders.EventEmailRequested, o.ID, email); err != nil {
		logging.Warn(ctx, m.logger, "email not enqueued",
			zap.String("order_id", o.ID), zap.String("template", template), zap.Error(err))
	}
}

func recipient(o orders.Order) string {
	if o.BillingInfo.Email != "" {
		return o.BillingInfo.Email
	}
	return o.ShippingInfo.Email
}
