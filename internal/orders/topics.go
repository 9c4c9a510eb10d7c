package orders

const (
	TopicOrderConfirmed     = "order.confirmed"
	TopicOrderPaymentFailed = "order.payment_failed"
	TopicOrderCancelled     = "order.cancelled"
	TopicOrderRefunded      = "order.refunded"
	TopicNotificationEmail  = "notification.email"
	TopicRefundRequested    = "payment.refund.requested"
	TopicWebhookAdmitted    = "payment.webhook.admitted"
	TopicStockLow           = "inventory.stock_low"
	TopicBackInStock        = "inventory.back_in_stock"
)

// Partition key = order_id, supaya semua event 1 order maintain urutan.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
