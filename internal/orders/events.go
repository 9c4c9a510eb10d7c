package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderConfirmed     = "OrderConfirmed"
	EventOrderPaymentFailed = "OrderPaymentFailed"
	EventOrderCancelled     = "OrderCancelled"
	EventOrderRefunded      = "OrderRefunded"
	EventEmailRequested     = "EmailRequested"
	EventRefundRequested    = "RefundRequested"
	EventWebhookAdmitted    = "WebhookAdmitted"
	EventStockLow           = "StockLow"
	EventBackInStock        = "BackInStock"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "settlement-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // biasanya order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload tipe per event ----

type OrderEventPayload struct {
	OrderID       string `json:"order_id"`
	UserID        string `json:"user_id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	Total         string `json:"total"`
	Reason        string `json:"reason,omitempty"`
}

type EmailPayload struct {
	Template string            `json:"template"` // order_confirmation | payment_failed | order_cancelled | refund_processed
	To       string            `json:"to,omitempty"`
	UserID   string            `json:"user_id"`
	OrderID  string            `json:"order_id"`
	Data     map[string]string `json:"data,omitempty"`
}

type RefundRequestedPayload struct {
	OrderID           string `json:"order_id"`
	Reference         string `json:"reference,omitempty"`
	Provider          string `json:"provider"`
	ProviderReference string `json:"provider_reference"`
	Amount            string `json:"amount,omitempty"`
	Reason            string `json:"reason"`
}

// WebhookAdmittedPayload is a verified, deduplicated provider event handed to the worker.
type WebhookAdmittedPayload struct {
	Provider  string `json:"provider"`
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	Kind      string `json:"kind"`
	Reference string `json:"reference"`
	Amount    string `json:"amount,omitempty"`
}

// StockAlertPayload reports a product crossing the low-stock threshold or coming back in stock.
type StockAlertPayload struct {
	ProductID         string `json:"product_id"`
	Available         int    `json:"available"`
	PreviousQuantity  int    `json:"previous_quantity"`
	LowStockThreshold int    `json:"low_stock_threshold"`
	Reason            string `json:"reason,omitempty"`
}
