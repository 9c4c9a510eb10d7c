package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	MethodCard         PaymentMethod = "card"
	MethodPaystack     PaymentMethod = "paystack"
	MethodFlutterwave  PaymentMethod = "flutterwave"
	MethodBankTransfer PaymentMethod = "bank_transfer"
)

// Redirect methods need a provider checkout page; the rest are settled out of band.
func (m PaymentMethod) Redirects() bool {
	return m == MethodCard || m == MethodPaystack || m == MethodFlutterwave
}

// Product is what the catalog reports; price is authoritative, stock is only a seed baseline.
type Product struct {
	ID           string
	Name         string
	Price        decimal.Decimal
	CurrentStock int
}

type StockRecord struct {
	ProductID         string
	Available         int
	Reserved          int
	LowStockThreshold int
	UpdatedAt         time.Time
}

// LowOn reports whether a change from prev to the current available quantity crossed the
// low-stock threshold downwards.
func (r StockRecord) LowOn(prev int) bool {
	return r.Available <= r.LowStockThreshold && prev > r.LowStockThreshold
}

// BackInStockOn reports whether a change from prev made a sold-out product available again.
func (r StockRecord) BackInStockOn(prev int) bool {
	return prev == 0 && r.Available > 0
}

type LogKind string

const (
	LogReserve LogKind = "RESERVE"
	LogRelease LogKind = "RELEASE"
	LogCommit  LogKind = "COMMIT"
	LogAdjust  LogKind = "ADJUST"
)

// LogEntry is append-only. Previous/New always describe the available quantity.
type LogEntry struct {
	ID               string
	ProductID        string
	Delta            int
	Kind             LogKind
	Reason           string
	PreviousQuantity int
	NewQuantity      int
	CreatedAt        time.Time
}

type HoldStatus string

const (
	HoldReserved  HoldStatus = "RESERVED"
	HoldCommitted HoldStatus = "COMMITTED"
	HoldReleased  HoldStatus = "RELEASED"
)

// Reservation is one product line held for a hold id (the order id once the order exists).
type Reservation struct {
	ID         string
	HoldID     string
	ProductID  string
	Quantity   int
	Status     HoldStatus
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

type LineItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
}

type Order struct {
	ID               string
	UserID           string
	LineItems        []LineItem
	Total            decimal.Decimal
	Status           Status
	PaymentStatus    PaymentStatus
	PaymentMethod    PaymentMethod
	PaymentReference *string
	ShippingInfo     Address
	BillingInfo      Address
	StatusReason     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TotalOf sums quantity x unit price over the lines.
func TotalOf(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, li := range items {
		total = total.Add(li.Subtotal())
	}
	return total
}

type PaymentRecordStatus string

const (
	PaymentRecordPending     PaymentRecordStatus = "PENDING"
	PaymentRecordInitialized PaymentRecordStatus = "INITIALIZED"
	PaymentRecordSuccessful  PaymentRecordStatus = "SUCCESSFUL"
	PaymentRecordFailed      PaymentRecordStatus = "FAILED"
	PaymentRecordRefunded    PaymentRecordStatus = "REFUNDED"
	// RefundPending marks a payment whose refund was claimed and is being sent to the provider.
	// Only the claim holder may move it on.
	PaymentRecordRefundPending PaymentRecordStatus = "REFUND_PENDING"
)

// Open reports whether the payment can still be settled by a provider callback.
func (s PaymentRecordStatus) Open() bool {
	return s == PaymentRecordPending || s == PaymentRecordInitialized
}

type Payment struct {
	ID                string
	Provider          string
	OrderID           string
	Reference         string
	ProviderReference *string
	Amount            decimal.Decimal
	RefundedAmount    decimal.Decimal
	Status            PaymentRecordStatus
	RedirectURL       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
