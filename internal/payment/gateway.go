// Package payment adapts hosted-checkout payment providers to one Gateway contract.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/shopspring/decimal"
)

const (
	ProviderPaystack    = "paystack"
	ProviderFlutterwave = "flutterwave"
)

var ErrUnknownProvider = errors.New("unknown payment provider")

type InitializeRequest struct {
	Amount      decimal.Decimal // base currency unit
	Email       string
	Reference   string
	CallbackURL string
	Metadata    map[string]string
}

type InitializeResult struct {
	RedirectURL       string
	ProviderReference string
}

type VerifyResult struct {
	Success               bool
	Status                string
	Amount                decimal.Decimal // base currency unit
	ProviderTransactionID string
	Reference             string
}

// Pending reports a transaction the provider has not finished yet.
func (r VerifyResult) Pending() bool {
	switch r.Status {
	case "pending", "ongoing", "processing", "queued":
		return true
	}
	return false
}

type RefundResult struct {
	Success   bool
	Reference string
}

type EventKind string

const (
	EventCharge EventKind = "charge"
	EventRefund EventKind = "refund"
	EventOther  EventKind = "other"
)

// WebhookEvent is a provider notification normalized to the fields settlement needs.
type WebhookEvent struct {
	ID        string // {event}:{data.id}, the deduplication key
	Type      string
	Kind      EventKind
	Reference string
	Status    string
	// Amount is what a refund event returned, zero when the provider did not say.
	Amount decimal.Decimal
}

type Gateway interface {
	Name() string
	Initialize(ctx context.Context, req InitializeRequest) (InitializeResult, error)
	Verify(ctx context.Context, reference string) (VerifyResult, error)
	// Refund returns the full charge when amount is nil.
	Refund(ctx context.Context, providerReference string, amount *decimal.Decimal) (RefundResult, error)
	VerifySignature(payload []byte, signature string) bool
	ParseWebhook(payload []byte) (WebhookEvent, error)
}

// Registry resolves a gateway by its runtime key.
type Registry struct {
	gateways map[string]Gateway
	def      string
}

func NewRegistry(defaultProvider string, gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways)), def: defaultProvider}
	for _, g := range gateways {
		r.gateways[g.Name()] = g
	}
	return r
}

func (r *Registry) Get(name string) (Gateway, error) {
	g, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return g, nil
}

// ForMethod maps a checkout payment method to the gateway that collects it.
func (r *Registry) ForMethod(m orders.PaymentMethod) (Gateway, error) {
	switch m {
	case orders.MethodCard:
		return r.Get(r.def)
	case orders.MethodPaystack:
		return r.Get(ProviderPaystack)
	case orders.MethodFlutterwave:
		return r.Get(ProviderFlutterwave)
	default:
		return nil, fmt.Errorf("%w: method %q has no gateway", ErrUnknownProvider, m)
	}
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.gateways))
	for n := range r.gateways {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
