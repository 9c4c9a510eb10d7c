package payment

import (
	"context"
	"crypto/sha512"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ariefcatur/storefront-settlement/internal/metrics"
	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/shopspring/decimal"
)

const PaystackBaseURL = "https://api.paystack.co"

var hundred = decimal.NewFromInt(100)

// Paystack takes amounts in kobo and signs webhooks with HMAC-SHA512 of the secret key.
type Paystack struct {
	api       *apiClient
	secretKey string
}

type PaystackConfig struct {
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
}

func NewPaystack(cfg PaystackConfig, m *metrics.Metrics) *Paystack {
	if cfg.BaseURL == "" {
		cfg.BaseURL = PaystackBaseURL
	}
	return &Paystack{
		api:       newAPIClient(ProviderPaystack, cfg.BaseURL, cfg.SecretKey, cfg.Timeout, m),
		secretKey: cfg.SecretKey,
	}
}

func (p *Paystack) Name() string { return ProviderPaystack }

// toKobo converts naira to kobo, rounding half away from zero.
func toKobo(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func fromKobo(kobo int64) decimal.Decimal {
	return decimal.NewFromInt(kobo).Div(hundred)
}

type paystackEnvelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type paystackInitData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

func (p *Paystack) Initialize(ctx context.Context, req InitializeRequest) (InitializeResult, error) {
	body := map[string]any{
		"email":        req.Email,
		"amount":       toKobo(req.Amount),
		"reference":    req.Reference,
		"callback_url": req.CallbackURL,
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var out paystackEnvelope[paystackInitData]
	if err := p.api.call(ctx, "initialize", http.MethodPost, "/transaction/initialize", body, &out); err != nil {
		return InitializeResult{}, fmt.Errorf("paystack initialize %s: %v: %w", req.Reference, err, orders.ErrPaymentInitializationFailed)
	}
	if !out.Status || out.Data.AuthorizationURL == "" {
		return InitializeResult{}, fmt.Errorf("paystack initialize %s: %s: %w", req.Reference, out.Message, orders.ErrPaymentInitializationFailed)
	}
	ref := out.Data.Reference
	if ref == "" {
		ref = req.Reference
	}
	return InitializeResult{RedirectURL: out.Data.AuthorizationURL, ProviderReference: ref}, nil
}

type paystackTransaction struct {
	ID        int64  `json:"id"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

func (p *Paystack) Verify(ctx context.Context, reference string) (VerifyResult, error) {
	var out paystackEnvelope[paystackTransaction]
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := p.api.call(ctx, "verify", http.MethodGet, path, nil, &out); err != nil {
		return VerifyResult{}, fmt.Errorf("paystack verify %s: %v: %w", reference, err, orders.ErrPaymentVerificationFailed)
	}
	if !out.Status {
		return VerifyResult{}, fmt.Errorf("paystack verify %s: %s: %w", reference, out.Message, orders.ErrPaymentVerificationFailed)
	}
	return VerifyResult{
		Success:               out.Data.Status == "success",
		Status:                out.Data.Status,
		Amount:                fromKobo(out.Data.Amount),
		ProviderTransactionID: fmt.Sprint(out.Data.ID),
		Reference:             out.Data.Reference,
	}, nil
}

type paystackRefundData struct {
	Status      string `json:"status"`
	Transaction struct {
		Reference string `json:"reference"`
	} `json:"transaction"`
}

func (p *Paystack) Refund(ctx context.Context, providerReference string, amount *decimal.Decimal) (RefundResult, error) {
	body := map[string]any{"transaction": providerReference}
	if amount != nil {
		body["amount"] = toKobo(*amount)
	}
	var out paystackEnvelope[paystackRefundData]
	if err := p.api.call(ctx, "refund", http.MethodPost, "/refund", body, &out); err != nil {
		return RefundResult{}, fmt.Errorf("paystack refund %s: %v: %w", providerReference, err, orders.ErrRefundFailed)
	}
	ref := out.Data.Transaction.Reference
	if ref == "" {
		ref = providerReference
	}
	return RefundResult{Success: out.Status, Reference: ref}, nil
}

func (p *Paystack) VerifySignature(payload []byte, signature string) bool {
	return verifyHexHMAC(sha512.New, p.secretKey, payload, signature)
}

type paystackWebhook struct {
	Event string `json:"event"`
	Data  struct {
		ID          json.Number `json:"id"`
		Reference   string      `json:"reference"`
		Status      string      `json:"status"`
		Transaction struct {
			Reference string `json:"reference"`
		} `json:"transaction"`
		TransactionReference string `json:"transaction_reference"`
		Amount               int64  `json:"amount"` // kobo
	} `json:"data"`
}

func (p *Paystack) ParseWebhook(payload []byte) (WebhookEvent, error) {
	var w paystackWebhook
	if err := json.Unmarshal(payload, &w); err != nil {
		return WebhookEvent{}, fmt.Errorf("paystack webhook: %w", err)
	}
	if w.Event == "" || w.Data.ID == "" {
		return WebhookEvent{}, fmt.Errorf("paystack webhook: missing event or data.id")
	}

	ev := WebhookEvent{
		ID:     w.Event + ":" + w.Data.ID.String(),
		Type:   w.Event,
		Status: w.Data.Status,
	}
	switch w.Event {
	case "charge.success":
		ev.Kind = EventCharge
		ev.Reference = w.Data.Reference
	case "refund.processed":
		ev.Kind = EventRefund
		ev.Reference = firstNonEmpty(w.Data.TransactionReference, w.Data.Transaction.Reference, w.Data.Reference)
		ev.Amount = fromKobo(w.Data.Amount)
	default:
		ev.Kind = EventOther
		ev.Reference = w.Data.Reference
	}
	return ev, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
