package payment

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ariefcatur/storefront-settlement/internal/metrics"
	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/shopspring/decimal"
)

const FlutterwaveBaseURL = "https://api.flutterwave.com/v3"

// Flutterwave takes amounts in major units with an explicit currency and signs webhooks with
// HMAC-SHA256 of the configured secret hash.
type Flutterwave struct {
	api        *apiClient
	secretHash string
	currency   string
}

type FlutterwaveConfig struct {
	SecretKey  string
	SecretHash string
	BaseURL    string
	Currency   string
	Timeout    time.Duration
}

func NewFlutterwave(cfg FlutterwaveConfig, m *metrics.Metrics) *Flutterwave {
	if cfg.BaseURL == "" {
		cfg.BaseURL = FlutterwaveBaseURL
	}
	if cfg.Currency == "" {
		cfg.Currency = "NGN"
	}
	return &Flutterwave{
		api:        newAPIClient(ProviderFlutterwave, cfg.BaseURL, cfg.SecretKey, cfg.Timeout, m),
		secretHash: cfg.SecretHash,
		currency:   cfg.Currency,
	}
}

func (f *Flutterwave) Name() string { return ProviderFlutterwave }

// majorUnits renders the amount as a JSON number with two decimals.
func majorUnits(amount decimal.Decimal) json.Number {
	return json.Number(amount.StringFixed(2))
}

type flwEnvelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (f *Flutterwave) Initialize(ctx context.Context, req InitializeRequest) (InitializeResult, error) {
	body := map[string]any{
		"tx_ref":       req.Reference,
		"amount":       majorUnits(req.Amount),
		"currency":     f.currency,
		"redirect_url": req.CallbackURL,
		"customer":     map[string]string{"email": req.Email},
	}
	if len(req.Metadata) > 0 {
		body["meta"] = req.Metadata
	}

	var out flwEnvelope[struct {
		Link string `json:"link"`
	}]
	if err := f.api.call(ctx, "initialize", http.MethodPost, "/payments", body, &out); err != nil {
		return InitializeResult{}, fmt.Errorf("flutterwave initialize %s: %v: %w", req.Reference, err, orders.ErrPaymentInitializationFailed)
	}
	if out.Status != "success" || out.Data.Link == "" {
		return InitializeResult{}, fmt.Errorf("flutterwave initialize %s: %s: %w", req.Reference, out.Message, orders.ErrPaymentInitializationFailed)
	}
	// transaction id baru ada setelah customer bayar
	return InitializeResult{RedirectURL: out.Data.Link}, nil
}

type flwTransaction struct {
	ID       int64           `json:"id"`
	TxRef    string          `json:"tx_ref"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func (f *Flutterwave) Verify(ctx context.Context, reference string) (VerifyResult, error) {
	var out flwEnvelope[flwTransaction]
	path := "/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(reference)
	if err := f.api.call(ctx, "verify", http.MethodGet, path, nil, &out); err != nil {
		return VerifyResult{}, fmt.Errorf("flutterwave verify %s: %v: %w", reference, err, orders.ErrPaymentVerificationFailed)
	}
	if out.Status != "success" {
		return VerifyResult{}, fmt.Errorf("flutterwave verify %s: %s: %w", reference, out.Message, orders.ErrPaymentVerificationFailed)
	}
	return VerifyResult{
		Success:               out.Data.Status == "successful" && (out.Data.Currency == "" || out.Data.Currency == f.currency),
		Status:                out.Data.Status,
		Amount:                out.Data.Amount,
		ProviderTransactionID: fmt.Sprint(out.Data.ID),
		Reference:             out.Data.TxRef,
	}, nil
}

func (f *Flutterwave) Refund(ctx context.Context, providerReference string, amount *decimal.Decimal) (RefundResult, error) {
	body := map[string]any{}
	if amount != nil {
		body["amount"] = majorUnits(*amount)
	}
	var out flwEnvelope[struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}]
	path := "/transactions/" + url.PathEscape(providerReference) + "/refund"
	if err := f.api.call(ctx, "refund", http.MethodPost, path, body, &out); err != nil {
		return RefundResult{}, fmt.Errorf("flutterwave refund %s: %v: %w", providerReference, err, orders.ErrRefundFailed)
	}
	return RefundResult{Success: out.Status == "success", Reference: fmt.Sprint(out.Data.ID)}, nil
}

func (f *Flutterwave) VerifySignature(payload []byte, signature string) bool {
	return verifyHexHMAC(sha256.New, f.secretHash, payload, signature)
}

type flwWebhook struct {
	Event string `json:"event"`
	Data  struct {
		ID             json.Number     `json:"id"`
		TxRef          string          `json:"tx_ref"`
		Status         string          `json:"status"`
		Amount         decimal.Decimal `json:"amount"`
		AmountRefunded decimal.Decimal `json:"amount_refunded"`
	} `json:"data"`
}

func (f *Flutterwave) ParseWebhook(payload []byte) (WebhookEvent, error) {
	var w flwWebhook
	if err := json.Unmarshal(payload, &w); err != nil {
		return WebhookEvent{}, fmt.Errorf("flutterwave webhook: %w", err)
	}
	if w.Event == "" || w.Data.ID == "" {
		return WebhookEvent{}, fmt.Errorf("flutterwave webhook: missing event or data.id")
	}

	ev := WebhookEvent{
		ID:        w.Event + ":" + w.Data.ID.String(),
		Type:      w.Event,
		Reference: w.Data.TxRef,
		Status:    w.Data.Status,
	}
	switch w.Event {
	case "charge.completed":
		ev.Kind = EventCharge
	case "refund.completed":
		ev.Kind = EventRefund
		ev.Amount = w.Data.AmountRefunded
		if ev.Amount.IsZero() {
			ev.Amount = w.Data.Amount
		}
	default:
		ev.Kind = EventOther
	}
	return ev, nil
}
