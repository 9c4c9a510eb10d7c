package httpx

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/storefront-settlement/internal/lifecycle"
	"github.com/ariefcatur/storefront-settlement/internal/logging"
	"github.com/ariefcatur/storefront-settlement/internal/metrics"
	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/ariefcatur/storefront-settlement/internal/payment"
	"github.com/ariefcatur/storefront-settlement/internal/webhook"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

// WebhookProcessor applies an admitted provider event.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, provider string, ev payment.WebhookEvent) error
}

type WebhookHandler struct {
	Gateways  *payment.Registry
	Dedup     webhook.Deduplicator
	Processor WebhookProcessor
	Queue     lifecycle.Dispatcher // non-nil hands admitted events to the worker
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// signature headers the providers send natively
var nativeSignatureHeader = map[string]string{
	payment.ProviderPaystack:    "X-Paystack-Signature",
	payment.ProviderFlutterwave: "Verif-Hash",
}

func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/webhooks/payment", h.handle)
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request) {
	provider := r.Header.Get("X-Payment-Provider")
	signature := r.Header.Get("X-Webhook-Signature")
	if signature == "" {
		if native, ok := nativeSignatureHeader[provider]; ok {
			signature = r.Header.Get(native)
		}
	}
	if provider == "" || signature == "" {
		h.Metrics.Webhook(provider, "bad_request")
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing provider or signature header"})
		return
	}

	gw, err := h.Gateways.Get(provider)
	if err != nil {
		h.Metrics.Webhook("unknown", "bad_request")
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown payment provider", Code: "UNKNOWN_PROVIDER"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.Metrics.Webhook(provider, "bad_request")
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unreadable body"})
		return
	}
	if !gw.VerifySignature(body, signature) {
		h.Metrics.Webhook(provider, "invalid_signature")
		logging.Warn(r.Context(), h.Logger, "webhook signature rejected", zap.String("provider", provider))
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: orders.ErrInvalidSignature.Error()})
		return
	}
	ev, err := gw.ParseWebhook(body)
	if err != nil {
		h.Metrics.Webhook(provider, "bad_request")
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unparsable payload"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	admitted, err := h.Dedup.Admit(ctx, provider, ev.ID)
	if err != nil {
		h.Metrics.Webhook(provider, "failed")
		logging.Error(ctx, h.Logger, "webhook dedup unavailable", zap.String("event_id", ev.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	if !admitted {
		h.Metrics.Webhook(provider, "duplicate")
		logging.Info(ctx, h.Logger, "duplicate webhook", zap.String("provider", provider), zap.String("event_id", ev.ID))
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	if err := h.process(ctx, provider, ev); err != nil {
		// lepas tanda dedup supaya retry provider diterima lagi
		if ferr := h.Dedup.Forget(context.WithoutCancel(ctx), provider, ev.ID); ferr != nil {
			logging.Error(ctx, h.Logger, "webhook dedup mark not cleared", zap.String("event_id", ev.ID), zap.Error(ferr))
		}
		h.Metrics.Webhook(provider, "failed")
		logging.Error(ctx, h.Logger, "webhook processing failed",
			zap.String("provider", provider), zap.String("event_id", ev.ID), zap.String("reference", ev.Reference), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	h.Metrics.Webhook(provider, "processed")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *WebhookHandler) process(ctx context.Context, provider string, ev payment.WebhookEvent) error {
	if h.Queue == nil {
		return h.Processor.HandleWebhook(ctx, provider, ev)
	}
	payload := orders.WebhookAdmittedPayload{
		Provider:  provider,
		EventID:   ev.ID,
		Type:      ev.Type,
		Kind:      string(ev.Kind),
		Reference: ev.Reference,
	}
	if !ev.Amount.IsZero() {
		payload.Amount = ev.Amount.StringFixed(2)
	}
	return h.Queue.Enqueue(ctx, orders.TopicWebhookAdmitted, orders.EventWebhookAdmitted, ev.Reference, payload)
}
