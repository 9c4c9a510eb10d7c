package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/storefront-settlement/internal/checkout"
	"github.com/ariefcatur/storefront-settlement/internal/lifecycle"
	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OrdersHandler struct {
	Orchestrator *checkout.Orchestrator
	Machine      *lifecycle.Machine
	Logger       *zap.Logger
}

type orderView struct {
	OrderID          string               `json:"order_id"`
	UserID           string               `json:"user_id"`
	Status           orders.Status        `json:"status"`
	PaymentStatus    orders.PaymentStatus `json:"payment_status"`
	PaymentMethod    orders.PaymentMethod `json:"payment_method"`
	PaymentReference string               `json:"payment_reference,omitempty"`
	Total            decimal.Decimal      `json:"total"`
	Items            []orders.LineItem    `json:"items"`
	ShippingInfo     orders.Address       `json:"shipping_info"`
	BillingInfo      orders.Address       `json:"billing_info"`
	StatusReason     string               `json:"status_reason,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

func viewOf(o orders.Order) orderView {
	v := orderView{
		OrderID:       o.ID,
		UserID:        o.UserID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		PaymentMethod: o.PaymentMethod,
		Total:         o.Total,
		Items:         o.LineItems,
		ShippingInfo:  o.ShippingInfo,
		BillingInfo:   o.BillingInfo,
		StatusReason:  o.StatusReason,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	if o.PaymentReference != nil {
		v.PaymentReference = *o.PaymentReference
	}
	return v
}

// RegisterPublic mounts the payment callback target, which providers redirect to without a token.
func (h *OrdersHandler) RegisterPublic(r chi.Router) {
	r.Get("/payments/verify", h.verifyPayment)
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
}

func (h *OrdersHandler) RegisterAdmin(r chi.Router) {
	r.Post("/orders/{id}/refund", h.refundOrder)
	r.Post("/orders/{id}/advance", h.advanceOrder)
	r.Post("/orders/{id}/confirm-payment", h.confirmPayment)
}

func (h *OrdersHandler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	reference := r.URL.Query().Get("reference")
	if reference == "" {
		// Paystack kirim trxref, Flutterwave tx_ref
		reference = firstQuery(r, "trxref", "tx_ref")
	}
	if reference == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing reference", Code: "VALIDATION_FAILED"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	o, err := h.Orchestrator.Settle(ctx, "", reference)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order_id":       o.ID,
		"reference":      reference,
		"status":         o.Status,
		"payment_status": o.PaymentStatus,
	})
}

func firstQuery(r *http.Request, keys ...string) string {
	q := r.URL.Query()
	for _, k := range keys {
		if v := q.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// owned loads the order and hides it from callers who neither own it nor are admins.
func (h *OrdersHandler) owned(ctx context.Context, orderID string) (orders.Order, error) {
	o, err := h.Machine.Get(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	p, _ := PrincipalFrom(ctx)
	if !p.Admin() && o.UserID != p.UserID {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.owned(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(o))
}

type reasonReq struct {
	Reason string `json:"reason"`
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req reasonReq
	if !decodeOptional(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	o, err := h.owned(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	o, err = h.Orchestrator.Cancel(ctx, o.ID, req.Reason)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(o))
}

type refundReq struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

func (h *OrdersHandler) refundOrder(w http.ResponseWriter, r *http.Request) {
	var req refundReq
	if !decodeOptional(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	o, err := h.Orchestrator.Refund(ctx, chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(o))
}

type advanceReq struct {
	Status orders.Status `json:"status"`
}

func (h *OrdersHandler) advanceOrder(w http.ResponseWriter, r *http.Request) {
	var req advanceReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "status must be a known order status", Code: "VALIDATION_FAILED"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Machine.Advance(ctx, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(o))
}

func (h *OrdersHandler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orchestrator.ConfirmManualPayment(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(o))
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json", Code: "VALIDATION_FAILED"})
	return false
}
