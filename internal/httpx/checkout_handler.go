package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ariefcatur/storefront-settlement/internal/checkout"
	"github.com/ariefcatur/storefront-settlement/internal/logging"
	"github.com/ariefcatur/storefront-settlement/internal/redisx"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxCheckoutBody = 1 << 20

type CheckoutHandler struct {
	Orchestrator *checkout.Orchestrator
	Idempotency  *redisx.Idempotency // optional
	Logger       *zap.Logger
}

type checkoutResp struct {
	checkout.Result
	Idempotent bool `json:"idempotent,omitempty"`
}

func (h *CheckoutHandler) Register(r chi.Router) {
	r.Post("/checkout", h.checkout)
}

func (h *CheckoutHandler) checkout(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing bearer token", Code: "UNAUTHENTICATED"})
		return
	}

	var req checkout.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCheckoutBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json", Code: "VALIDATION_FAILED"})
		return
	}
	req.UserID = p.UserID

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.Idempotency != nil {
		orderID, claimed, err := h.Idempotency.Claim(ctx, p.UserID, key)
		if err != nil {
			writeError(w, r, h.Logger, err)
			return
		}
		if !claimed {
			res, err := h.Orchestrator.Lookup(ctx, p.UserID, orderID)
			if err != nil {
				writeError(w, r, h.Logger, err)
				return
			}
			writeJSON(w, http.StatusOK, checkoutResp{Result: res, Idempotent: true})
			return
		}
	}

	res, err := h.Orchestrator.Checkout(ctx, req)
	if err != nil {
		if key != "" && h.Idempotency != nil {
			if aerr := h.Idempotency.Abandon(context.WithoutCancel(ctx), p.UserID, key); aerr != nil {
				logging.Warn(ctx, h.Logger, "idempotency key not released", zap.Error(aerr))
			}
		}
		writeError(w, r, h.Logger, err)
		return
	}
	if key != "" && h.Idempotency != nil {
		if err := h.Idempotency.Complete(context.WithoutCancel(ctx), p.UserID, key, res.OrderID); err != nil {
			logging.Warn(ctx, h.Logger, "idempotency key not stored", zap.String("order_id", res.OrderID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusCreated, checkoutResp{Result: res})
}
