package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/storefront-settlement/internal/checkout"
	"github.com/ariefcatur/storefront-settlement/internal/logging"
	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/ariefcatur/storefront-settlement/internal/payment"
	"github.com/ariefcatur/storefront-settlement/internal/redisx"
	"go.uber.org/zap"
)

type errorBody struct {
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes. Anything unclassified is logged and
// answered with a generic 500 body.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var verr *checkout.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Code: "VALIDATION_FAILED", Fields: verr.Fields})
	case errors.Is(err, orders.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "VALIDATION_FAILED"})
	case errors.Is(err, orders.ErrInsufficientStock):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "INSUFFICIENT_STOCK"})
	case errors.Is(err, orders.ErrPaymentInitializationFailed):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "payment could not be initialized", Code: "PAYMENT_INITIALIZATION_FAILED"})
	case errors.Is(err, payment.ErrUnknownProvider):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown payment provider", Code: "UNKNOWN_PROVIDER"})
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", Code: "NOT_FOUND"})
	case errors.Is(err, orders.ErrIllegalTransition):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "ILLEGAL_TRANSITION"})
	case errors.Is(err, orders.ErrRefundInProgress):
		writeJSON(w, http.StatusConflict, errorBody{Error: "a refund for this order is already in progress", Code: "REFUND_IN_PROGRESS"})
	case errors.Is(err, redisx.ErrRequestInFlight):
		writeJSON(w, http.StatusConflict, errorBody{Error: "request already in progress", Code: "REQUEST_IN_FLIGHT"})
	case errors.Is(err, orders.ErrPaymentVerificationFailed):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "payment provider unavailable, retry later", Code: "PAYMENT_VERIFICATION_FAILED"})
	case errors.Is(err, orders.ErrRefundFailed):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "refund failed", Code: "REFUND_FAILED"})
	default:
		logging.Error(r.Context(), logger, "request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
