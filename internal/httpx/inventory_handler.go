package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/storefront-settlement/internal/inventory"
	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type InventoryHandler struct {
	Ledger *inventory.Ledger
	Logger *zap.Logger
}

func (h *InventoryHandler) Register(r chi.Router) {
	r.Get("/inventory/low-stock", h.lowStock)
	r.Get("/inventory/{productID}", h.getStock)
	r.Post("/inventory/{productID}/adjust", h.adjust)
	r.Post("/inventory/{productID}/threshold", h.setThreshold)
}

type stockView struct {
	ProductID         string            `json:"product_id"`
	Available         int               `json:"available"`
	Reserved          int               `json:"reserved"`
	LowStockThreshold int               `json:"low_stock_threshold"`
	UpdatedAt         time.Time         `json:"updated_at"`
	History           []orders.LogEntry `json:"history,omitempty"`
}

func stockViewOf(rec orders.StockRecord) stockView {
	return stockView{
		ProductID: rec.ProductID, Available: rec.Available, Reserved: rec.Reserved,
		LowStockThreshold: rec.LowStockThreshold, UpdatedAt: rec.UpdatedAt,
	}
}

// getStock answers ?history=true with the movement log, optionally bounded by RFC3339 from/to.
func (h *InventoryHandler) getStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	id := chi.URLParam(r, "productID")
	rec, err := h.Ledger.Stock(ctx, id)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	v := stockViewOf(rec)
	q := r.URL.Query()
	if q.Get("history") == "true" {
		from, ferr := parseOptionalTime(q.Get("from"))
		to, terr := parseOptionalTime(q.Get("to"))
		if ferr != nil || terr != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "from and to must be RFC3339 timestamps", Code: "VALIDATION_FAILED"})
			return
		}
		if v.History, err = h.Ledger.Movements(ctx, id, from, to); err != nil {
			writeError(w, r, h.Logger, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, v)
}

func parseOptionalTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// lowStock lists products at or below their own threshold, or below ?threshold= when given.
func (h *InventoryHandler) lowStock(w http.ResponseWriter, r *http.Request) {
	var threshold *int
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "threshold must be a non-negative integer", Code: "VALIDATION_FAILED"})
			return
		}
		threshold = &n
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	recs, err := h.Ledger.LowStock(ctx, threshold)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	out := make([]stockView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, stockViewOf(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

type adjustReq struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

func (h *InventoryHandler) adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Delta == 0 || req.Reason == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "delta (non-zero) and reason are required", Code: "VALIDATION_FAILED"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rec, err := h.Ledger.Adjust(ctx, chi.URLParam(r, "productID"), req.Delta, req.Reason)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stockViewOf(rec))
}

type thresholdReq struct {
	Threshold *int `json:"threshold"`
}

func (h *InventoryHandler) setThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Threshold == nil || *req.Threshold < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "threshold (>= 0) is required", Code: "VALIDATION_FAILED"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rec, err := h.Ledger.SetThreshold(ctx, chi.URLParam(r, "productID"), *req.Threshold)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stockViewOf(rec))
}
