package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ProductLister interface {
	ListProducts(ctx context.Context) ([]orders.Product, error)
}

type ProductsHandler struct {
	Catalog ProductLister
	Logger  *zap.Logger
}

type productView struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

func (h *ProductsHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
}

func (h *ProductsHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Catalog.ListProducts(ctx)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	out := make([]productView, 0, len(ps))
	for _, p := range ps {
		out = append(out, productView{ID: p.ID, Name: p.Name, Price: p.Price})
	}
	writeJSON(w, http.StatusOK, out)
}
