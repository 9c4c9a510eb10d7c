package checkout

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type Item struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

type Request struct {
	UserID        string               `json:"-" validate:"required"`
	Email         string               `json:"email" validate:"omitempty,email"`
	Items         []Item               `json:"items" validate:"required,min=1,dive"`
	Shipping      orders.Address       `json:"shipping_info"`
	Billing       orders.Address       `json:"billing_info"`
	PaymentMethod orders.PaymentMethod `json:"payment_method" validate:"required,oneof=card paystack flutterwave bank_transfer"`
}

type Result struct {
	OrderID     string          `json:"order_id"`
	RedirectURL string          `json:"payment_url,omitempty"`
	Reference   string          `json:"reference,omitempty"`
	Total       decimal.Decimal `json:"total"`
	Status      orders.Status   `json:"status"`
}

// ValidationError lists rejected fields. It unwraps to orders.ErrValidation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, e.Fields[k])
	}
	return "invalid checkout request: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return orders.ErrValidation }

var validate = validator.New()

func (r Request) validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: %v", orders.ErrValidation, err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			fields[field] = fmt.Sprintf("%s is required", field)
		case "min":
			fields[field] = fmt.Sprintf("%s must have at least %s entries", field, fe.Param())
		case "gt":
			fields[field] = fmt.Sprintf("%s must be greater than %s", field, fe.Param())
		case "oneof":
			fields[field] = fmt.Sprintf("%s must be one of: %s", field, fe.Param())
		case "email":
			fields[field] = fmt.Sprintf("%s must be a valid email", field)
		default:
			fields[field] = fmt.Sprintf("%s is invalid", field)
		}
	}
	return &ValidationError{Fields: fields}
}

// merged folds duplicate product lines, keeping first-seen order.
func merged(items []Item) []Item {
	idx := make(map[string]int, len(items))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if i, ok := idx[it.ProductID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out
}
