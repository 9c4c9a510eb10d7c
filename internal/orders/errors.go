package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                    = errors.New("not found")
	ErrValidation                  = errors.New("validation failed")
	ErrInsufficientStock           = errors.New("insufficient stock")
	ErrIllegalTransition           = errors.New("illegal state transition")
	ErrInvariantViolation          = errors.New("ledger invariant violation")
	ErrInvalidSignature            = errors.New("invalid webhook signature")
	ErrPaymentInitializationFailed = errors.New("payment initialization failed")
	ErrPaymentVerificationFailed   = errors.New("payment verification failed")
	ErrRefundFailed                = errors.New("refund failed")
	ErrRefundInProgress            = errors.New("refund already in progress")
)

// StockError carries the numbers behind an ErrInsufficientStock.
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// TransitionError reports which edge was refused.
type TransitionError struct {
	OrderID string
	From    string
	To      string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot move %s -> %s", e.OrderID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }
