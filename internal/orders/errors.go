package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrProductNotFound         = errors.New("product not found")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrInvalidOrder            = errors.New("order is not eligible for payment")
	ErrPaymentInitiationFailed = errors.New("payment initiation failed")
	ErrOrderCreationFailed     = errors.New("order creation failed")
	ErrInvalidInput            = errors.New("invalid input")
	ErrEmptyCart               = errors.New("cart is empty")
	ErrAlreadyReviewed         = errors.New("product already reviewed for this order")
)

// InsufficientStockError names the product whose stock could not cover the request.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

func invalidTransition(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

func invalidTransitionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidTransition, fmt.Sprintf(format, args...))
}
