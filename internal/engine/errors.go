package engine

import (
	"errors"
	"fmt"

	"github.com/imrishuroy/storefront-orderflow/internal/idempotency"
)

// Validation errors are returned before anything is written.
var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInvalidQuantity   = errors.New("quantity must be a positive integer")
	ErrMissingProductID  = errors.New("product id is required")
	ErrTooManyItems      = errors.New("too many distinct products in one order")
	ErrInvalidStatus     = errors.New("invalid order status")
	ErrInvalidTransition = errors.New("status transition not allowed")
)

var (
	ErrForbidden = errors.New("forbidden")
	ErrNotFound  = errors.New("order not found")
	// ErrConflict means concurrent writers kept winning; the caller may resubmit.
	ErrConflict = errors.New("order was modified concurrently, please retry")
	// ErrDuplicateRequest matches *DuplicateRequestError.
	ErrDuplicateRequest = errors.New("duplicate request")
	// ErrIdempotencyKeyReused means a key was replayed with a different body.
	ErrIdempotencyKeyReused = errors.New("idempotency key reused with a different request")
)

// ProductNotFoundError reports a cart line whose product is missing or inactive.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InsufficientStockError reports a cart line asking for more units than exist.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

// DuplicateRequestError carries the stored record for an idempotency key that
// was already used with the same request.
type DuplicateRequestError struct {
	Record *idempotency.Record
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("duplicate request for idempotency key %s (%s)", e.Record.Key, e.Record.Status)
}

func (e *DuplicateRequestError) Is(target error) bool { return target == ErrDuplicateRequest }
