package inventory

import (
	"fmt"

	"github.com/xenking/kart-fulfillment/internal/domain"
)

// ErrNegativeStock is returned when constructing a negative Stock.
var ErrNegativeStock = fmt.Errorf("%w: stock cannot be negative", domain.ErrValidation)

// InsufficientStockError reports a request for more units than are on hand
// or available.
type InsufficientStockError struct {
	Have int
	Need int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: have %d, need %d", e.Have, e.Need)
}

func (e *InsufficientStockError) Unwrap() error { return domain.ErrCapacity }

// Stock is a non-negative on-hand unit count.
type Stock int

// NewStock validates q.
func NewStock(q int) (Stock, error) {
	if q < 0 {
		return 0, ErrNegativeStock
	}
	return Stock(q), nil
}

// Add returns s + n. n must be non-negative.
func (s Stock) Add(n int) (Stock, error) {
	if n < 0 {
		return s, ErrNegativeStock
	}
	return s + Stock(n), nil
}

// Sub returns s - n, failing if the result would be negative.
func (s Stock) Sub(n int) (Stock, error) {
	if n < 0 {
		return s, ErrNegativeStock
	}
	if int(s) < n {
		return s, &InsufficientStockError{Have: int(s), Need: n}
	}
	return s - Stock(n), nil
}

// HasEnough reports s >= n.
func (s Stock) HasEnough(n int) bool { return int(s) >= n }

// IsLowStock reports s < threshold.
func (s Stock) IsLowStock(threshold int) bool { return int(s) < threshold }

// IsOutOfStock reports s == 0.
func (s Stock) IsOutOfStock() bool { return s == 0 }
