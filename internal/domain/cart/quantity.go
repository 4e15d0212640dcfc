package cart

import (
	"fmt"
)

const (
	// MinQuantity is the smallest quantity of a cart line.
	MinQuantity = 1
	// MaxQuantity is the largest quantity of a cart line.
	MaxQuantity = 99
)

// Quantity is a cart line quantity in [MinQuantity, MaxQuantity].
type Quantity int

// NewQuantity validates n.
func NewQuantity(n int) (Quantity, error) {
	if n < MinQuantity || n > MaxQuantity {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidQuantity, n)
	}
	return Quantity(n), nil
}

// Add returns q + o, failing with ErrQuantityLimit above MaxQuantity.
func (q Quantity) Add(o Quantity) (Quantity, error) {
	sum := int(q) + int(o)
	if sum > MaxQuantity {
		return q, fmt.Errorf("%w: %d + %d exceeds %d", ErrQuantityLimit, q, o, MaxQuantity)
	}
	return Quantity(sum), nil
}

// Sub returns q - o, failing with ErrInvalidQuantity below MinQuantity.
func (q Quantity) Sub(o Quantity) (Quantity, error) {
	diff := int(q) - int(o)
	if diff < MinQuantity {
		return q, fmt.Errorf("%w: %d - %d is below %d", ErrInvalidQuantity, q, o, MinQuantity)
	}
	return Quantity(diff), nil
}

func (q Quantity) Int() int { return int(q) }
