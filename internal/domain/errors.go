// Package domain holds the failure taxonomy shared by all aggregates.
//
// Every error returned by a domain package wraps exactly one of the kinds
// below, so adapters can classify failures with errors.Is without knowing
// the concrete sentinel.
package domain

import "github.com/go-faster/errors"

var (
	// ErrValidation marks malformed input: out-of-range quantity, negative
	// money, bad SKU, e-mail or coupon code format.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an absent entity for the given key.
	ErrNotFound = errors.New("not found")
	// ErrCapacity marks a bounded resource that would be exceeded: cart
	// size, per-item quantity, stock.
	ErrCapacity = errors.New("capacity exceeded")
	// ErrInvalidState marks a state-machine guard violation.
	ErrInvalidState = errors.New("invalid state")
	// ErrPolicy marks a business rule refusing an otherwise valid request:
	// coupon expired, exhausted or inactive, minimum order not met.
	ErrPolicy = errors.New("policy violation")
	// ErrConflict marks an optimistic-concurrency version mismatch. Callers
	// reload and retry.
	ErrConflict = errors.New("concurrent modification")
)

// Kind returns the kind sentinel wrapped by err, or nil if err carries none.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrNotFound, ErrCapacity, ErrInvalidState, ErrPolicy, ErrConflict} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
