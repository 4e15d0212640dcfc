package domain

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-faster/errors"
)

var maxRetries atomic.Uint32

func init() {
	maxRetries.Store(5)
}

// SetMaxRetries sets how many attempts RetryOnConflict makes. Zero is ignored.
func SetMaxRetries(n uint) {
	if n > 0 {
		maxRetries.Store(uint32(n))
	}
}

// RetryOnConflict runs op until it succeeds, fails with an error other than
// ErrConflict, or the attempt budget runs out. op must reload the aggregate
// on every call.
func RetryOnConflict(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err != nil && !errors.Is(err, ErrConflict) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(maxRetries.Load())),
	)
	return err
}
