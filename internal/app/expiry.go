package app

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// StaleExpirer is implemented by *order.Service.
type StaleExpirer interface {
	ExpireStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// expireUnpaid cancels orders left unpaid for longer than timeout, scanning
// every interval until ctx is done. A failed scan is logged and retried on
// the next tick.
func expireUnpaid(ctx context.Context, orders StaleExpirer, timeout, interval time.Duration) error {
	lg := zctx.From(ctx).Named("expiry")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		n, err := orders.ExpireStale(ctx, timeout)
		switch {
		case err != nil && ctx.Err() == nil:
			lg.Error("Expire unpaid orders", zap.Error(err))
		case n > 0:
			lg.Info("Expired unpaid orders", zap.Int("count", n))
		}
	}
}
