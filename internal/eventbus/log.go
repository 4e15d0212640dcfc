package eventbus

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-fulfillment/internal/domain/event"
)

// LogPublisher writes every event to the context logger. It is the sink when
// no Kafka brokers are configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, events ...event.Event) error {
	lg := zctx.From(ctx)
	for _, e := range events {
		payload, err := Encode(e)
		if err != nil {
			return err
		}
		lg.Info("Domain event",
			zap.String("event_type", e.EventType()),
			zap.String("aggregate_id", e.AggregateID()),
			zap.ByteString("payload", payload),
		)
	}
	return nil
}
