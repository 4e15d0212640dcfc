package eventbus

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/kart-fulfillment/internal/domain/event"
)

const instrumentationName = "github.com/xenking/kart-fulfillment/internal/eventbus"

// Instrumented wraps a Publisher with a span per batch and per-type counters.
type Instrumented struct {
	next      event.Publisher
	tracer    trace.Tracer
	published metric.Int64Counter
	failed    metric.Int64Counter
}

// Instrument wraps next.
func Instrument(next event.Publisher, tp trace.TracerProvider, mp metric.MeterProvider) (*Instrumented, error) {
	meter := mp.Meter(instrumentationName)
	published, err := meter.Int64Counter("kart.events.published",
		metric.WithDescription("Domain events delivered to the sink"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "published counter")
	}
	failed, err := meter.Int64Counter("kart.events.failed",
		metric.WithDescription("Domain events the sink rejected"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed counter")
	}
	return &Instrumented{
		next:      next,
		tracer:    tp.Tracer(instrumentationName),
		published: published,
		failed:    failed,
	}, nil
}

func (i *Instrumented) Publish(ctx context.Context, events ...event.Event) error {
	if len(events) == 0 {
		return nil
	}
	ctx, span := i.tracer.Start(ctx, "eventbus.Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.Int("events.count", len(events))),
	)
	defer span.End()

	counter := i.published
	err := i.next.Publish(ctx, events...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		counter = i.failed
	}
	for _, e := range events {
		counter.Add(ctx, 1, metric.WithAttributes(attribute.String("event.type", e.EventType())))
	}
	return err
}
