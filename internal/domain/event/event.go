// Package event defines domain events and the sink they are published to.
//
// Aggregates record events while mutating; the service that saved the
// aggregate drains them and hands them to a Publisher. Nothing is published
// for a mutation whose save failed.
package event

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is a fact that happened to an aggregate.
type Event interface {
	EventID() string
	EventType() string
	AggregateID() string
	OccurredAt() time.Time
}

// Base carries the envelope fields shared by every event. Embed it.
type Base struct {
	ID        string
	Aggregate string
	At        time.Time
}

// NewBase creates an envelope with a fresh ID.
func NewBase(aggregateID string, at time.Time) Base {
	return Base{ID: uuid.NewString(), Aggregate: aggregateID, At: at}
}

func (b Base) EventID() string       { return b.ID }
func (b Base) AggregateID() string   { return b.Aggregate }
func (b Base) OccurredAt() time.Time { return b.At }

// Recorder buffers events raised by an aggregate until they are drained.
// The zero value is ready to use.
type Recorder struct {
	pending []Event
}

// Record appends e to the buffer.
func (r *Recorder) Record(e Event) {
	r.pending = append(r.pending, e)
}

// Pending returns a copy of the buffered events without clearing them.
func (r *Recorder) Pending() []Event {
	out := make([]Event, len(r.pending))
	copy(out, r.pending)
	return out
}

// Drain returns the buffered events and clears the buffer.
func (r *Recorder) Drain() []Event {
	out := r.pending
	r.pending = nil
	return out
}

// Publisher delivers events to the outside world.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, events ...Event) error

func (f PublisherFunc) Publish(ctx context.Context, events ...Event) error {
	return f(ctx, events...)
}

// Emit publishes events after a successful save. The save is already
// committed, so a delivery failure is logged rather than returned.
func Emit(ctx context.Context, p Publisher, events []Event) {
	if len(events) == 0 || p == nil {
		return
	}
	if err := p.Publish(ctx, events...); err != nil {
		zctx.From(ctx).Warn("Publish events",
			zap.Int("count", len(events)),
			zap.String("first_type", events[0].EventType()),
			zap.Error(err),
		)
	}
}

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(context.Context, ...Event) error { return nil })

// Collector keeps published events in memory. Safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *Collector) Publish(_ context.Context, events ...Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
	return nil
}

// Events returns a snapshot of everything published so far.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Types returns the EventType of every collected event, in order.
func (c *Collector) Types() []string {
	evs := c.Events()
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.EventType()
	}
	return out
}
