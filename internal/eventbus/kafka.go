package eventbus

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/xenking/kart-fulfillment/internal/domain/event"
)

// Header names set on every record.
const (
	HeaderEventType = "event-type"
	HeaderEventID   = "event-id"
)

// KafkaPublisher produces every event to a single topic, keyed by aggregate
// ID so all events of one order or product stay ordered within a partition.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

// NewKafkaClient connects a producer to the comma-separated broker list.
func NewKafkaClient(brokers, clientID string) (*kgo.Client, error) {
	seeds := strings.Split(brokers, ",")
	for i := range seeds {
		seeds[i] = strings.TrimSpace(seeds[i])
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.ClientID(clientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create kafka client")
	}
	return client, nil
}

// NewKafkaPublisher returns a publisher writing to topic.
func NewKafkaPublisher(client *kgo.Client, topic string) *KafkaPublisher {
	return &KafkaPublisher{client: client, topic: topic}
}

// Publish encodes and synchronously produces events. Events that cannot be
// encoded abort the whole batch before anything is sent.
func (p *KafkaPublisher) Publish(ctx context.Context, events ...event.Event) error {
	if len(events) == 0 {
		return nil
	}
	records, err := buildRecords(p.topic, events)
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return errors.Wrapf(err, "produce %d events to %s", len(records), p.topic)
	}
	return nil
}

func buildRecords(topic string, events []event.Event) ([]*kgo.Record, error) {
	records := make([]*kgo.Record, 0, len(events))
	for _, e := range events {
		value, err := Encode(e)
		if err != nil {
			return nil, err
		}
		records = append(records, &kgo.Record{
			Topic: topic,
			Key:   []byte(e.AggregateID()),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: HeaderEventType, Value: []byte(e.EventType())},
				{Key: HeaderEventID, Value: []byte(e.EventID())},
			},
			Timestamp: e.OccurredAt(),
		})
	}
	return records, nil
}

// EnsureTopic creates topic if it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	adm := kadm.NewClient(client)

	resp, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, topic)
	if err != nil {
		return errors.Wrapf(err, "create topic %s", topic)
	}
	for _, detail := range resp {
		if detail.Err != nil && !strings.Contains(detail.Err.Error(), "already exists") {
			return errors.Wrapf(detail.Err, "create topic %s", detail.Topic)
		}
	}
	return nil
}
