// Package kafka publishes notification events to a Kafka topic with
// franz-go. Records are keyed by pass id so one pass's events stay ordered.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"passgate/internal/notify"
)

const defaultPartitions = 3

type Sink struct {
	client *kgo.Client
	topic  string
}

// New connects to brokers and makes sure topic exists.
func New(ctx context.Context, brokers []string, topic string) (*Sink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: new client: %w", err)
	}
	if err := EnsureTopic(ctx, client, topic, defaultPartitions); err != nil {
		client.Close()
		return nil, err
	}
	return &Sink{client: client, topic: topic}, nil
}

// EnsureTopic creates topic with the broker's default replication factor.
// An existing topic is not an error.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, partitions, -1, nil, topic)
	if err != nil {
		return fmt.Errorf("kafka: create topic %s: %w", topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("kafka: create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

func (s *Sink) Publish(ctx context.Context, evt notify.Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("kafka: encode event: %w", err)
	}
	rec := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(evt.PassID.String()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(evt.Kind)},
			{Key: "event_id", Value: []byte(evt.ID)},
		},
	}
	if err := s.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka: produce: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	s.client.Close()
	return nil
}
