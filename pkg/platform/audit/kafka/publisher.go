// Package kafka forwards audit events to a Kafka topic so downstream
// compliance tooling can consume the trail independently of this service.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "attest/pkg/platform/audit"
)

// Publisher is an audit.Sink backed by a Kafka topic. Events are keyed by
// run id so one run's trail stays ordered within a partition.
type Publisher struct {
	client *kgo.Client
	topic  string
}

// New connects to the brokers and ensures the topic exists.
func New(ctx context.Context, brokers []string, topic string) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if err := ensureTopic(ctx, client, topic); err != nil {
		client.Close()
		return nil, err
	}
	return &Publisher{client: client, topic: topic}, nil
}

func ensureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	admin := kadm.NewClient(client)
	responses, err := admin.CreateTopics(ctx, 1, 1, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %q: %w", topic, err)
	}
	for _, response := range responses {
		if response.Err != nil && !errors.Is(response.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %q: %w", topic, response.Err)
		}
	}
	return nil
}

func (p *Publisher) Append(ctx context.Context, event audit.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.RunID),
		Value: value,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

func (p *Publisher) Close() {
	p.client.Close()
}
