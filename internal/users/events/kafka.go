package events

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"parley/internal/platform/config"
)

const (
	headerRoutingKey  = "routing_key"
	headerContentType = "content-type"
)

// KafkaPublisher produces envelopes to a single topic keyed by routing key,
// so all events of one type land in order on one partition.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

// NewKafkaPublisher connects to the configured brokers. Producing waits for
// acknowledgement from all in-sync replicas.
func NewKafkaPublisher(cfg config.KafkaConfig, extra ...kgo.Opt) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher: no brokers configured")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.AllowAutoTopicCreation(),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.PublishTimeout > 0 {
		opts = append(opts, kgo.ProduceRequestTimeout(cfg.PublishTimeout))
	}
	opts = append(opts, extra...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, topic: cfg.Topic}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, env Envelope) error {
	value, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", env.Type, err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(env.RoutingKey()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: headerRoutingKey, Value: []byte(env.RoutingKey())},
			{Key: headerContentType, Value: []byte("application/json")},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce %s: %w", env.Type, err)
	}
	return nil
}

// Ping checks that at least one broker is reachable.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes buffered records and closes the client.
func (p *KafkaPublisher) Close(ctx context.Context) error {
	err := p.client.Flush(ctx)
	p.client.Close()
	return err
}
