//go:build integration

package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"parley/internal/platform/config"
	"parley/internal/users/events"
	"parley/pkg/testutil/containers"
)

func TestKafkaPublisher_ProducesKeyedEnvelope(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	redpanda := containers.GetManager().GetRedpanda(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := config.KafkaConfig{
		Brokers:        redpanda.Brokers,
		Topic:          "parley.users.test",
		ClientID:       "users-service-test",
		PublishTimeout: 5 * time.Second,
	}
	publisher, err := events.NewKafkaPublisher(cfg)
	require.NoError(t, err)
	defer func() { _ = publisher.Close(context.Background()) }()
	require.NoError(t, publisher.Ping(ctx))

	env := testEnvelope(t)
	require.NoError(t, publisher.Publish(ctx, env))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(redpanda.Brokers...),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollRecords(ctx, 1)
	require.NoError(t, fetches.Err())
	records := fetches.Records()
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, "user.created", string(record.Key))
	var headerKey string
	for _, h := range record.Headers {
		if h.Key == "routing_key" {
			headerKey = string(h.Value)
		}
	}
	assert.Equal(t, "user.created", headerKey)

	var got events.Envelope
	require.NoError(t, json.Unmarshal(record.Value, &got))
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, env.UserID, got.UserID)
	assert.Equal(t, "users-service", got.Source)
}
