//go:build integration

package kafka_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passgate/internal/notify"
	"passgate/internal/notify/kafka"
	id "passgate/pkg/domain"
	"passgate/pkg/testutil/containers"
)

func TestSinkPublishesKeyedRecords(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	broker := containers.GetManager().GetRedpanda(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	topic := "passgate-test-" + uuid.NewString()
	sink, err := kafka.New(ctx, []string{broker.Broker}, topic)
	require.NoError(t, err)
	defer sink.Close()

	// A second New on the same topic must tolerate TopicAlreadyExists.
	again, err := kafka.New(ctx, []string{broker.Broker}, topic)
	require.NoError(t, err)
	require.NoError(t, again.Close())

	passID := id.NewPassID()
	evt := notify.NewEvent(notify.KindEntry, passID, time.Now(), map[string]any{"holder_name": "Ada"})
	require.NoError(t, sink.Publish(ctx, evt))

	consumer := broker.Consumer(t, topic)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())
	records := fetches.Records()
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, passID.String(), string(rec.Key))
	headers := map[string]string{}
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "entry", headers["kind"])
	assert.Equal(t, evt.ID, headers["event_id"])

	var got notify.Event
	require.NoError(t, json.Unmarshal(rec.Value, &got))
	assert.Equal(t, evt.ID, got.ID)
	assert.Equal(t, passID, got.PassID)
	assert.Equal(t, "Ada", got.Payload["holder_name"])
}
