//go:build integration

package redis_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passgate/internal/notify"
	notifyredis "passgate/internal/notify/redis"
	id "passgate/pkg/domain"
	"passgate/pkg/testutil/containers"
)

func TestSinkAppendsToStream(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.GetManager().GetRedis(t)
	ctx := context.Background()
	require.NoError(t, rc.FlushAll(ctx))

	sink := notifyredis.New(rc.Client, "passgate:test", notifyredis.WithMaxLen(10))
	passID := id.NewPassID()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, sink.Publish(ctx, notify.NewEvent(notify.KindEntry, passID, at, map[string]any{"visit_id": "v-1"})))
	require.NoError(t, sink.Publish(ctx, notify.NewEvent(notify.KindExit, passID, at.Add(time.Hour), nil)))
	require.NoError(t, sink.Close())
	require.NoError(t, rc.Client.Ping(ctx).Err(), "Close leaves the shared client open")

	msgs, err := rc.Stream(ctx, "passgate:test")
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	first := msgs[0].Values
	assert.Equal(t, "entry", first["kind"])
	assert.Equal(t, passID.String(), first["pass_id"])
	assert.Equal(t, at.Format(time.RFC3339Nano), first["occurred_at"])

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(first["payload"].(string)), &payload))
	assert.Equal(t, "v-1", payload["visit_id"])

	assert.Equal(t, "exit", msgs[1].Values["kind"])
	assert.Equal(t, "null", msgs[1].Values["payload"])
}
