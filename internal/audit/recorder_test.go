package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passgate/internal/audit/chain"
	"passgate/internal/audit/models"
	"passgate/internal/storage"
	"passgate/internal/storage/memory"
	id "passgate/pkg/domain"
	"passgate/pkg/requestcontext"
)

func listAll(t *testing.T, store *memory.Store) []*models.Entry {
	t.Helper()
	var out []*models.Entry
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, stores storage.Stores) error {
		var err error
		out, err = stores.Audit.List(ctx, models.Filter{})
		return err
	}))
	return out
}

func TestRecordChainsPerEntity(t *testing.T) {
	store := memory.New()
	rec := NewRecorder()
	actor := id.UserID(uuid.New())
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	err := store.RunInTx(context.Background(), func(ctx context.Context, stores storage.Stores) error {
		for i, entityID := range []string{"a", "b", "a"} {
			_, err := rec.Record(ctx, stores.Audit, Record{
				Actor:      &actor,
				Action:     models.ActionCreate,
				EntityType: models.EntityPass,
				EntityID:   entityID,
				After:      map[string]int{"n": i},
				At:         now.Add(time.Duration(i) * time.Second),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	entries := listAll(t, store)
	require.Len(t, entries, 3)
	assert.Empty(t, entries[0].PrevHash)
	assert.Empty(t, entries[1].PrevHash, "first entry of entity b starts its own chain")
	assert.Equal(t, entries[0].Hash, entries[2].PrevHash)
	assert.Equal(t, []int64{1, 2, 3}, []int64{entries[0].Seq, entries[1].Seq, entries[2].Seq})

	result := chain.Verify([]*models.Entry{entries[0], entries[2]})
	assert.True(t, result.Valid)

	var change models.Change
	require.NoError(t, json.Unmarshal(entries[2].Changes, &change))
	assert.Nil(t, change.Before)
	assert.NotNil(t, change.After)
}

func TestRecordCapturesOriginAndRequestTime(t *testing.T) {
	store := memory.New()
	at := time.Date(2026, 3, 1, 9, 0, 0, 123456789, time.UTC)
	ctx := requestcontext.WithClientMetadata(context.Background(), "192.0.2.1", "reader")
	ctx = requestcontext.WithRequestID(ctx, "req-42")
	ctx = requestcontext.WithTime(ctx, at)

	err := store.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		_, err := NewRecorder().Record(ctx, stores.Audit, Record{
			Action:     models.ActionScan,
			EntityType: models.EntityPass,
			EntityID:   "p1",
			Payload:    map[string]string{"outcome": "DENIED"},
		})
		return err
	})
	require.NoError(t, err)

	entries := listAll(t, store)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Nil(t, e.ActorID)
	require.NotNil(t, e.Origin)
	assert.Equal(t, "192.0.2.1", e.Origin.IP)
	assert.Equal(t, "reader", e.Origin.UserAgent)
	assert.Equal(t, "req-42", e.Origin.RequestID)
	assert.Equal(t, at.Truncate(time.Microsecond), e.Timestamp)
	assert.JSONEq(t, `{"outcome":"DENIED"}`, string(e.Changes))
}

func TestRecordRolledBackWithTransaction(t *testing.T) {
	store := memory.New()
	boom := errors.New("mutation failed")

	err := store.RunInTx(context.Background(), func(ctx context.Context, stores storage.Stores) error {
		if _, err := NewRecorder().Record(ctx, stores.Audit, Record{
			Action:     models.ActionRevoke,
			EntityType: models.EntityPass,
			EntityID:   "p1",
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, listAll(t, store))
}
