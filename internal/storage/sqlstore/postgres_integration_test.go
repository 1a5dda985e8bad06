//go:build integration

package sqlstore_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	passmodels "passgate/internal/pass/models"
	presencemodels "passgate/internal/presence/models"
	"passgate/internal/storage"
	"passgate/internal/storage/sqlstore"
	"passgate/internal/storage/storetest"
	id "passgate/pkg/domain"
	"passgate/pkg/platform/sentinel"
	"passgate/pkg/testutil/containers"
)

func openPostgres(t *testing.T) *sqlstore.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pg := containers.GetManager().GetPostgres(t)
	require.NoError(t, pg.TruncateTables(context.Background(), "visits", "audit_logs", "passes"))
	return sqlstore.New(pg.DB, sqlstore.Postgres)
}

func TestPostgresStore(t *testing.T) {
	suite.Run(t, &storetest.Suite{
		Open: func(t *testing.T) storage.Tx { return openPostgres(t) },
	})
}

// TestPostgresConcurrentEntries races inserts of an open visit for one pass
// without row locks, leaving the partial unique index as the only guard.
func TestPostgresConcurrentEntries(t *testing.T) {
	store := openPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	pass, err := passmodels.NewPass(id.NewPassID(), uuid.NewString(), "Grace Hopper",
		passmodels.StatusActive, now.Add(-time.Hour), now.Add(time.Hour), id.UserID(uuid.New()), now)
	require.NoError(t, err)
	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, st storage.Stores) error {
		return st.Passes.Create(ctx, pass)
	}))

	const goroutines = 20
	var (
		wg        sync.WaitGroup
		inserted  atomic.Int32
		conflicts atomic.Int32
	)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.RunInTx(ctx, func(ctx context.Context, st storage.Stores) error {
				return st.Visits.Insert(ctx, presencemodels.NewVisit(pass.ID, now))
			})
			switch {
			case err == nil:
				inserted.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), inserted.Load())
	require.Equal(t, int32(goroutines-1), conflicts.Load())
}
