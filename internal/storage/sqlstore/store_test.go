package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"passgate/internal/storage"
	"passgate/internal/storage/storetest"
	dErrors "passgate/pkg/domain-errors"
	"passgate/pkg/platform/sentinel"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "passgate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, SQLite)
}

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &storetest.Suite{
		Open: func(t *testing.T) storage.Tx { return openSQLite(t) },
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, s.db, SQLite))

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: Postgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2 LIMIT $3",
		pg.rebind("SELECT a FROM t WHERE x = ? AND y = ? LIMIT ?"))

	lite := &Store{dialect: SQLite}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}

func TestForUpdateOnlyOnPostgres(t *testing.T) {
	assert.Equal(t, " FOR UPDATE", (&Store{dialect: Postgres}).forUpdate())
	assert.Empty(t, (&Store{dialect: SQLite}).forUpdate())
}

func TestTimeEncoding(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 30, 15, 123456789, time.FixedZone("CET", 3600))

	lite := &Store{dialect: SQLite}
	encoded, ok := lite.timeArg(at).(string)
	require.True(t, ok)
	assert.Equal(t, "2026-03-02T08:30:15.123456Z", encoded)

	var decoded dbTime
	require.NoError(t, decoded.Scan(encoded))
	assert.True(t, decoded.Valid)
	assert.True(t, decoded.Time.Equal(at.Truncate(time.Microsecond)))

	pg := &Store{dialect: Postgres}
	asTime, ok := pg.timeArg(at).(time.Time)
	require.True(t, ok)
	assert.Equal(t, time.UTC, asTime.Location())

	var null dbTime
	require.NoError(t, null.Scan(nil))
	assert.Nil(t, null.Ptr())

	assert.Error(t, new(dbTime).Scan("yesterday"))
	assert.Error(t, new(dbTime).Scan(42))
}

func TestTxTimeoutApplies(t *testing.T) {
	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "timeout.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := New(db, SQLite, WithTxTimeout(50*time.Millisecond))

	var deadline time.Time
	err = s.RunInTx(context.Background(), func(ctx context.Context, _ storage.Stores) error {
		var ok bool
		deadline, ok = ctx.Deadline()
		require.True(t, ok)
		return nil
	})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, time.Second)
}

func TestMapErrLostConnectionIsUnavailable(t *testing.T) {
	s := New(nil, Postgres)
	for _, err := range []error{driver.ErrBadConn, fmt.Errorf("begin tx: %w", sql.ErrConnDone)} {
		mapped := s.mapErr(err)
		assert.ErrorIs(t, mapped, sentinel.ErrUnavailable)
		assert.Equal(t, dErrors.CodeUnavailable, dErrors.CodeOf(storage.Translate(mapped, "store down")))
	}
	assert.ErrorIs(t, s.mapErr(sql.ErrNoRows), sentinel.ErrNotFound)
}
