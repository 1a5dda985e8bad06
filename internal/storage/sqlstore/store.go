// Package sqlstore is the database/sql storage backend. One implementation
// serves Postgres (lib/pq) and SQLite (modernc.org/sqlite); the Dialect
// covers placeholder style, row locking and timestamp encoding.
//
// Serialization per pass relies on the database:
//   - Postgres: SELECT ... FOR UPDATE on the pass row, and a transaction
//     scoped advisory lock per audited entity for chain appends
//   - SQLite: a single pooled connection, so transactions run one at a time
//
// The partial unique index visits(pass_id) WHERE exit_at IS NULL backs the
// at-most-one-open-visit invariant on both.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"passgate/internal/storage"
	dErrors "passgate/pkg/domain-errors"
	"passgate/pkg/platform/sentinel"
	"passgate/pkg/platform/tx"
)

// Dialect selects SQL flavour.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// defaultTxTimeout is the maximum duration for one transaction.
const defaultTxTimeout = 5 * time.Second

// sqliteTimeLayout is fixed width so text comparison orders like time.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

type Store struct {
	db      *sql.DB
	dialect Dialect
	timeout time.Duration

	passes *passStore
	visits *visitStore
	audit  *auditStore
}

type Option func(*Store)

// WithTxTimeout bounds transactions whose context carries no deadline.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.timeout = d
	}
}

func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{db: db, dialect: dialect}
	for _, opt := range opts {
		opt(s)
	}
	s.passes = &passStore{s}
	s.visits = &visitStore{s}
	s.audit = &auditStore{s}
	return s
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, stores storage.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := s.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.mapErr(fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(tx.WithTx(ctx, sqlTx), storage.Stores{
		Passes: s.passes,
		Visits: s.visits,
		Audit:  s.audit,
	}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return s.mapErr(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func (s *Store) execer(ctx context.Context) tx.Execer {
	return tx.Or(ctx, s.db)
}

// rebind rewrites ? placeholders to $n for Postgres. Queries in this
// package never contain a literal question mark.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *Store) forUpdate() string {
	if s.dialect == Postgres {
		return " FOR UPDATE"
	}
	return ""
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := s.execer(ctx).ExecContext(ctx, s.rebind(query), args...)
	return res, s.mapErr(err)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, s.rebind(query), args...)
	return rows, s.mapErr(err)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.execer(ctx).QueryRowContext(ctx, s.rebind(query), args...)
}

// timeArg encodes t for binding, at microsecond precision in UTC.
func (s *Store) timeArg(t time.Time) any {
	t = t.UTC().Truncate(time.Microsecond)
	if s.dialect == SQLite {
		return t.Format(sqliteTimeLayout)
	}
	return t
}

func (s *Store) nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return s.timeArg(*t)
}

// mapErr translates driver errors into sentinel errors.
func (s *Store) mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s", sentinel.ErrConflict, pqErr.Message)
		}
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch code := liteErr.Code(); {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE,
			code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
			code == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE"),
			code&0xff == sqlite3.SQLITE_BUSY,
			code&0xff == sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %s", sentinel.ErrConflict, liteErr.Error())
		}
	}
	return err
}

// dbTime scans TIMESTAMPTZ (time.Time) and SQLite TEXT timestamps.
type dbTime struct {
	Time  time.Time
	Valid bool
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (t *dbTime) parse(v string) error {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"} {
		if parsed, err := time.Parse(layout, v); err == nil {
			t.Time, t.Valid = parsed.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", v)
}

func (t dbTime) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
