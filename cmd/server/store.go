package main

import (
	"context"
	"fmt"

	"passgate/internal/platform/config"
	"passgate/internal/storage"
	"passgate/internal/storage/memory"
	"passgate/internal/storage/sqlstore"
)

// backend is the opened store plus its health probe and closer.
type backend struct {
	tx     storage.Tx
	health func(ctx context.Context) error
	close  func() error
}

func openStore(ctx context.Context, cfg config.DBConfig) (*backend, error) {
	switch cfg.Driver {
	case "memory":
		return &backend{
			tx:     memory.New(),
			health: func(context.Context) error { return nil },
			close:  func() error { return nil },
		}, nil
	case "postgres", "sqlite":
		open, dialect := sqlstore.OpenSQLite, sqlstore.SQLite
		if cfg.Driver == "postgres" {
			open, dialect = sqlstore.OpenPostgres, sqlstore.Postgres
		}
		db, err := open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
		}
		return &backend{
			tx:     sqlstore.New(db, dialect, sqlstore.WithTxTimeout(cfg.TxTimeout)),
			health: db.PingContext,
			close:  db.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.Driver)
	}
}
