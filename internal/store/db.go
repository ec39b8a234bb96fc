// Package store persists posts, credentials and schedules in Postgres.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/hamychatgpt/Rasad-v2/internal/config"
)

const pingTimeout = 5 * time.Second

// DB is a sqlx handle over a pgx pool. Closing it closes the pool.
type DB struct {
	*sqlx.DB
	pool *pgxpool.Pool
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.BuildDSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{DB: sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx"), pool: pool}, nil
}

func (d *DB) Close() error {
	err := d.DB.Close()
	d.pool.Close()
	return err
}
