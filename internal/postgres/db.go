package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Migrate applies idempotent DDL scripts in order.
func Migrate(ctx context.Context, pool *pgxpool.Pool, schemas ...string) error {
	for i, s := range schemas {
		if _, err := pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("schema %d: %w", i, err)
		}
	}
	return nil
}
