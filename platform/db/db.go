// Package db provides database connection infrastructure.
// This is part of the platform layer and contains no business logic.
package db

import (
	"context"
	"time"

	"lead_lifecycle_engine/platform/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

const healthCheckPeriod = time.Minute

// NewPool opens a pgx pool sized from cfg and pings it.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PoolConfig parses the database URL and applies the pool limits. Zero
// limits keep pgx defaults.
func PoolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDatabaseURL())
	if err != nil {
		return nil, err
	}
	if v := cfg.GetDBMaxConns(); v > 0 {
		poolConfig.MaxConns = v
	}
	if v := cfg.GetDBMinConns(); v > 0 {
		poolConfig.MinConns = v
	}
	if v := cfg.GetDBMaxConnLifetime(); v > 0 {
		poolConfig.MaxConnLifetime = v
	}
	if v := cfg.GetDBMaxConnIdleTime(); v > 0 {
		poolConfig.MaxConnIdleTime = v
	}
	poolConfig.HealthCheckPeriod = healthCheckPeriod
	return poolConfig, nil
}
