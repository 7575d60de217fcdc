package kv

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikolayk812/gomarketplace-cart/internal/migrations"
	"github.com/nikolayk812/gomarketplace-cart/internal/port"
)

const (
	DriverMemory   = "memory"
	DriverDevice   = "device"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

type Options struct {
	Driver        string
	DeviceDataDir string
	RedisURL      string
	PostgresURL   string
}

// Open connects to the backend named by opts.Driver.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (port.KeyValueStore, error) {
	switch opts.Driver {
	case DriverMemory, "":
		return NewMemory(), nil

	case DriverDevice:
		return NewDevice(opts.DeviceDataDir)

	case DriverRedis:
		store, err := NewRedis(opts.RedisURL, logger)
		if err != nil {
			return nil, fmt.Errorf("NewRedis: %w", err)
		}
		if err := store.Initialize(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("store.Initialize: %w", err)
		}
		return store, nil

	case DriverPostgres:
		if opts.PostgresURL == "" {
			return nil, fmt.Errorf("postgres url is empty")
		}
		pool, err := pgxpool.New(ctx, opts.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("pgxpool.New: %w", err)
		}
		if _, err := pool.Exec(ctx, migrations.KVEntries); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return NewPostgres(pool), nil

	default:
		return nil, fmt.Errorf("driver[%s] is not supported", opts.Driver)
	}
}
