package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PoolOptions configures the shared connection pool. Zero values take defaults.
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration

	// ConnectRetry bounds how long NewPool keeps retrying the initial ping.
	ConnectRetry time.Duration
}

func (o *PoolOptions) ApplyDefaults() {
	if o.MaxConns == 0 {
		o.MaxConns = 20
	}
	if o.MinConns == 0 {
		o.MinConns = 2
	}
	if o.MaxConnLifetime == 0 {
		o.MaxConnLifetime = time.Hour
	}
	if o.MaxConnIdleTime == 0 {
		o.MaxConnIdleTime = 30 * time.Minute
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.ConnectRetry == 0 {
		o.ConnectRetry = 30 * time.Second
	}
}

func (o PoolOptions) Validate() error {
	if o.MinConns > o.MaxConns {
		return fmt.Errorf("min conns (%d) exceeds max conns (%d)", o.MinConns, o.MaxConns)
	}
	return nil
}

// NewPool parses dsn, builds a pool and waits until the database answers a ping.
// The ping is retried with exponential backoff for up to opts.ConnectRetry so the service can
// start alongside its database.
func NewPool(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database url is required")
	}
	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool options: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = opts.MaxConns
	cfg.MinConns = opts.MinConns
	cfg.MaxConnLifetime = opts.MaxConnLifetime
	cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	cfg.ConnConfig.ConnectTimeout = opts.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	log := zerolog.Ctx(ctx)
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, pool.Ping(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(opts.ConnectRetry),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Dur("retry_in", next).Msg("database not ready")
		}),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
