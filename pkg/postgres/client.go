package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	applogger "SignalGate/pkg/logger"
)

type Config struct {
	DSN            string
	MaxConns       int32
	ConnectTimeout time.Duration
}

// Connect opens a pool and pings it, retrying with exponential backoff until
// ConnectTimeout elapses. Databases started alongside the service are often
// not accepting connections yet.
func Connect(ctx context.Context, cfg Config, l *applogger.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	attempt := 0
	pool, err := backoff.Retry(ctx, func() (*pgxpool.Pool, error) {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		p, err := pgxpool.NewWithConfig(pingCtx, poolCfg)
		if err != nil {
			return nil, err
		}
		if err := p.Ping(pingCtx); err != nil {
			p.Close()
			l.Warn("postgres not ready", applogger.Int("attempt", attempt), applogger.Error(err))
			return nil, err
		}
		return p, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(timeout))
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return pool, nil
}
