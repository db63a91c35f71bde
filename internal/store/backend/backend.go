// Package backend opens the session store named by configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/draftpilot/draftpilot/internal/config"
	"github.com/draftpilot/draftpilot/internal/store"
	"github.com/draftpilot/draftpilot/internal/store/memory"
	"github.com/draftpilot/draftpilot/internal/store/postgres"
	"github.com/draftpilot/draftpilot/internal/store/redis"
)

const (
	Memory   = "memory"
	Redis    = "redis"
	Postgres = "postgres"
)

var (
	openRedis = func(ctx context.Context, opts redis.Options) (*redis.RedisStore, error) {
		return redis.New(ctx, opts)
	}
	openPostgres = postgres.New
)

// Open returns the store and a close func that is always safe to call.
func Open(ctx context.Context, cfg config.Config) (store.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.StoreBackend {
	case "", Memory:
		return memory.New(cfg.SessionTTL), noop, nil
	case Redis:
		st, err := openRedis(ctx, redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.SessionTTL,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("open redis store: %w", err)
		}
		return st, st.Close, nil
	case Postgres:
		st, err := openPostgres(cfg.PostgresURL)
		if err != nil {
			return nil, noop, fmt.Errorf("open postgres store: %w", err)
		}
		return st, st.Close, nil
	default:
		return nil, noop, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
}
