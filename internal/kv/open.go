// Package kv provides the CounterStore backends used for rate limiting and
// idle quotas: in-memory, Redis and SQLite.
package kv

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"relaybot/internal/domain"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Backend    string
	RedisURL   string
	KeyPrefix  string
	SQLitePath string
	Logger     *slog.Logger
}

// Open creates the configured CounterStore and verifies it is reachable.
func Open(ctx context.Context, opts Options) (domain.CounterStore, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryStore(nil), nil
	case BackendRedis:
		return NewRedisStore(ctx, opts.RedisURL, opts.KeyPrefix)
	case BackendSQLite:
		return NewSQLiteStore(opts.SQLitePath, nil, opts.Logger)
	default:
		return nil, fmt.Errorf("unknown kv backend: %s", opts.Backend)
	}
}

// Sweeper is implemented by backends without native key expiry.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// RunJanitor periodically sweeps expired keys until ctx is done. It returns
// immediately for backends that expire keys on their own.
func RunJanitor(ctx context.Context, store domain.CounterStore, interval time.Duration, logger *slog.Logger) {
	sw, ok := store.(Sweeper)
	if !ok {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sw.Sweep(ctx)
			if err != nil {
				logger.Warn("kv sweep failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Debug("kv sweep", "removed", n)
			}
		}
	}
}
