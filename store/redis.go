package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// ConnectRedis returns a pinged client, or nil when addr is empty so callers can
// fall back to in-process behaviour.
func ConnectRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	if addr == "" {
		slog.Warn("REDIS_ADDR not set, rate limiting and user cache run in-process")
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	slog.Info("Redis connection successful", "addr", addr, "db", db)
	return client, nil
}
