package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// DBCheck returns a readiness probe over the pool.
func DBCheck(pool *pgxpool.Pool) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("op=readiness.db: pool not initialized")
		}
		return pool.Ping(ctx)
	}
}

// RedisCheck returns a readiness probe over the quote cache client. A nil
// client passes; the cache is optional.
func RedisCheck(client *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if client == nil {
			return nil
		}
		return client.Ping(ctx).Err()
	}
}
