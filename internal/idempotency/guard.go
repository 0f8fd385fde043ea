// Package idempotency provides exactly-once processing of external events:
// the first caller presenting a key acquires it, every later caller is told
// the event is a duplicate.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard acquires event keys. Acquire returns true only for the first caller.
type Guard interface {
	Acquire(ctx context.Context, key string) (bool, error)
}

// RedisGuard stores keys in Redis with SET NX and an expiry.
type RedisGuard struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisGuard connects to Redis at addr ("host:port").
func NewRedisGuard(addr string, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisGuard{
		rdb:    redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
		prefix: "idempotency:",
	}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, g.prefix+key, time.Now().Unix(), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %q: %w", key, err)
	}
	return ok, nil
}

func (g *RedisGuard) Ping(ctx context.Context) error {
	return g.rdb.Ping(ctx).Err()
}

func (g *RedisGuard) Close() error {
	return g.rdb.Close()
}
