package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a captured URL is remembered when no TTL is set.
	DefaultTTL = 7 * 24 * time.Hour

	redisKeyPrefix = "mhtml:captured:"
)

// RedisClient is the subset of redis.Cmdable used by RedisTracker.
type RedisClient interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisTracker shares captured URLs between hosts through Redis keys with a
// TTL. Lookup failures are logged and treated as "not yet captured".
type RedisTracker struct {
	rdb    RedisClient
	ttl    time.Duration
	logger *slog.Logger
	marked atomic.Int64
}

func NewRedisTracker(rdb RedisClient, ttl time.Duration, logger *slog.Logger) *RedisTracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisTracker{rdb: rdb, ttl: ttl, logger: logger}
}

func (r *RedisTracker) AlreadyProcessed(ctx context.Context, hash string) bool {
	if hash == "" {
		return false
	}
	n, err := r.rdb.Exists(ctx, redisKeyPrefix+hash).Result()
	if err != nil {
		r.logger.Warn("redis state lookup failed", "hash", hash, "err", err)
		return false
	}
	return n > 0
}

func (r *RedisTracker) MarkProcessed(ctx context.Context, hash, url string) error {
	if hash == "" {
		return nil
	}
	set, err := r.rdb.SetNX(ctx, redisKeyPrefix+hash, url, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis SETNX: %w", err)
	}
	if set {
		r.marked.Add(1)
	}
	return nil
}

// Snapshot counts the URLs marked by this tracker, not the whole keyspace.
func (r *RedisTracker) Snapshot() Snapshot {
	return Snapshot{Processed: int(r.marked.Load())}
}

func (r *RedisTracker) Close() error {
	return nil
}
