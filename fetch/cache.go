package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dhcgn/mhtml/metrics"
)

const (
	// DefaultCacheTTL is how long a fetched body is kept.
	DefaultCacheTTL = time.Hour

	// cacheKeyPrefix namespaces cached bodies in Redis.
	cacheKeyPrefix = "mhtml:fetch:"
)

// KV is the subset of the Redis client used by Cache.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Cache keeps fetched bodies in Redis in front of another Fetcher. Redis
// failures are logged and the request falls through to the wrapped fetcher.
// Failed fetches are not cached.
type Cache struct {
	next   Fetcher
	rdb    KV
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache wraps next with a Redis-backed cache. A ttl of zero uses
// DefaultCacheTTL.
func NewCache(next Fetcher, rdb KV, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

func (c *Cache) Fetch(ctx context.Context, url string) ([]byte, error) {
	key := cacheKey(url)

	body, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		metrics.FetchCache("hit")
		return body, nil
	case errors.Is(err, redis.Nil):
		metrics.FetchCache("miss")
	default:
		metrics.FetchCache("error")
		if c.logger != nil {
			c.logger.Warn("fetch cache lookup failed", "url", url, "err", err)
		}
	}

	body, err = c.next.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	if err := c.rdb.Set(ctx, key, body, c.ttl).Err(); err != nil && c.logger != nil {
		c.logger.Warn("fetch cache store failed", "url", url, "err", err)
	}
	return body, nil
}
