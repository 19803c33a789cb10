package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// FeedCache stores raw feed bodies in Redis for a short TTL so repeated
// runs within the window do not hammer the feed endpoint. Cache failures
// are logged and treated as misses.
type FeedCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// NewFeedCache wraps an existing Redis client. A zero TTL disables caching.
func NewFeedCache(rdb *redis.Client, ttl time.Duration, logger *log.Logger) *FeedCache {
	if rdb == nil || ttl <= 0 {
		return nil
	}
	if logger == nil {
		logger = log.Default()
	}
	return &FeedCache{rdb: rdb, ttl: ttl, logger: logger}
}

// ConnectRedis opens and verifies a Redis connection.
func ConnectRedis(ctx context.Context, addr, password string, db int, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: timeout,
		Password:    password,
		DB:          db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (c *FeedCache) key(feedURL string) string {
	sum := sha256.Sum256([]byte(feedURL))
	return "feedbuffet:feed:" + hex.EncodeToString(sum[:8])
}

// Get returns a cached body and whether it was present.
func (c *FeedCache) Get(ctx context.Context, feedURL string) (string, bool) {
	body, err := c.rdb.Get(ctx, c.key(feedURL)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		c.logger.Printf("feed cache read failed: %v", err)
		return "", false
	}
	return body, true
}

// Set stores a body under the feed URL for the cache TTL.
func (c *FeedCache) Set(ctx context.Context, feedURL, body string) {
	if err := c.rdb.Set(ctx, c.key(feedURL), body, c.ttl).Err(); err != nil {
		c.logger.Printf("feed cache write failed: %v", err)
	}
}
