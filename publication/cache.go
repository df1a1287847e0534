package publication

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache holds recent publication listings keyed by page size.
// Implementations must tolerate concurrent use.
type Cache interface {
	Load(ctx context.Context, limit int) ([]Entry, bool, error)
	Save(ctx context.Context, limit int, entries []Entry) error
	Invalidate(ctx context.Context) error
}

const defaultCacheKey = "creditline:published"

// RedisCache stores listings in a single redis hash so one DEL drops
// every page size at once.
type RedisCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(ctx context.Context, redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return NewRedisCacheFromClient(client, ttl), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, key: defaultCacheKey, ttl: ttl}
}

// Load returns the cached listing for limit, if any.
func (c *RedisCache) Load(ctx context.Context, limit int) ([]Entry, bool, error) {
	raw, err := c.client.HGet(ctx, c.key, strconv.Itoa(limit)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false, err
	}
	return entries, true, nil
}

// Save stores a listing. The whole hash expires after the configured TTL.
func (c *RedisCache) Save(ctx context.Context, limit int, entries []Entry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, c.key, strconv.Itoa(limit), raw)
	if c.ttl > 0 {
		pipe.Expire(ctx, c.key, c.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Invalidate drops every cached listing.
func (c *RedisCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}

// Ping checks the redis connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
