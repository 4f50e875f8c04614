package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/drblury/bifrost/internal/runtime/jsoncodec"
)

// RedisCache keeps responses in Redis as JSON with a TTL.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache connects with a redis:// URL and pings the server.
func NewRedisCache(ctx context.Context, url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisCache{rdb: rdb}, nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (r *RedisCache) Get(ctx context.Context, key string) (*Response, bool, error) {
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis: get: %w", err)
	}
	var resp Response
	if err := jsoncodec.Unmarshal(raw, &resp); err != nil {
		return nil, false, fmt.Errorf("redis: decode cached response: %w", err)
	}
	return &resp, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, resp *Response, ttl time.Duration) error {
	raw, err := jsoncodec.Marshal(resp)
	if err != nil {
		return fmt.Errorf("redis: encode response: %w", err)
	}
	if err := r.rdb.SetEx(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set: %w", err)
	}
	return nil
}

func (r *RedisCache) Close() error {
	return r.rdb.Close()
}
