package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAdapter implements Cache using Redis.
type RedisAdapter struct {
	client *redis.Client
	prefix string
}

var _ Cache = (*RedisAdapter)(nil)

// RedisOption customises the adapter.
type RedisOption func(*RedisAdapter)

// WithKeyPrefix namespaces every key written by the adapter.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisAdapter) {
		r.prefix = prefix
	}
}

// NewRedisAdapter creates a Redis cache adapter from a redis:// URL.
func NewRedisAdapter(redisURL string, opts ...RedisOption) (*RedisAdapter, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	adapter := &RedisAdapter{client: redis.NewClient(options)}
	for _, opt := range opts {
		if opt != nil {
			opt(adapter)
		}
	}
	return adapter, nil
}

// Client exposes the underlying client for components sharing the connection pool.
func (r *RedisAdapter) Client() *redis.Client {
	return r.client
}

func (r *RedisAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get %s: %w", key, err)
	}
	return val, nil
}

func (r *RedisAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

func (r *RedisAdapter) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("cache: delete %s: %w", key, err)
	}
	return nil
}

func (r *RedisAdapter) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache: redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisAdapter) Close() error {
	return r.client.Close()
}
