package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"apex-api/internal/domain"
	"apex-api/internal/infra/metrics"
)

// RedisCache реализует domain.Cache через Redis.
type RedisCache struct {
	client *redis.Client
}

var _ domain.Cache = (*RedisCache)(nil)

// NewRedis создаёт кэш.
func NewRedis(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// NewClient создаёт клиента Redis по адресу.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// Get возвращает значение или domain.ErrCacheMiss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveNetworkRequest("redis", "get", "list_cache", start, nil)
		return nil, domain.ErrCacheMiss
	}
	metrics.ObserveNetworkRequest("redis", "get", "list_cache", start, err)
	return val, err
}

// Set задаёт значение.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.client.Set(ctx, key, value, ttl).Err()
	metrics.ObserveNetworkRequest("redis", "set", "list_cache", start, err)
	return err
}

// Incr увеличивает счётчик и возвращает новое значение.
func (c *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	val, err := c.client.Incr(ctx, key).Result()
	metrics.ObserveNetworkRequest("redis", "incr", "list_cache", start, err)
	return val, err
}

// Ping проверяет соединение.
func (c *RedisCache) Ping(ctx context.Context) error {
	start := time.Now()
	err := c.client.Ping(ctx).Err()
	metrics.ObserveNetworkRequest("redis", "ping", "list_cache", start, err)
	return err
}
