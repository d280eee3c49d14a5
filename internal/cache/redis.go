package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisCache stores entries in Redis with a TTL of Policy.MaxAge. The stored-at stamp is
// checked on read as well, so a shortened MaxAge applies to entries already written.
type RedisCache struct {
	client *redis.Client
	prefix string
	policy Policy
	logger *logrus.Entry
}

func NewRedisCache(client *redis.Client, prefix string, policy Policy, logger *logrus.Entry) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefix,
		policy: policy,
		logger: logger,
	}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (c *RedisCache) key(key string) string {
	return c.prefix + ":" + key
}

func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	fullKey := c.key(key)
	raw, err := c.client.Get(ctx, fullKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s from cache: %w", fullKey, err)
	}

	found, err := decode(raw, dest, c.policy, time.Now())
	if err != nil {
		return false, err
	}
	c.logger.WithFields(logrus.Fields{
		"cache_key": fullKey,
		"hit":       found,
	}).Debug("Cache lookup")
	return found, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}) error {
	raw, err := encode(value, time.Now())
	if err != nil {
		return err
	}
	fullKey := c.key(key)
	if err := c.client.Set(ctx, fullKey, raw, c.policy.MaxAge).Err(); err != nil {
		return fmt.Errorf("failed to set %s in cache: %w", fullKey, err)
	}
	c.logger.WithFields(logrus.Fields{
		"cache_key":  fullKey,
		"expiration": c.policy.MaxAge,
	}).Debug("Cached value")
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	fullKey := c.key(key)
	if err := c.client.Del(ctx, fullKey).Err(); err != nil {
		return fmt.Errorf("failed to delete %s from cache: %w", fullKey, err)
	}
	return nil
}

// Ping checks the connection for health reporting.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
