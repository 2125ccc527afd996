package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/24hmood24/checkserialnum/config"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const lockRetryInterval = 25 * time.Millisecond

// releaseScript deletes a lease only if it is still held by the caller.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// Cache wraps the Redis client. It backs the shared certificate counter and
// the per-serial lease locks.
type Cache struct {
	client  *redis.Client
	lockTTL time.Duration
	logger  *logrus.Logger
}

// NewCache creates a new cache connection.
func NewCache(cfg config.RedisConfig, logger *logrus.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Cache{client: client, lockTTL: ttl, logger: logger}, nil
}

// SetNX stores value only if key does not exist yet.
func (c *Cache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, expiration).Result()
}

// Incr atomically increments the integer stored at key.
func (c *Cache) Incr(ctx context.Context, key string) (int64, error) {
	return c.client.Incr(ctx, key).Result()
}

// Lock acquires a lease on key, polling until it is free or ctx is done. The
// lease expires on its own after the configured TTL so a crashed holder
// cannot block a serial forever.
func (c *Cache) Lock(ctx context.Context, key string) (func(), error) {
	leaseKey := "checkserial:lock:" + key
	token := uuid.NewString()

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		ok, err := c.client.SetNX(ctx, leaseKey, token, c.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() {
		// The caller's context may already be cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, c.client, []string{leaseKey}, token).Err(); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("Failed to release lock")
		}
	}, nil
}

// Ping checks that Redis answers.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the cache connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
