// Package lock provides a Redis-backed mutual exclusion primitive for
// batch runs that must not overlap across processes.
// This is part of the platform layer and contains no business logic.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when another holder owns the lock.
var ErrNotAcquired = errors.New("lock held by another process")

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker hands out TTL-bounded locks stored as plain Redis keys.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker creates a locker using the given client. Keys are namespaced with prefix.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// NewRedisLockerFromURL parses a redis:// URL and creates a locker.
func NewRedisLockerFromURL(redisURL, prefix string) (*RedisLocker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisLocker(redis.NewClient(opt), prefix), nil
}

// Acquire takes the named lock for ttl. The returned func releases it.
func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	key := l.prefix + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return func(releaseCtx context.Context) error {
		return releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}, nil
}

// Close closes the underlying client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
