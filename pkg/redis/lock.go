package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker implements a best-effort distributed lock using Redis SET NX
// ⭐ SSOT: 파이프라인 중복 실행 방지는 여기서만
type Locker struct {
	client *Client
	prefix string
}

// NewLocker creates a new locker
func NewLocker(client *Client, prefix string) *Locker {
	return &Locker{
		client: client,
		prefix: prefix,
	}
}

// releaseScript deletes the key only when it still holds our token
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Acquire tries to take the lock named key for ttl.
// Returns (acquired, release func, error). When Redis is disabled the lock is
// always granted and release is a no-op.
func (l *Locker) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !l.client.Enabled() {
		return true, noop, nil
	}

	fullKey := Key(l.prefix, "lock", key)
	ok, err := l.client.rdb.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return false, noop, fmt.Errorf("lock acquire failed: %w", err)
	}
	if !ok {
		return false, noop, nil
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client.rdb, []string{fullKey}, token).Err(); err != nil {
			return fmt.Errorf("lock release failed: %w", err)
		}
		return nil
	}
	return true, release, nil
}
