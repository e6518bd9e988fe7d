package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RunLockKeyPrefix is the prefix for short-lived run locks.
// Format: tradegate:lock:{run kind}
const RunLockKeyPrefix = "tradegate:lock"

// releaseScript deletes the lock only if it still holds our token, so a run
// that outlived its TTL cannot release a lock acquired by a newer run.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock provides mutual exclusion between overlapping scheduled runs.
// Locks have a bounded TTL: a crashed holder blocks at most one window.
type RunLock struct {
	client *redis.Client
}

// NewRunLock creates a run lock on the given client.
func NewRunLock(client *redis.Client) *RunLock {
	return &RunLock{client: client}
}

// Acquire tries to take the named lock for ttl, tagged with token.
// Returns false when another run holds it.
func (l *RunLock) Acquire(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("%s:%s", RunLockKeyPrefix, name)
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock %s: %w", name, err)
	}
	return ok, nil
}

// Release frees the named lock if it is still held under token.
func (l *RunLock) Release(ctx context.Context, name, token string) error {
	key := fmt.Sprintf("%s:%s", RunLockKeyPrefix, name)
	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release run lock %s: %w", name, err)
	}
	return nil
}
