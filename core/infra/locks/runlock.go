// Package locks provides a Redis-backed run lock so two orchestrator
// instances never execute the same run concurrently.
package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 2 * time.Minute

// RunLock is a per-run mutual exclusion lock with a TTL so a crashed holder
// cannot wedge a run forever.
type RunLock struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRunLock wraps a Redis client. ttl <= 0 keeps the default.
func NewRunLock(client redis.UniversalClient, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RunLock{client: client, ttl: ttl}
}

// Acquire takes the lock for a run. Returns false when another owner holds
// it. Re-acquiring by the same owner refreshes the TTL.
func (l *RunLock) Acquire(ctx context.Context, runID, owner string) (bool, error) {
	if runID == "" || owner == "" {
		return false, fmt.Errorf("run id and owner required")
	}
	ok, err := l.client.SetNX(ctx, lockKey(runID), owner, l.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	holder, err := l.client.Get(ctx, lockKey(runID)).Result()
	if err != nil {
		return false, err
	}
	if holder != owner {
		return false, nil
	}
	return true, l.client.Expire(ctx, lockKey(runID), l.ttl).Err()
}

// Release drops the lock if the owner still holds it.
func (l *RunLock) Release(ctx context.Context, runID, owner string) error {
	holder, err := l.client.Get(ctx, lockKey(runID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if holder != owner {
		return nil
	}
	return l.client.Del(ctx, lockKey(runID)).Err()
}

// Holder returns the current lock owner, or empty when unlocked.
func (l *RunLock) Holder(ctx context.Context, runID string) (string, error) {
	holder, err := l.client.Get(ctx, lockKey(runID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return holder, err
}

func lockKey(runID string) string {
	return "plan:runlock:" + runID
}
