package attempts

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	failureKeyPrefix = "attempts:fail:"
	lockoutKeyPrefix = "attempts:lock:"
)

// RedisTracker is a Redis-backed attempt tracker for multi-instance
// deployments. The failure counter uses INCR with a window TTL set on
// first increment (fixed window); the lockout is a separate key whose
// TTL is the remaining lockout time. Starting a lockout deletes the
// counter so lockout expiry starts a fresh window.
type RedisTracker struct {
	client *redis.Client
	cfg    Config
}

// NewRedisTracker creates a Redis-backed attempt tracker
func NewRedisTracker(client *redis.Client, cfg Config) *RedisTracker {
	return &RedisTracker{client: client, cfg: cfg}
}

// IsLockedOut reports whether the key is locked out and for how long
func (t *RedisTracker) IsLockedOut(ctx context.Context, key string) (bool, time.Duration, error) {
	remaining, err := t.client.TTL(ctx, lockoutKeyPrefix+key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to check lockout: %w", err)
	}
	if remaining > 0 {
		return true, remaining, nil
	}
	return false, 0, nil
}

// RecordFailure increments the windowed failure counter and starts a
// lockout when the threshold is reached. SETNX keeps the lockout expiry
// fixed under concurrent failures.
func (t *RedisTracker) RecordFailure(ctx context.Context, key string) error {
	failKey := failureKeyPrefix + key

	count, err := t.client.Incr(ctx, failKey).Result()
	if err != nil {
		return fmt.Errorf("failed to increment failure count: %w", err)
	}
	if count == 1 {
		if err := t.client.Expire(ctx, failKey, t.cfg.Window).Err(); err != nil {
			return fmt.Errorf("failed to set failure window: %w", err)
		}
	}

	if count >= int64(t.cfg.MaxAttempts) {
		set, err := t.client.SetNX(ctx, lockoutKeyPrefix+key, "1", t.cfg.Lockout).Result()
		if err != nil {
			return fmt.Errorf("failed to set lockout: %w", err)
		}
		if set {
			// Fresh window once the lockout expires
			if err := t.client.Del(ctx, failKey).Err(); err != nil {
				return fmt.Errorf("failed to reset failure count: %w", err)
			}
		}
	}
	return nil
}

// RecordSuccess is a no-op: successes do not launder the failure window
func (t *RedisTracker) RecordSuccess(_ context.Context, _ string) error {
	return nil
}

// Reset clears all attempt state for a key (admin action)
func (t *RedisTracker) Reset(ctx context.Context, key string) error {
	if err := t.client.Del(ctx, failureKeyPrefix+key, lockoutKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to reset attempts: %w", err)
	}
	return nil
}
