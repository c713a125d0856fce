package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-scheduling/internal/lock"
)

const defaultRetryInterval = 25 * time.Millisecond

// Locker is a lock.Locker backed by one Redis key per resource, so several
// api-server replicas serialise on the same doctor/date or bed.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
	log    *zap.Logger
}

// NewLocker creates a locker whose keys expire after ttl. Callers queue for
// at most wait before getting lock.ErrNotAcquired.
func NewLocker(client *redis.Client, ttl, wait time.Duration, log *zap.Logger) *Locker {
	return &Locker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		retry:  defaultRetryInterval,
		log:    log,
	}
}

func (l *Locker) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	keys = lock.Normalize(keys)
	token := uuid.NewString()

	acqCtx, cancelAcq := context.WithTimeout(ctx, l.wait)
	defer cancelAcq()

	held := make([]string, 0, len(keys))
	defer func() {
		// release even if the caller's context is already done
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := l.release(relCtx, held[i], token); err != nil {
				l.log.Warn("release lock", zap.String("key", held[i]), zap.Error(err))
			}
		}
	}()

	for _, key := range keys {
		redisKey := "lock:" + key
		if err := l.acquire(acqCtx, redisKey, token); err != nil {
			return err
		}
		held = append(held, redisKey)
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *Locker) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %s", lock.ErrNotAcquired, key)
			}
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", lock.ErrNotAcquired, key)
		case <-ticker.C:
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *Locker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
