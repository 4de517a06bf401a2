package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotConfigured is returned when the locker has no Redis client.
	ErrNotConfigured = errors.New("lock: redis client not configured")
	// ErrHeld is returned by TryLock when another holder owns the key.
	ErrHeld = errors.New("lock: already held")
)

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`

// Locker provides a Redis-backed distributed lock shared by the API and the
// worker so a calculation run never overlaps another process's run.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
}

// Enabled reports whether a Redis client is attached.
func (l Locker) Enabled() bool { return l.R != nil }

// TryLock makes a single acquisition attempt. On success the returned
// function releases the lock; it only deletes the key if the token still matches.
func (l Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if l.R == nil {
		return nil, ErrNotConfigured
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	token := uuid.NewString()
	ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrHeld
	}
	return func() { l.release(context.Background(), key, token) }, nil
}

// WithLock executes fn while holding a lock for the provided key, retrying
// until the context is done. The lock is released even if fn fails.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}

	for {
		release, err := l.TryLock(ctx, key, ttl)
		switch {
		case err == nil:
			defer release()
			return fn(ctx)
		case !errors.Is(err, ErrHeld):
			return err
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l Locker) release(ctx context.Context, key, token string) {
	if err := l.R.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unknown command") {
			_ = l.R.Del(ctx, key).Err()
		}
	}
}
