package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/expiry-discount/internal/lock"
)

func newLocker(t *testing.T) (lock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}, mr
}

func TestTryLockRejectsSecondHolder(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	release, err := locker.TryLock(ctx, "discount:run", time.Minute)
	require.NoError(t, err)
	require.True(t, mr.Exists("discount:run"))

	_, err = locker.TryLock(ctx, "discount:run", time.Minute)
	require.True(t, errors.Is(err, lock.ErrHeld))

	release()
	require.False(t, mr.Exists("discount:run"))

	again, err := locker.TryLock(ctx, "discount:run", time.Minute)
	require.NoError(t, err)
	again()
}

func TestTryLockReleaseKeepsForeignToken(t *testing.T) {
	locker, mr := newLocker(t)
	release, err := locker.TryLock(context.Background(), "discount:run", time.Second)
	require.NoError(t, err)

	// Expire and let another holder take the key before the first releases.
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("discount:run", "someone-else"))
	release()

	got, err := mr.Get("discount:run")
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}

func TestTryLockWithoutClient(t *testing.T) {
	_, err := lock.Locker{}.TryLock(context.Background(), "k", time.Second)
	require.True(t, errors.Is(err, lock.ErrNotConfigured))
	require.False(t, lock.Locker{}.Enabled())
}

func TestWithLockSerializes(t *testing.T) {
	locker, _ := newLocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var order []string
	var mu sync.Mutex
	firstDone := make(chan struct{})
	releaseFirst := make(chan struct{})
	errs := make(chan error, 2)

	go func() {
		errs <- locker.WithLock(ctx, "demo", 500*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			close(firstDone)
			<-releaseFirst
			return nil
		})
	}()

	<-firstDone

	go func() {
		errs <- locker.WithLock(ctx, "demo", 500*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
	}()

	close(releaseFirst)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}
