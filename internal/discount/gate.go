package discount

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/noah-isme/expiry-discount/internal/domain"
	"github.com/noah-isme/expiry-discount/internal/lock"
)

// Gate admits one calculation run at a time. The process-local mutex covers
// a single binary; the Redis lock, when configured, covers the API and the
// worker together. A busy gate rejects instead of queueing.
type Gate struct {
	Locker lock.Locker
	Key    string
	TTL    time.Duration

	mu sync.Mutex
}

// Acquire returns a release function or domain.ErrRunInProgress.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	if !g.mu.TryLock() {
		return nil, domain.ErrRunInProgress
	}
	if !g.Locker.Enabled() {
		return g.mu.Unlock, nil
	}
	key := g.Key
	if key == "" {
		key = "discount:run:lock"
	}
	release, err := g.Locker.TryLock(ctx, key, g.TTL)
	if err != nil {
		g.mu.Unlock()
		if errors.Is(err, lock.ErrHeld) {
			return nil, domain.ErrRunInProgress
		}
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	return func() {
		release()
		g.mu.Unlock()
	}, nil
}
