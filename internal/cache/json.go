package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/expiry-discount/internal/resilience"
)

// JSON wraps Redis helpers for JSON payloads. A nil client turns every call into a no-op.
type JSON struct {
	client  *redis.Client
	ttl     time.Duration
	breaker *resilience.Breaker
}

// New constructs a cache helper.
func New(client *redis.Client, ttl time.Duration) *JSON {
	return &JSON{client: client, ttl: ttl}
}

// WithBreaker guards every Redis call with b. An open breaker surfaces
// resilience.ErrOpenCircuit without touching Redis.
func (c *JSON) WithBreaker(b *resilience.Breaker) *JSON {
	c.breaker = b
	return c
}

func (c *JSON) guard(ctx context.Context, fn func() error) error {
	return c.breaker.Do(ctx, fn, func(err error) bool { return errors.Is(err, redis.Nil) })
}

// Enabled reports whether reads and writes reach Redis.
func (c *JSON) Enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

// Key joins non-empty parts with ':'.
func Key(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ":")
}

// GetJSON unmarshals a cached JSON payload into dst. It reports whether the key existed.
func (c *JSON) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if !c.Enabled() || key == "" {
		return false, nil
	}
	var data []byte
	err := c.guard(ctx, func() error {
		var err error
		data, err = c.client.Get(ctx, key).Bytes()
		return err
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON serialises v as JSON and stores it with the configured TTL.
func (c *JSON) SetJSON(ctx context.Context, key string, v any) error {
	if !c.Enabled() || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.guard(ctx, func() error {
		return c.client.Set(ctx, key, data, c.ttl).Err()
	})
}

// Counter returns the integer stored at key, or zero when it is missing.
func (c *JSON) Counter(ctx context.Context, key string) (int64, error) {
	if !c.Enabled() || key == "" {
		return 0, nil
	}
	var n int64
	err := c.guard(ctx, func() error {
		var err error
		n, err = c.client.Get(ctx, key).Int64()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Incr bumps the counter at key. Counters carry no TTL.
func (c *JSON) Incr(ctx context.Context, key string) error {
	if !c.Enabled() || key == "" {
		return nil
	}
	return c.guard(ctx, func() error {
		return c.client.Incr(ctx, key).Err()
	})
}

// DeletePrefix removes every key starting with prefix.
func (c *JSON) DeletePrefix(ctx context.Context, prefix string) error {
	if !c.Enabled() || prefix == "" {
		return nil
	}
	return c.guard(ctx, func() error {
		iter := c.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		return c.client.Del(ctx, keys...).Err()
	})
}
