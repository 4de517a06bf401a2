package discount

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const lastRunKey = "discount:last_run"

// LastRunCache mirrors the latest summary to Redis so the API can report
// runs executed by the worker.
type LastRunCache struct {
	R   *redis.Client
	TTL time.Duration
}

// Save stores the summary. A nil client is a no-op.
func (c LastRunCache) Save(ctx context.Context, s Summary) error {
	if c.R == nil {
		return nil
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.R.Set(ctx, lastRunKey, payload, c.TTL).Err()
}

// Load returns the mirrored summary, reporting false when none is stored.
func (c LastRunCache) Load(ctx context.Context) (Summary, bool, error) {
	if c.R == nil {
		return Summary{}, false, nil
	}
	raw, err := c.R.Get(ctx, lastRunKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return Summary{}, false, nil
	}
	if err != nil {
		return Summary{}, false, err
	}
	var s Summary
	if err := json.Unmarshal(raw, &s); err != nil {
		return Summary{}, false, err
	}
	return s, true, nil
}
