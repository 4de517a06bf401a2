package analytics

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/expiry-discount/internal/cache"
	"github.com/noah-isme/expiry-discount/internal/domain"
	"github.com/noah-isme/expiry-discount/internal/events"
	"github.com/noah-isme/expiry-discount/internal/obs"
)

const (
	cachePrefix   = "an:discounts:"
	generationKey = "an:generation"
)

// Snapshotter reads a consistent view of products, batches and priced items.
type Snapshotter interface {
	Snapshot(ctx context.Context) (domain.Snapshot, error)
}

// Service serves analytics reports, cached in Redis until the next change.
type Service struct {
	Store      Snapshotter
	Cache      *cache.JSON
	WindowDays int
	Limit      int
	Now        func() time.Time
	Logger     zerolog.Logger

	group singleflight.Group
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) window() int {
	if s.WindowDays <= 0 {
		return DefaultWindowDays
	}
	return s.WindowDays
}

// Report returns the analytics payload for today. Cached entries are keyed by
// calendar day since days_until_expiry moves with the date.
func (s *Service) Report(ctx context.Context) (Report, error) {
	if s == nil || s.Store == nil {
		return Report{}, errors.New("analytics service not configured")
	}
	now := s.now()
	// Reports computed before an invalidation land under the old generation
	// and are never read again.
	key := ""
	if gen, err := s.Cache.Counter(ctx, generationKey); err != nil {
		s.Logger.Warn().Err(err).Msg("analytics cache generation")
	} else {
		key = cachePrefix + cache.Key(strconv.FormatInt(gen, 10), domain.FormatDate(now), strconv.Itoa(s.window()), strconv.Itoa(s.Limit))
	}

	var cached Report
	if ok, err := s.Cache.GetJSON(ctx, key, &cached); err != nil {
		s.Logger.Warn().Err(err).Str("key", key).Msg("analytics cache read")
	} else if ok {
		obs.ObserveAnalyticsCache(true)
		return cached, nil
	}
	obs.ObserveAnalyticsCache(false)

	flight := key
	if flight == "" {
		flight = "uncached"
	}
	v, err, _ := s.group.Do(flight, func() (any, error) {
		snap, err := s.Store.Snapshot(ctx)
		if err != nil {
			return Report{}, err
		}
		report := Aggregate(snap, now, s.window(), s.Limit)
		if err := s.Cache.SetJSON(ctx, key, report); err != nil {
			s.Logger.Warn().Err(err).Str("key", key).Msg("analytics cache write")
		}
		return report, nil
	})
	if err != nil {
		return Report{}, err
	}
	return v.(Report), nil
}

// Invalidate moves the cache to a new generation and drops every cached report.
func (s *Service) Invalidate(ctx context.Context) error {
	if err := s.Cache.Incr(ctx, generationKey); err != nil {
		return err
	}
	return s.Cache.DeletePrefix(ctx, cachePrefix)
}

// Notifier invalidates the cache whenever priced state or its inputs change.
func (s *Service) Notifier() events.Notifier {
	return events.OnTopics(events.NotifierFunc(func(ctx context.Context, _ events.Event) error {
		return s.Invalidate(ctx)
	}), events.DefaultTopics()...)
}
