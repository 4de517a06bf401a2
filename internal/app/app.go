package app

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/expiry-discount/internal/analytics"
	"github.com/noah-isme/expiry-discount/internal/audit"
	"github.com/noah-isme/expiry-discount/internal/cache"
	"github.com/noah-isme/expiry-discount/internal/catalog"
	"github.com/noah-isme/expiry-discount/internal/config"
	"github.com/noah-isme/expiry-discount/internal/discount"
	"github.com/noah-isme/expiry-discount/internal/events"
	"github.com/noah-isme/expiry-discount/internal/health"
	"github.com/noah-isme/expiry-discount/internal/inventory"
	"github.com/noah-isme/expiry-discount/internal/lock"
	"github.com/noah-isme/expiry-discount/internal/notify"
	"github.com/noah-isme/expiry-discount/internal/obs"
	"github.com/noah-isme/expiry-discount/internal/repo"
	"github.com/noah-isme/expiry-discount/internal/resilience"
	"github.com/noah-isme/expiry-discount/internal/rules"
)

// App holds the services shared by the API, the worker and the seeder.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	Pool  *pgxpool.Pool
	Redis *redis.Client
	Store repo.Store

	Bus        *events.Bus
	Engine     *discount.Engine
	Analytics  *analytics.Service
	Catalog    *catalog.Service
	Inventory  *inventory.Service
	Rules      *rules.Service
	Audit      *audit.Service
	AuditStore audit.Store
	Webhooks   *notify.Dispatcher

	closers []func()
}

// New connects the configured backends and wires every service. Without
// DATABASE_URL the in-memory store is used; without REDIS_URL the cache,
// shared run lock and last-run mirror are disabled.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, service string) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	if cfg.UsesPostgres() {
		pool, err := OpenPool(ctx, cfg.DatabaseURL, service)
		if err != nil {
			return nil, err
		}
		a.Pool = pool
		a.closers = append(a.closers, pool.Close)
		a.Store = repo.NewPostgresStore(pool)
		a.AuditStore = audit.PostgresStore{Pool: pool}
	} else {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory store")
		a.Store = repo.NewMemoryStore()
		a.AuditStore = audit.NewMemoryStore(1000)
	}

	if cfg.UsesRedis() {
		rdb, err := OpenRedis(ctx, cfg.RedisURL, cfg.MetricsEnabled, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = rdb
		a.closers = append(a.closers, func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		})
	}

	breaker := resilience.NewBreaker(cfg.CacheBreakerMinRequests, cfg.CacheBreakerFailureRate, cfg.CacheBreakerOpenFor).
		WithTarget("redis_cache").
		WithLogger(obs.Component(logger, "breaker"))
	a.Analytics = &analytics.Service{
		Store:      a.Store,
		Cache:      cache.New(a.Redis, cfg.AnalyticsCacheTTL).WithBreaker(breaker),
		WindowDays: cfg.AnalyticsSoonExpiringDays,
		Limit:      cfg.AnalyticsSoonExpiringLimit,
		Logger:     obs.Component(logger, "analytics"),
	}

	notifiers := []events.Notifier{
		a.Analytics.Notifier(),
		logNotifier(obs.Component(logger, "events")),
	}
	if len(cfg.WebhookURLs) > 0 {
		webhooks, err := a.newWebhooks()
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Webhooks = webhooks
		notifiers = append(notifiers, webhooks)
	}
	a.Bus = &events.Bus{Notifiers: notifiers}

	a.Engine = &discount.Engine{
		Store: a.Store,
		Gate: &discount.Gate{
			Locker: lock.Locker{R: a.Redis},
			Key:    cfg.DiscountLockKey,
			TTL:    cfg.DiscountLockTTL,
		},
		Events:         a.Bus,
		LastRuns:       discount.LastRunCache{R: a.Redis, TTL: cfg.DiscountLastRunTTL},
		Logger:         obs.Component(logger, "discount"),
		Workers:        cfg.DiscountWorkers,
		Timeout:        cfg.DiscountRunTimeout,
		ExcludeExpired: cfg.ExcludeExpired(),
	}

	catalogSvc, err := catalog.NewService(catalog.ServiceConfig{Store: a.Store, Events: a.Bus})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Catalog = catalogSvc
	a.Inventory = &inventory.Service{Store: a.Store, Events: a.Bus}
	a.Rules = &rules.Service{Store: a.Store, Events: a.Bus}
	a.Audit = &audit.Service{Store: a.AuditStore, Enabled: cfg.AuditEnabled, SamplingRate: cfg.AuditSamplingRate}
	return a, nil
}

// newWebhooks builds the outbound webhook dispatcher. With Redis the
// deliveries are queued for the worker; otherwise they go out in-process.
func (a *App) newWebhooks() (*notify.Dispatcher, error) {
	cfg := a.Config
	endpoints, err := notify.ParseEndpoints(cfg.WebhookURLs, cfg.WebhookSecret, cfg.WebhookTopics)
	if err != nil {
		return nil, err
	}
	logger := obs.Component(a.Logger, "webhooks")
	d := &notify.Dispatcher{
		Endpoints: endpoints,
		Client:    notify.HTTPClient(cfg.WebhookTimeout),
		Breaker: resilience.NewBreaker(cfg.CacheBreakerMinRequests, cfg.CacheBreakerFailureRate, cfg.CacheBreakerOpenFor).
			WithTarget("webhook").
			WithLogger(logger),
		Attempts: cfg.WebhookMaxAttempts,
		Logger:   logger,
	}
	if a.Redis != nil {
		d.Replay = notify.RedisReplayProtector{Client: a.Redis}
		d.ReplayTTL = cfg.WebhookReplayTTL
		d.Queue = asynq.NewClientFromRedisClient(a.Redis)
	}
	a.closers = append(a.closers, d.Wait)
	return d, nil
}

// Close releases every backend connection opened by New.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Probes returns the readiness probes for the configured backends.
func (a *App) Probes() map[string]health.Probe {
	probes := map[string]health.Probe{"store": health.StoreProbe(a.Store)}
	if a.Redis != nil {
		probes["redis"] = health.RedisProbe(a.Redis)
	}
	return probes
}

// OpenPool connects to Postgres with query tracing, retrying while the database starts.
func OpenPool(ctx context.Context, databaseURL, service string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = service

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := resilience.Retry(ctx, 5, 200*time.Millisecond, pool.Ping); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// OpenRedis connects to Redis with OpenTelemetry instrumentation.
func OpenRedis(ctx context.Context, redisURL string, metrics bool, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := resilience.Retry(ctx, 5, 200*time.Millisecond, ping); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func logNotifier(logger zerolog.Logger) events.Notifier {
	return events.NotifierFunc(func(_ context.Context, ev events.Event) error {
		logger.Debug().
			Str("topic", ev.Topic).
			Str("aggregate_id", ev.AggregateID).
			Str("event_id", ev.ID.String()).
			Msg("domain event")
		return nil
	})
}
