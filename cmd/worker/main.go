package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/expiry-discount/internal/app"
	"github.com/noah-isme/expiry-discount/internal/config"
	"github.com/noah-isme/expiry-discount/internal/notify"
	"github.com/noah-isme/expiry-discount/internal/obs"
	"github.com/noah-isme/expiry-discount/internal/resilience"
)

const serviceName = "expiry-discount-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()
	if !cfg.UsesRedis() {
		logger.Fatal().Msg("REDIS_URL is required for the scheduled run worker")
	}
	if cfg.MetricsEnabled {
		obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
		resilience.MustRegisterMetrics(cfg.MetricsNamespace, nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	application, err := app.New(connectCtx, cfg, logger, serviceName)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise application")
	}
	defer application.Close()

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url for task queue")
	}
	taskLogger := asynqLogger{logger: obs.Component(logger, "asynq")}

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   taskLogger,
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("enqueue scheduled run")
				return
			}
			logger.Debug().Str("task_id", info.ID).Msg("scheduled run enqueued")
		},
	})
	if cfg.DiscountScheduleCron != "" {
		entryID, err := application.RegisterSchedule(scheduler, cfg.DiscountScheduleCron)
		if err != nil {
			logger.Fatal().Err(err).Str("cron", cfg.DiscountScheduleCron).Msg("register schedule")
		}
		logger.Info().Str("cron", cfg.DiscountScheduleCron).Str("entry_id", entryID).Msg("discount run scheduled")
	} else {
		logger.Warn().Msg("DISCOUNT_SCHEDULE_CRON empty, only queued tasks will run")
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.WorkerConcurrency,
		Logger:          taskLogger,
		ShutdownTimeout: cfg.ShutdownTimeout,
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Error().Err(err).Str("task", task.Type()).Msg("task failed")
		}),
	})
	mux := asynq.NewServeMux()
	mux.Handle(app.TaskScheduledRun, application.ScheduledRunHandler())
	if application.Webhooks != nil {
		mux.Handle(notify.TaskDeliverWebhook, application.Webhooks.TaskHandler())
	}

	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}
	if err := server.Start(mux); err != nil {
		scheduler.Shutdown()
		logger.Fatal().Err(err).Msg("start task server")
	}
	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")

	<-ctx.Done()
	logger.Info().Msg("worker shutting down")
	scheduler.Shutdown()
	server.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
