package app

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/expiry-discount/internal/discount"
	"github.com/noah-isme/expiry-discount/internal/domain"
	"github.com/noah-isme/expiry-discount/internal/obs"
)

// TaskScheduledRun is the asynq task type for periodic calculation runs.
const TaskScheduledRun = "discount:scheduled_run"

// NewScheduledRunTask builds the periodic task. Unique keeps a slow run from
// stacking up duplicates in the queue.
func NewScheduledRunTask(runTimeout time.Duration) *asynq.Task {
	return asynq.NewTask(TaskScheduledRun, nil,
		asynq.MaxRetry(2),
		asynq.Timeout(runTimeout+30*time.Second),
		asynq.Unique(time.Hour),
	)
}

// ScheduledRunHandler runs the engine for each scheduled task. A run already
// in progress elsewhere is skipped rather than retried.
func (a *App) ScheduledRunHandler() asynq.HandlerFunc {
	logger := obs.Component(a.Logger, "scheduler")
	return func(ctx context.Context, _ *asynq.Task) error {
		summary, err := a.Engine.Run(ctx, discount.TriggerScheduled)
		switch {
		case err == nil:
			observeScheduled("ok")
			logger.Info().Str("run_id", summary.RunID).Int("processed", summary.Processed).Msg("scheduled run finished")
			return nil
		case errors.Is(err, domain.ErrRunInProgress):
			observeScheduled("skipped")
			logger.Info().Msg("scheduled run skipped, another run holds the lock")
			return nil
		default:
			observeScheduled("error")
			logger.Error().Err(err).Msg("scheduled run failed")
			return err
		}
	}
}

// RegisterSchedule registers the periodic run on cron.
func (a *App) RegisterSchedule(scheduler *asynq.Scheduler, cron string) (string, error) {
	return scheduler.Register(cron, NewScheduledRunTask(a.Config.DiscountRunTimeout))
}

func observeScheduled(result string) {
	if obs.ScheduledRunsTotal != nil {
		obs.ScheduledRunsTotal.WithLabelValues(result).Inc()
	}
}
