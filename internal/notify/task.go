package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

// TaskDeliverWebhook is the asynq task type for one webhook delivery.
const TaskDeliverWebhook = "webhook:deliver"

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewDeliveryTask encodes a delivery as a task.
func NewDeliveryTask(delivery Delivery, maxRetry int) (*asynq.Task, error) {
	payload, err := json.Marshal(delivery)
	if err != nil {
		return nil, fmt.Errorf("encode webhook delivery: %w", err)
	}
	if maxRetry < 0 {
		maxRetry = 0
	}
	return asynq.NewTask(TaskDeliverWebhook, payload, asynq.MaxRetry(maxRetry)), nil
}

func (d *Dispatcher) enqueue(ctx context.Context, delivery Delivery) error {
	task, err := NewDeliveryTask(delivery, d.Attempts-1)
	if err != nil {
		return err
	}
	if _, err := d.Queue.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue webhook delivery: %w", err)
	}
	return nil
}

// TaskHandler processes queued deliveries. Rejected deliveries skip retry.
func (d *Dispatcher) TaskHandler() asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var delivery Delivery
		if err := json.Unmarshal(task.Payload(), &delivery); err != nil {
			return fmt.Errorf("decode webhook delivery: %v: %w", err, asynq.SkipRetry)
		}
		err := d.Deliver(ctx, delivery)
		if errors.Is(err, ErrRejected) {
			d.Logger.Warn().Err(err).Str("endpoint", delivery.EndpointURL).Msg("webhook rejected")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
}
