package jobs

import (
	"context"
	"fmt"
	"time"

	"fixit/internal/services"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Sender is the part of services.Deliverer the worker needs.
type Sender interface {
	Deliver(ctx context.Context, d services.Delivery) error
	ReportFailure(ctx context.Context, d services.Delivery, err error)
}

// DeliveryWorker consumes notification delivery tasks from asynq.
type DeliveryWorker struct {
	sender Sender
	logger *logrus.Logger
}

func NewDeliveryWorker(sender Sender, logger *logrus.Logger) *DeliveryWorker {
	return &DeliveryWorker{sender: sender, logger: logger}
}

// HandleDelivery sends one email or SMS. Errors make asynq retry the task;
// the last failed attempt is reported before the task is archived.
func (w *DeliveryWorker) HandleDelivery(ctx context.Context, t *asynq.Task) error {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		maxRetry = services.MaxDeliveryAttempts - 1
	}
	return w.handle(ctx, t, retried, maxRetry)
}

func (w *DeliveryWorker) handle(ctx context.Context, t *asynq.Task, retried, maxRetry int) error {
	d, err := services.ParseDeliveryTask(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	log := w.logger.WithFields(logrus.Fields{
		"channel": d.Channel,
		"kind":    d.Kind,
		"attempt": retried + 1,
	})
	if err := w.sender.Deliver(ctx, d); err != nil {
		if retried >= maxRetry {
			w.sender.ReportFailure(ctx, d, err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		log.WithError(err).Warn("notification delivery attempt failed")
		return err
	}
	log.Debug("notification delivered")
	return nil
}

// Register adds the worker's handlers to mux.
func (w *DeliveryWorker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(services.TypeDeliverNotification, w.HandleDelivery)
}

// DeliveryRetryDelay backs off exponentially from ten seconds.
func DeliveryRetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	if n > 6 {
		n = 6
	}
	return time.Duration(1<<n) * 10 * time.Second
}

// NewDeliveryServer builds the asynq server that drains the notification queue.
func NewDeliveryServer(redisOpt asynq.RedisClientOpt, concurrency int, logger *logrus.Logger) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 5
	}
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    concurrency,
		Queues:         map[string]int{services.DeliveryQueueName: 1},
		RetryDelayFunc: DeliveryRetryDelay,
		Logger:         logger,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.WithError(err).WithField("task_type", task.Type()).Debug("asynq task failed")
		}),
	})
}
