package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"fixit/internal/models"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// MaxDeliveryAttempts bounds email and SMS attempts per message.
const MaxDeliveryAttempts = 3

// TypeDeliverNotification is the asynq task type for outbound email and SMS.
const TypeDeliverNotification = "notification:deliver"

// DeliveryQueueName is the asynq queue the delivery worker listens on.
const DeliveryQueueName = "notifications"

// Delivery is one email or SMS waiting to be sent.
type Delivery struct {
	Channel   models.Channel          `json:"channel"`
	To        string                  `json:"to"`
	Subject   string                  `json:"subject,omitempty"`
	Body      string                  `json:"body"`
	Kind      models.NotificationKind `json:"kind"`
	Related   *models.ResourceRef     `json:"related,omitempty"`
	Recipient string                  `json:"recipient,omitempty"`
}

// DeliveryQueue hands deliveries to whatever sends them.
type DeliveryQueue interface {
	Enqueue(ctx context.Context, d Delivery) error
	Close() error
}

// Deliverer performs a single delivery attempt against the configured providers.
type Deliverer struct {
	email  Provider
	sms    Provider
	audit  AuditLogsService
	logger *logrus.Logger
}

func NewDeliverer(email, sms Provider, audit AuditLogsService, logger *logrus.Logger) *Deliverer {
	return &Deliverer{email: email, sms: sms, audit: audit, logger: logger}
}

func (d *Deliverer) Deliver(ctx context.Context, del Delivery) error {
	var provider Provider
	switch del.Channel {
	case models.ChannelEmail:
		provider = d.email
	case models.ChannelSMS:
		provider = d.sms
	default:
		return fmt.Errorf("unsupported delivery channel %q", del.Channel)
	}
	if provider == nil {
		return fmt.Errorf("no provider configured for %s", del.Channel)
	}
	return provider.Send(ctx, &Message{To: del.To, Subject: del.Subject, Body: del.Body})
}

// ReportFailure records a delivery that exhausted its attempts.
func (d *Deliverer) ReportFailure(ctx context.Context, del Delivery, err error) {
	d.logger.WithFields(logrus.Fields{
		"channel": del.Channel,
		"kind":    del.Kind,
		"to":      del.To,
	}).WithError(err).Error("notification delivery failed")

	var (
		kind      string
		relatedID *uuid.UUID
	)
	if del.Related != nil {
		kind = del.Related.Kind
		relatedID = &del.Related.ID
	}
	entry := failureEntry(models.AuditNotificationFailure, nil, kind, relatedID,
		fmt.Sprintf("%s delivery of %s failed after %d attempts", del.Channel, del.Kind, MaxDeliveryAttempts), err)
	entry.Metadata["channel"] = string(del.Channel)
	entry.Metadata["kind"] = string(del.Kind)
	if del.Recipient != "" {
		entry.Metadata["recipient"] = del.Recipient
	}
	d.audit.Record(ctx, nil, entry)
}

// InlineQueue sends deliveries from a goroutine with capped exponential
// backoff. It serves deployments without Redis.
type InlineQueue struct {
	deliverer *Deliverer
	backoff   time.Duration
	wg        sync.WaitGroup
}

func NewInlineQueue(deliverer *Deliverer, backoff time.Duration) *InlineQueue {
	return &InlineQueue{deliverer: deliverer, backoff: backoff}
}

func (q *InlineQueue) Enqueue(ctx context.Context, d Delivery) error {
	ctx = context.WithoutCancel(ctx)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.run(ctx, d)
	}()
	return nil
}

func (q *InlineQueue) run(ctx context.Context, d Delivery) {
	var err error
	for attempt := 1; attempt <= MaxDeliveryAttempts; attempt++ {
		if err = q.deliverer.Deliver(ctx, d); err == nil {
			return
		}
		if attempt < MaxDeliveryAttempts && q.backoff > 0 {
			time.Sleep(q.backoff << (attempt - 1))
		}
	}
	q.deliverer.ReportFailure(ctx, d, err)
}

// Wait blocks until every queued delivery has finished.
func (q *InlineQueue) Wait() { q.wg.Wait() }

func (q *InlineQueue) Close() error {
	q.wg.Wait()
	return nil
}

// NewDeliveryTask wraps a delivery as an asynq task.
func NewDeliveryTask(d Delivery) (*asynq.Task, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDeliverNotification, data), nil
}

// ParseDeliveryTask is the inverse of NewDeliveryTask.
func ParseDeliveryTask(t *asynq.Task) (Delivery, error) {
	var d Delivery
	if err := json.Unmarshal(t.Payload(), &d); err != nil {
		return d, fmt.Errorf("failed to unmarshal delivery payload: %w", err)
	}
	return d, nil
}

// AsynqQueue enqueues deliveries on Redis for the worker process.
type AsynqQueue struct {
	client  *asynq.Client
	timeout time.Duration
}

func NewAsynqQueue(client *asynq.Client, timeout time.Duration) *AsynqQueue {
	return &AsynqQueue{client: client, timeout: timeout}
}

func (q *AsynqQueue) Enqueue(ctx context.Context, d Delivery) error {
	task, err := NewDeliveryTask(d)
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.Queue(DeliveryQueueName),
		asynq.MaxRetry(MaxDeliveryAttempts - 1),
	}
	if q.timeout > 0 {
		opts = append(opts, asynq.Timeout(q.timeout))
	}
	_, err = q.client.EnqueueContext(ctx, task, opts...)
	return err
}

func (q *AsynqQueue) Close() error {
	return q.client.Close()
}
