// Package worker runs the background side of bookings: delivering queued webhook and invite jobs
// and periodically releasing external events of cancelled bookings.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-booking/backend/internal/metrics"
	"github.com/aura-booking/backend/pkg/queue"
)

// JobSource is the part of the job queue the processor consumes.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// WebhookDeliverer sends one webhook payload.
type WebhookDeliverer interface {
	Deliver(ctx context.Context, p queue.WebhookDeliveryPayload) error
}

// InviteArchiver stores one invite revision.
type InviteArchiver interface {
	Archive(ctx context.Context, p queue.InviteArchivePayload) (string, error)
}

// Processor executes webhook delivery and invite archive jobs.
type Processor struct {
	webhooks WebhookDeliverer
	invites  InviteArchiver
	queue    JobSource
	backoff  time.Duration
	logger   *zap.Logger
}

// NewProcessor creates a job processor.
func NewProcessor(webhooks WebhookDeliverer, invites InviteArchiver, q JobSource, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{webhooks: webhooks, invites: invites, queue: q, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeWebhookDelivery:
		var payload queue.WebhookDeliveryPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.webhooks.Deliver(ctx, payload)
	case queue.JobTypeInviteArchive:
		var payload queue.InviteArchivePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		_, err := p.invites.Archive(ctx, payload)
		return err
	}
	return fmt.Errorf("%w: %s", queue.ErrUnknownJobType, job.Type)
}

func (p *Processor) wait(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run starts the worker loop: dequeue, process, retry on error. It returns when ctx is done.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("job worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.wait(ctx)
			continue
		}
		if job == nil {
			continue
		}

		log := p.logger.With(zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Int("attempt", job.Attempt))
		log.Debug("processing job")
		err = p.Process(ctx, job)
		metrics.ObserveJob(string(job.Type), err)
		if err != nil {
			log.Error("job failed", zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				log.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.wait(ctx)
		}
	}
}
