package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueWebhooks is the Redis list key for webhook delivery jobs.
	QueueWebhooks = "worker:webhooks"
	// QueueInvites is the Redis list key for calendar invite archive jobs.
	QueueInvites = "worker:invites"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// dequeueTimeout bounds one BLPOP so shutdown is observed.
	dequeueTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeWebhookDelivery JobType = "webhook_delivery"
	JobTypeInviteArchive   JobType = "invite_archive"
)

// queueFor routes a job type to its list.
var queueFor = map[JobType]string{
	JobTypeWebhookDelivery: QueueWebhooks,
	JobTypeInviteArchive:   QueueInvites,
}

// ErrUnknownJobType is returned when enqueueing a type with no queue.
var ErrUnknownJobType = errors.New("unknown job type")

// WebhookDeliveryPayload is the payload for webhook delivery jobs.
type WebhookDeliveryPayload struct {
	SubscriptionID uuid.UUID       `json:"subscription_id"`
	Trigger        string          `json:"trigger"`
	Body           json.RawMessage `json:"body"`
}

// InviteArchivePayload is the payload for invite archive jobs.
type InviteArchivePayload struct {
	BookingID  uuid.UUID `json:"booking_id"`
	BookingUID string    `json:"booking_uid"`
	Trigger    string    `json:"trigger"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger, now: time.Now}
}

// Enqueue wraps payload in a job envelope and pushes it onto the queue for its type.
func (q *Queue) Enqueue(ctx context.Context, jobType JobType, payload interface{}) (*Job, error) {
	key, ok := queueFor[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	job := &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   body,
		CreatedAt: q.now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return nil, fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued job", zap.String("job_id", job.ID), zap.String("type", string(jobType)))
	return job, nil
}

// EnqueueWebhookDelivery enqueues a webhook delivery job.
func (q *Queue) EnqueueWebhookDelivery(ctx context.Context, payload WebhookDeliveryPayload) error {
	_, err := q.Enqueue(ctx, JobTypeWebhookDelivery, payload)
	return err
}

// EnqueueInviteArchive enqueues an invite archive job.
func (q *Queue) EnqueueInviteArchive(ctx context.Context, payload InviteArchivePayload) error {
	_, err := q.Enqueue(ctx, JobTypeInviteArchive, payload)
	return err
}

// Dequeue blocks until a job is available on any work queue, the timeout passes, or ctx is done.
// Returns the job and the key it came from; a nil job means nothing was ready.
func (q *Queue) Dequeue(ctx context.Context) (*Job, string, error) {
	result, err := q.client.BLPop(ctx, dequeueTimeout, QueueWebhooks, QueueInvites).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(result) < 2 {
		return nil, "", nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, "", nil
	}
	return &job, result[0], nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	key, ok := queueFor[job.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJobType, job.Type)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

// Length returns the number of pending jobs in a queue.
func (q *Queue) Length(ctx context.Context, key string) (int64, error) {
	return q.client.LLen(ctx, key).Result()
}
