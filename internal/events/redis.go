package events

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-booking/backend/internal/models"
	"github.com/aura-booking/backend/pkg/queue"
)

// SubscriptionLister finds the webhook subscriptions interested in an event.
type SubscriptionLister interface {
	ListForTrigger(ctx context.Context, userID uuid.UUID, eventTypeID *uuid.UUID, trigger models.TriggerEvent) ([]models.WebhookSubscription, error)
}

// JobQueue is the part of the job queue the emitter uses.
type JobQueue interface {
	EnqueueWebhookDelivery(ctx context.Context, payload queue.WebhookDeliveryPayload) error
	EnqueueInviteArchive(ctx context.Context, payload queue.InviteArchivePayload) error
}

// Publisher relays events to organizer dashboards.
type Publisher interface {
	PublishOrganizerEvent(organizerID uuid.UUID, event string, payload []byte) error
}

// QueueEmitter turns events into webhook and invite jobs and pushes them to live dashboards.
type QueueEmitter struct {
	subs      SubscriptionLister
	jobs      JobQueue
	publisher Publisher
	logger    *zap.Logger
}

// NewQueueEmitter creates an emitter. publisher may be nil.
func NewQueueEmitter(subs SubscriptionLister, jobs JobQueue, publisher Publisher, logger *zap.Logger) *QueueEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueEmitter{subs: subs, jobs: jobs, publisher: publisher, logger: logger}
}

// archivesInvite reports whether a trigger changes what attendees hold in their calendars.
func archivesInvite(t models.TriggerEvent) bool {
	switch t {
	case models.TriggerBookingCreated, models.TriggerBookingRescheduled, models.TriggerBookingCancelled:
		return true
	}
	return false
}

// Emit implements Emitter. Failures are logged.
func (q *QueueEmitter) Emit(ctx context.Context, e Event) {
	log := q.logger.With(zap.String("trigger", string(e.Trigger)), zap.String("organizer_id", e.OrganizerID.String()))
	body, err := e.Body()
	if err != nil {
		log.Error("encode event", zap.Error(err))
		return
	}

	subs, err := q.subs.ListForTrigger(ctx, e.OrganizerID, e.EventTypeID, e.Trigger)
	if err != nil {
		log.Error("list webhook subscriptions", zap.Error(err))
	}
	for _, s := range subs {
		if err := q.jobs.EnqueueWebhookDelivery(ctx, queue.WebhookDeliveryPayload{
			SubscriptionID: s.ID,
			Trigger:        string(e.Trigger),
			Body:           body,
		}); err != nil {
			log.Error("enqueue webhook delivery", zap.String("subscription_id", s.ID.String()), zap.Error(err))
		}
	}

	if e.Booking != nil && archivesInvite(e.Trigger) {
		if err := q.jobs.EnqueueInviteArchive(ctx, queue.InviteArchivePayload{
			BookingID:  e.Booking.ID,
			BookingUID: e.Booking.UID,
			Trigger:    string(e.Trigger),
		}); err != nil {
			log.Error("enqueue invite archive", zap.Error(err))
		}
	}

	if q.publisher != nil {
		if err := q.publisher.PublishOrganizerEvent(e.OrganizerID, string(e.Trigger), body); err != nil {
			log.Warn("publish realtime event", zap.Error(err))
		}
	}
}
