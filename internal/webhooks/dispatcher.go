package webhooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-booking/backend/internal/models"
	"github.com/aura-booking/backend/pkg/queue"
	"github.com/aura-booking/backend/pkg/utils"
)

const (
	// HeaderSignature carries the hex HMAC-SHA256 of the body keyed by the subscription secret.
	HeaderSignature = "X-Signature"
	// HeaderTrigger names the trigger of the delivered event.
	HeaderTrigger = "X-Trigger-Event"
)

// ErrDeliveryFailed wraps non-2xx subscriber responses.
var ErrDeliveryFailed = errors.New("webhook delivery failed")

// SubscriptionGetter loads the subscription a delivery job targets.
type SubscriptionGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.WebhookSubscription, error)
}

// Dispatcher POSTs queued event bodies to subscriber URLs.
type Dispatcher struct {
	subs   SubscriptionGetter
	client *http.Client
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher whose requests give up after timeout.
func NewDispatcher(subs SubscriptionGetter, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{subs: subs, client: &http.Client{Timeout: timeout}, logger: logger}
}

// Deliver sends one payload. Deleted or paused subscriptions are skipped without error so the job
// is not retried; transport failures and non-2xx answers are returned.
func (d *Dispatcher) Deliver(ctx context.Context, p queue.WebhookDeliveryPayload) error {
	log := d.logger.With(zap.String("subscription_id", p.SubscriptionID.String()), zap.String("trigger", p.Trigger))
	sub, err := d.subs.GetByID(ctx, p.SubscriptionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Info("subscription gone, dropping delivery")
			return nil
		}
		return fmt.Errorf("load subscription: %w", err)
	}
	if !sub.Active {
		log.Info("subscription inactive, dropping delivery")
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(p.Body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTrigger, p.Trigger)
	if sub.Secret != "" {
		req.Header.Set(HeaderSignature, utils.Sign(sub.Secret, p.Body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrDeliveryFailed, resp.StatusCode)
	}
	log.Debug("webhook delivered", zap.Int("status", resp.StatusCode))
	return nil
}
