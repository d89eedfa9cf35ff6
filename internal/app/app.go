// Package app assembles the booking core from configuration. The HTTP server and the worker
// build the same graph so both see one integration registry and one booking service.
package app

import (
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aura-booking/backend/config"
	"github.com/aura-booking/backend/internal/auth"
	"github.com/aura-booking/backend/internal/availability"
	"github.com/aura-booking/backend/internal/bookings"
	"github.com/aura-booking/backend/internal/credentials"
	"github.com/aura-booking/backend/internal/eventmanager"
	"github.com/aura-booking/backend/internal/events"
	"github.com/aura-booking/backend/internal/eventtypes"
	"github.com/aura-booking/backend/internal/hosts"
	"github.com/aura-booking/backend/internal/integrations"
	"github.com/aura-booking/backend/internal/integrations/crmcal"
	"github.com/aura-booking/backend/internal/integrations/graphcal"
	"github.com/aura-booking/backend/internal/realtime"
	"github.com/aura-booking/backend/internal/schedules"
	"github.com/aura-booking/backend/internal/webhooks"
	"github.com/aura-booking/backend/internal/zego"
	"github.com/aura-booking/backend/pkg/queue"
	"github.com/aura-booking/backend/pkg/utils"
)

// Core is the assembled booking core.
type Core struct {
	Users         *auth.Repository
	EventTypes    *eventtypes.Repository
	Schedules     *schedules.Repository
	Bookings      *bookings.Repository
	Credentials   *credentials.Store
	Subscriptions *webhooks.Repository
	Registry      *integrations.Registry
	Resolver      *availability.Resolver
	Queue         *queue.Queue
	PubSub        *realtime.RedisPubSub
	Service       *bookings.Service
}

// NewRegistry registers every integration the deployment supports.
func NewRegistry(cfg *config.Config, saver graphcal.TokenSaver, logger *zap.Logger) (*integrations.Registry, error) {
	registry := integrations.NewRegistry()
	apps := []integrations.App{
		graphcal.App(graphcal.Options{OAuth: graphcal.NewOAuthConfig(cfg.Graph), Saver: saver, Logger: logger}),
		crmcal.App(&http.Client{Timeout: cfg.Booking.IntegrationTimeout}),
	}
	if cfg.Zego.Enabled() {
		apps = append(apps, zego.App(cfg.Zego))
	} else {
		logger.Warn("ZEGOCLOUD not configured, dedicated video rooms disabled")
	}
	for _, a := range apps {
		if err := registry.Register(a); err != nil {
			return nil, fmt.Errorf("register %s: %w", a.Type, err)
		}
	}
	if err := registry.RegisterDynamicMeet(graphcal.TeamsLocation, graphcal.AppType); err != nil {
		return nil, err
	}
	if !cfg.Graph.Enabled() {
		logger.Warn("Graph OAuth client not configured, Outlook tokens will not refresh")
	}
	return registry, nil
}

// New builds the core on top of a database pool and a Redis client.
func New(cfg *config.Config, pool *pgxpool.Pool, rdb *goredis.Client, logger *zap.Logger) (*Core, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sealer, err := utils.NewSealer(cfg.Crypto.CredentialKey)
	if err != nil {
		return nil, fmt.Errorf("credential key: %w", err)
	}

	c := &Core{
		Users:         auth.NewRepository(pool),
		EventTypes:    eventtypes.NewRepository(pool),
		Schedules:     schedules.NewRepository(pool),
		Bookings:      bookings.NewRepository(pool),
		Subscriptions: webhooks.NewRepository(pool),
		Queue:         queue.NewQueue(rdb, logger),
		PubSub:        realtime.NewRedisPubSub(rdb, logger),
	}
	c.Credentials = credentials.NewStore(credentials.NewRepository(pool), rdb, sealer, cfg.Booking.CredentialCacheTTL, logger)

	c.Registry, err = NewRegistry(cfg, c.Credentials, logger)
	if err != nil {
		return nil, err
	}

	busy := integrations.NewBusyCollector(c.Registry, c.Credentials, c.Credentials, logger)
	c.Resolver = availability.NewResolver(c.Schedules, logger,
		availability.NewBookingSource(c.Bookings),
		availability.NewCalendarSource(busy, logger),
	)

	manager := eventmanager.New(c.Registry, c.Credentials, c.Bookings, c.Bookings, eventmanager.Options{
		DefaultVideoApp: cfg.Booking.DefaultVideoApp,
		CallTimeout:     cfg.Booking.IntegrationTimeout,
	}, logger)

	c.Service = bookings.NewService(bookings.Deps{
		Store:           c.Bookings,
		EventTypes:      c.EventTypes,
		Users:           c.Users,
		Credentials:     c.Credentials,
		Resolver:        c.Resolver,
		Policy:          hosts.NewPolicy(c.Bookings),
		Events:          manager,
		Emitter:         events.NewQueueEmitter(c.Subscriptions, c.Queue, c.PubSub, logger),
		Logger:          logger,
		PaymentProvider: cfg.Booking.PaymentProvider,
		SweepGrace:      cfg.Worker.SweepGrace,
	})
	logger.Info("booking core ready", zap.Int("integrations", len(c.Registry.Apps())))
	return c, nil
}
