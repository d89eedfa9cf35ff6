// Package main runs the booking HTTP server with the realtime feed and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-booking/backend/config"
	"github.com/aura-booking/backend/internal/api"
	"github.com/aura-booking/backend/internal/app"
	"github.com/aura-booking/backend/internal/auth"
	"github.com/aura-booking/backend/internal/bookings"
	"github.com/aura-booking/backend/internal/credentials"
	"github.com/aura-booking/backend/internal/eventtypes"
	"github.com/aura-booking/backend/internal/metrics"
	"github.com/aura-booking/backend/internal/middleware"
	"github.com/aura-booking/backend/internal/models"
	"github.com/aura-booking/backend/internal/realtime"
	"github.com/aura-booking/backend/internal/schedules"
	"github.com/aura-booking/backend/internal/webhooks"
	"github.com/aura-booking/backend/internal/zego"
	"github.com/aura-booking/backend/pkg/database"
	"github.com/aura-booking/backend/pkg/redis"
	"github.com/aura-booking/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.Booking.PaymentWebhookSecret == "" {
		logger.Warn("PAYMENT_WEBHOOK_SECRET not set, payment callbacks will be rejected")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	core, err := app.New(cfg, pool, rdb.Client, logger)
	if err != nil {
		logger.Fatal("booking core", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	hub := realtime.NewHub(logger, core.PubSub)
	origins := config.SplitTrim(cfg.Server.CORSAllowedOrigins, ",")
	upgrader := realtime.NewUpgrader(origins)

	authHandler := auth.NewHandler(core.Users, jwtService, logger)
	eventTypeHandler := eventtypes.NewHandler(core.EventTypes, core.Resolver, core.Registry.KnownLocation, logger)
	scheduleHandler := schedules.NewHandler(core.Schedules, logger)
	credentialHandler := credentials.NewHandler(core.Credentials, core.Registry, logger)
	bookingHandler := bookings.NewHandler(core.Service, cfg.Booking.PaymentWebhookSecret, logger)
	videoHandler := zego.NewHandler(core.Bookings, cfg.Zego, logger)
	subscriptionHandler := webhooks.NewHandler(core.Subscriptions, logger)

	handlers := api.NewRegistry()
	for op, h := range map[string]gin.HandlerFunc{
		api.OpHealth:             health(pool, rdb),
		api.OpMetrics:            gin.WrapH(metrics.Handler()),
		api.OpSweep:              bookingHandler.Sweep,
		api.OpRegister:           authHandler.Register,
		api.OpLogin:              authHandler.Login,
		api.OpSetDestination:     authHandler.SetDestination,
		api.OpAvailability:       eventTypeHandler.Availability,
		api.OpCreateEventType:    eventTypeHandler.Create,
		api.OpGetEventType:       eventTypeHandler.Get,
		api.OpListEventTypes:     eventTypeHandler.List,
		api.OpGetSchedule:        scheduleHandler.Get,
		api.OpPutSchedule:        scheduleHandler.Put,
		api.OpRegisterCredential: credentialHandler.Register,
		api.OpListCredentials:    credentialHandler.List,
		api.OpListCalendars:      credentialHandler.Calendars,
		api.OpSetSelected:        credentialHandler.SetSelected,
		api.OpCreateBooking:      bookingHandler.Create,
		api.OpGetBooking:         bookingHandler.Get,
		api.OpCancelBooking:      bookingHandler.Cancel,
		api.OpConfirmBooking:     bookingHandler.Confirm,
		api.OpRejectBooking:      bookingHandler.Reject,
		api.OpUpdateLocation:     bookingHandler.UpdateLocation,
		api.OpPaymentCallback:    bookingHandler.PaymentWebhook,
		api.OpGuestVideoToken:    videoHandler.GuestToken,
		api.OpHostVideoToken:     videoHandler.HostToken,
		api.OpCreateSubscription: subscriptionHandler.Create,
		api.OpListSubscriptions:  subscriptionHandler.List,
		api.OpDeleteSubscription: subscriptionHandler.Delete,
		api.OpRealtime:           realtime.ServeWs(hub, upgrader, jwtService.ValidateWS, logger),
	} {
		handlers.MustHandle(op, h)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(origins))
	router.Use(middleware.Logger(logger))
	guards := api.Guards{
		api.Organizer: {middleware.JWT(jwtService)},
		api.Admin:     {middleware.JWT(jwtService), middleware.RequireRole(models.RoleAdmin)},
	}
	if err := handlers.Mount(router, guards, api.Routes); err != nil {
		logger.Fatal("mount routes", zap.Error(err))
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func health(pool *pgxpool.Pool, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		if !rdb.Healthy(ctx) {
			response.ServiceUnavailable(c, "redis unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
