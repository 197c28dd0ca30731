package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/tableside-backend/internal/autoclose"
	"github.com/angelmondragon/tableside-backend/internal/catalog"
	"github.com/angelmondragon/tableside-backend/internal/invoices"
	"github.com/angelmondragon/tableside-backend/internal/orders"
	"github.com/angelmondragon/tableside-backend/internal/sessions"
	"github.com/angelmondragon/tableside-backend/internal/settlement"
	"github.com/angelmondragon/tableside-backend/pkg/config"
	"github.com/angelmondragon/tableside-backend/pkg/db"
	"github.com/angelmondragon/tableside-backend/pkg/instance"
	"github.com/angelmondragon/tableside-backend/pkg/logger"
	"github.com/angelmondragon/tableside-backend/pkg/metrics"
	"github.com/angelmondragon/tableside-backend/pkg/outbox"
	"github.com/angelmondragon/tableside-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/tableside-backend/pkg/pubsub"
	"github.com/angelmondragon/tableside-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if cfg.Broker.IsRabbitMQ() {
		logg.Error(context.Background(), "worker consumes pubsub subscriptions", errors.New("broker is rabbitmq"))
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.PubSub.BillingSubscription) == "" {
		logg.Error(context.Background(), "billing subscription is not configured", errors.New(config.EnvPrefix+"_PUBSUB_BILLING_SUBSCRIPTION is empty"))
		os.Exit(1)
	}

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	requireResource(logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	requireResource(logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	requireResource(logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	lifecycle := metrics.NewLifecycleMetrics(prometheus.DefaultRegisterer)
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	sessionService, err := sessions.NewService(sessions.ServiceParams{
		Repo:    sessions.NewRepository(dbClient.DB()),
		Tables:  catalog.NewRepository(dbClient.DB()),
		Tx:      dbClient,
		Outbox:  outboxService,
		Metrics: lifecycle,
		Logger:  logg,
	})
	requireResource(logg, "sessions service", err)

	evaluator, err := autoclose.NewEvaluator(autoclose.NewRepository(dbClient.DB()), sessionService, logg)
	requireResource(logg, "autoclose evaluator", err)

	invoicesService, err := invoices.NewService(invoices.ServiceParams{
		Repo:     invoices.NewRepository(dbClient.DB()),
		Orders:   orders.NewRepository(dbClient.DB()),
		Sessions: sessionService,
		Tx:       dbClient,
		Outbox:   outboxService,
		Numbers:  invoices.NewNumberGenerator(cfg.Invoices.NumberPrefix),
		VATRate:  cfg.Invoices.VATRate,
		Currency: cfg.Invoices.Currency,
		Metrics:  lifecycle,
		Logger:   logg,
	})
	requireResource(logg, "invoices service", err)

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	requireResource(logg, "idempotency manager", err)

	settlementConsumer, err := settlement.NewConsumer(settlement.ConsumerParams{
		Source:      pubsubClient.Subscriber(cfg.PubSub.BillingSubscription),
		Invoices:    invoicesService,
		Evaluator:   evaluator,
		Idempotency: manager,
		Logger:      logg,
	})
	requireResource(logg, "settlement consumer", err)

	service, err := NewService(ServiceParams{
		Logger:     logg,
		DB:         dbClient,
		Redis:      redisClient,
		PubSub:     pubsubClient,
		Settlement: settlementConsumer,
	})
	requireResource(logg, "worker service", err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"serviceKind":  cfg.Service.Kind,
		"instance":     instance.GetID("worker"),
		"subscription": cfg.PubSub.BillingSubscription,
	})
	logg.Info(ctx, "starting worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}

func requireResource(logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to create "+resource, err)
	os.Exit(1)
}
