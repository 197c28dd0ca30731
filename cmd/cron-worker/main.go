package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/tableside-backend/internal/autoclose"
	"github.com/angelmondragon/tableside-backend/internal/catalog"
	"github.com/angelmondragon/tableside-backend/internal/cron"
	"github.com/angelmondragon/tableside-backend/internal/invoices"
	"github.com/angelmondragon/tableside-backend/internal/orders"
	"github.com/angelmondragon/tableside-backend/internal/sessions"
	"github.com/angelmondragon/tableside-backend/pkg/config"
	"github.com/angelmondragon/tableside-backend/pkg/db"
	"github.com/angelmondragon/tableside-backend/pkg/instance"
	"github.com/angelmondragon/tableside-backend/pkg/logger"
	"github.com/angelmondragon/tableside-backend/pkg/metrics"
	"github.com/angelmondragon/tableside-backend/pkg/migrate"
	"github.com/angelmondragon/tableside-backend/pkg/outbox"
	"github.com/angelmondragon/tableside-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	lifecycle := metrics.NewLifecycleMetrics(prometheus.DefaultRegisterer)
	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)

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

	backfillJob, err := cron.NewInvoiceBackfillJob(cron.InvoiceBackfillJobParams{
		Logger:   logg,
		Invoices: invoicesService,
		Metrics:  cronMetrics,
		Age:      cfg.Cron.InvoiceBackfillAge,
	})
	requireResource(logg, "invoice backfill job", err)

	sweepJob, err := cron.NewAutoCloseSweepJob(cron.AutoCloseSweepJobParams{
		Logger:    logg,
		Evaluator: evaluator,
		Metrics:   cronMetrics,
		Limit:     cfg.Cron.AutoCloseSweepLimit,
	})
	requireResource(logg, "autoclose sweep job", err)

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:                  logg,
		DB:                      dbClient,
		Repository:              outboxRepo,
		DeadLetters:             outbox.NewDLQRepository(dbClient.DB()),
		Metrics:                 cronMetrics,
		RetentionDays:           cfg.Outbox.RetentionDays,
		DeadLetterRetentionDays: cfg.Outbox.DLQRetentionDays,
	})
	requireResource(logg, "outbox retention job", err)

	registry, err := cron.NewRegistry(backfillJob, sweepJob, retentionJob)
	requireResource(logg, "cron registry", err)

	lock, err := cron.NewRedisLock(redisClient, lockName(cfg.App.Env), 0)
	requireResource(logg, "cron lock", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Cron.Interval,
	})
	requireResource(logg, "cron service", err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID("cron-worker"),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return "cron-worker:" + env
}

func requireResource(logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to create "+resource, err)
	os.Exit(1)
}
