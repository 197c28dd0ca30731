package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/tableside-backend/api/routes"
	"github.com/angelmondragon/tableside-backend/internal/autoclose"
	"github.com/angelmondragon/tableside-backend/internal/catalog"
	"github.com/angelmondragon/tableside-backend/internal/invoices"
	"github.com/angelmondragon/tableside-backend/internal/kitchen"
	"github.com/angelmondragon/tableside-backend/internal/orders"
	"github.com/angelmondragon/tableside-backend/internal/payments"
	"github.com/angelmondragon/tableside-backend/internal/sessions"
	"github.com/angelmondragon/tableside-backend/pkg/config"
	"github.com/angelmondragon/tableside-backend/pkg/db"
	"github.com/angelmondragon/tableside-backend/pkg/logger"
	"github.com/angelmondragon/tableside-backend/pkg/metrics"
	"github.com/angelmondragon/tableside-backend/pkg/migrate"
	"github.com/angelmondragon/tableside-backend/pkg/outbox"
	"github.com/angelmondragon/tableside-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	lifecycle := metrics.NewLifecycleMetrics(registry)

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	catalogRepo := catalog.NewRepository(dbClient.DB())
	ordersRepo := orders.NewRepository(dbClient.DB())

	sessionService, err := sessions.NewService(sessions.ServiceParams{
		Repo:    sessions.NewRepository(dbClient.DB()),
		Tables:  catalogRepo,
		Tx:      dbClient,
		Outbox:  outboxService,
		Metrics: lifecycle,
		Logger:  logg,
	})
	requireService(logg, "sessions", err)

	evaluator, err := autoclose.NewEvaluator(autoclose.NewRepository(dbClient.DB()), sessionService, logg)
	requireService(logg, "autoclose", err)

	kitchenService, err := kitchen.NewService(kitchen.ServiceParams{
		Repo:   kitchen.NewRepository(dbClient.DB()),
		Tx:     dbClient,
		Outbox: outboxService,
		Logger: logg,
	})
	requireService(logg, "kitchen", err)

	ordersService, err := orders.NewService(orders.ServiceParams{
		Repo:      ordersRepo,
		Catalog:   catalogRepo,
		Sessions:  sessionService,
		Kitchen:   kitchenService,
		AutoClose: evaluator,
		Tx:        dbClient,
		Outbox:    outboxService,
		Metrics:   lifecycle,
		Logger:    logg,
	})
	requireService(logg, "orders", err)

	invoicesService, err := invoices.NewService(invoices.ServiceParams{
		Repo:     invoices.NewRepository(dbClient.DB()),
		Orders:   ordersRepo,
		Sessions: sessionService,
		Tx:       dbClient,
		Outbox:   outboxService,
		Numbers:  invoices.NewNumberGenerator(cfg.Invoices.NumberPrefix),
		VATRate:  cfg.Invoices.VATRate,
		Currency: cfg.Invoices.Currency,
		Metrics:  lifecycle,
		Logger:   logg,
	})
	requireService(logg, "invoices", err)

	paymentsService, err := payments.NewService(payments.ServiceParams{
		Repo:         payments.NewRepository(dbClient.DB()),
		Sessions:     sessionService,
		Invoices:     invoicesService,
		AutoClose:    evaluator,
		Tx:           dbClient,
		Outbox:       outboxService,
		Codes:        payments.NewCodeGenerator(cfg.Payments.CodeLength),
		CodeAttempts: cfg.Payments.CodeAttempts,
		Metrics:      lifecycle,
		Logger:       logg,
	})
	requireService(logg, "payments", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			registry,
			sessionService,
			ordersService,
			kitchenService,
			paymentsService,
			invoicesService,
			evaluator,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}

func requireService(logg *logger.Logger, name string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to create "+name+" service", err)
	os.Exit(1)
}
