package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/IuriGuerreiro/Designia-backend-sub000/internal/cron"
	"github.com/IuriGuerreiro/Designia-backend-sub000/internal/orders"
	"github.com/IuriGuerreiro/Designia-backend-sub000/internal/payouts"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/config"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/db"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/enums"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/logger"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/metrics"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/migrate"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/outbox"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/redis"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/stripe"
)

const lockKeyFormat = "designia:cron-worker:lock:%s"

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

	retryCfg := db.RetryConfig{
		Attempts: cfg.Settlement.DeadlockRetries,
		Backoff:  cfg.Settlement.DeadlockBackoff,
	}
	dbClient, err := db.New(context.Background(), cfg.DB, retryCfg, logg)
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

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	currency, err := enums.ParseCurrency(cfg.Settlement.DefaultCurrency)
	if err != nil {
		logg.Error(context.Background(), "invalid settlement currency", err)
		os.Exit(1)
	}

	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	ordersRepo := orders.NewRepository(dbClient.DB())
	payoutsRepo := payouts.NewRepository(dbClient.DB())

	payoutsSvc, err := payouts.NewService(payouts.ServiceParams{
		Repo:              payoutsRepo,
		TransactionRunner: dbClient,
		Stripe:            payouts.NewStripeClient(stripeClient),
		Outbox:            outboxSvc,
		Logger:            logg,
		Config: payouts.Config{
			WindowDays:     cfg.Payout.WindowDays,
			ReconcileLimit: cfg.Payout.ReconcileLimit,
			Currency:       currency,
		},
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payouts service", err)
		os.Exit(1)
	}

	orderTimeoutJob, err := cron.NewOrderTimeoutJob(cron.OrderTimeoutJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repo:       ordersRepo,
		Outbox:     outboxSvc,
		PendingTTL: cfg.Settlement.PendingOrderTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order timeout job", err)
		os.Exit(1)
	}
	holdReleaseJob, err := cron.NewHoldReleaseJob(logg, payoutsSvc, 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create hold release job", err)
		os.Exit(1)
	}
	payoutReconcileJob, err := cron.NewPayoutReconcileJob(logg, payoutsRepo, payoutsSvc, cfg.Payout.ReconcileLimit)
	if err != nil {
		logg.Error(context.Background(), "failed to create payout reconcile job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()
	registry.Register(orderTimeoutJob)
	registry.Register(holdReleaseJob)
	registry.Register(payoutReconcileJob)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
