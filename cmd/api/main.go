package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/IuriGuerreiro/Designia-backend-sub000/api/controllers"
	"github.com/IuriGuerreiro/Designia-backend-sub000/api/routes"
	checkoutsvc "github.com/IuriGuerreiro/Designia-backend-sub000/internal/checkout"
	"github.com/IuriGuerreiro/Designia-backend-sub000/internal/notifications"
	"github.com/IuriGuerreiro/Designia-backend-sub000/internal/orders"
	"github.com/IuriGuerreiro/Designia-backend-sub000/internal/payments"
	"github.com/IuriGuerreiro/Designia-backend-sub000/internal/payouts"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/config"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/db"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/enums"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/logger"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/metrics"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/migrate"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/outbox"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/outbox/idempotency"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/redis"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/stripe"
)

const shutdownGrace = 15 * time.Second

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

	webhookGuard, err := idempotency.NewManager(redisClient, cfg.Stripe.EventIdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency guard", err)
		os.Exit(1)
	}

	platformRate, err := cfg.Settlement.PlatformRate()
	if err != nil {
		logg.Error(context.Background(), "invalid platform fee rate", err)
		os.Exit(1)
	}
	currency, err := enums.ParseCurrency(cfg.Settlement.DefaultCurrency)
	if err != nil {
		logg.Error(context.Background(), "invalid settlement currency", err)
		os.Exit(1)
	}

	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	ordersRepo := orders.NewRepository(dbClient.DB())
	ordersSvc, err := orders.NewService(ordersRepo, dbClient, outboxSvc)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	checkoutStripe := checkoutsvc.NewStripeClient(stripeClient)
	checkoutSvc, err := checkoutsvc.NewService(
		dbClient,
		checkoutsvc.NewRepository(dbClient.DB()),
		checkoutStripe,
		outboxSvc,
		checkoutsvc.Config{
			SuccessURL: cfg.Stripe.CheckoutSuccessURL,
			CancelURL:  cfg.Stripe.CheckoutCancelURL,
			Currency:   currency,
		},
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	paymentsRepo := payments.NewRepository(dbClient.DB())
	accounts, err := payments.NewAccountReconciler(paymentsRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create account reconciler", err)
		os.Exit(1)
	}
	notifier, err := notifications.NewService(cfg.Sendgrid, paymentsRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}

	paymentsSvc, err := payments.NewService(payments.ServiceParams{
		OrdersRepo:        ordersRepo,
		Repo:              paymentsRepo,
		TransactionRunner: dbClient,
		Outbox:            outboxSvc,
		Notifier:          notifier,
		Accounts:          accounts,
		Sessions:          checkoutStripe,
		Logger:            logg,
		PlatformRate:      platformRate,
		DaysToHold:        cfg.Settlement.DaysToHold,
		Currency:          currency,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	payoutsSvc, err := payouts.NewService(payouts.ServiceParams{
		Repo:              payouts.NewRepository(dbClient.DB()),
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

	webhookMetrics := metrics.NewWebhookMetrics(prometheus.DefaultRegisterer)

	handler := routes.NewRouter(cfg, logg, routes.Deps{
		Checkout:       checkoutSvc,
		Orders:         ordersSvc,
		Payments:       paymentsSvc,
		Payouts:        payoutsSvc,
		StripeClient:   stripeClient,
		WebhookGuard:   webhookGuard,
		WebhookMetrics: webhookMetrics,
		Readiness: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		},
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "error during server shutdown", err)
		}
	}

	logg.Info(ctx, "api server shutting down gracefully")
}
