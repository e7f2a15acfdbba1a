package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/IuriGuerreiro/Designia-backend-sub000/api/controllers"
	webhookcontrollers "github.com/IuriGuerreiro/Designia-backend-sub000/api/controllers/webhooks"
	"github.com/IuriGuerreiro/Designia-backend-sub000/api/middleware"
	checkoutsvc "github.com/IuriGuerreiro/Designia-backend-sub000/internal/checkout"
	"github.com/IuriGuerreiro/Designia-backend-sub000/internal/orders"
	"github.com/IuriGuerreiro/Designia-backend-sub000/internal/payments"
	"github.com/IuriGuerreiro/Designia-backend-sub000/internal/payouts"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/config"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/logger"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/metrics"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/outbox/idempotency"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/stripe"
)

// Deps carries the wired services the router mounts.
type Deps struct {
	Checkout       checkoutsvc.Service
	Orders         orders.Service
	Payments       *payments.Service
	Payouts        *payouts.Service
	StripeClient   *stripe.Client
	WebhookGuard   *idempotency.Manager
	WebhookMetrics *metrics.WebhookMetrics
	Readiness      map[string]controllers.Pinger
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Readiness))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.Stripe(deps.Payments, deps.WebhookGuard, deps.StripeClient, deps.WebhookMetrics, logg))
		r.Post("/stripe/connect", webhookcontrollers.StripeConnect(deps.Payouts, deps.WebhookGuard, deps.StripeClient, deps.WebhookMetrics, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Post("/checkout", controllers.Checkout(deps.Checkout, logg))
		r.Post("/orders/{orderID}/transition", controllers.OrderTransition(deps.Orders, logg))
		r.Post("/payouts/manual", controllers.ManualPayout(deps.Payouts, logg))
	})

	return r
}
