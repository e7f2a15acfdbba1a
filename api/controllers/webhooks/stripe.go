package webhooks

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/IuriGuerreiro/Designia-backend-sub000/api/responses"
	pkgerrors "github.com/IuriGuerreiro/Designia-backend-sub000/pkg/errors"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/logger"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/metrics"
)

// maxWebhookBody bounds the payload we are willing to parse. Stripe events
// are small; anything bigger is not one of ours.
const maxWebhookBody = 1 << 20

const (
	platformConsumer = "stripe"
	connectConsumer  = "stripe_connect"
)

type eventHandler interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type webhookGuard interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	Delete(ctx context.Context, consumer, eventID string) error
}

type signingSecrets interface {
	SigningSecret() string
	ConnectSigningSecret() string
}

// Stripe handles platform-account webhook deliveries (checkout sessions,
// payment intents, refunds, transfers).
func Stripe(svc eventHandler, guard webhookGuard, secrets signingSecrets, wm *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return handleEvent(svc, guard, wm, logg, platformConsumer, secrets.SigningSecret)
}

// StripeConnect handles Connect-channel deliveries (payout lifecycle on
// seller accounts).
func StripeConnect(svc eventHandler, guard webhookGuard, secrets signingSecrets, wm *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return handleEvent(svc, guard, wm, logg, connectConsumer, secrets.ConnectSigningSecret)
}

func handleEvent(svc eventHandler, guard webhookGuard, wm *metrics.WebhookMetrics, logg *logger.Logger, consumer string, secret func() string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "failed to read webhook body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		event, err := webhook.ConstructEvent(payload, sigHeader, secret())
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "webhook signature verification failed"))
			return
		}

		ctx = logg.WithEventID(ctx, event.ID)
		ctx = logg.WithField(ctx, "event_type", string(event.Type))

		alreadyProcessed, err := guard.CheckAndMarkProcessed(ctx, consumer, event.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency check failed"))
			return
		}
		if alreadyProcessed {
			wm.IncDuplicate(string(event.Type))
			logg.Info(ctx, "duplicate webhook delivery, acknowledging")
			responses.WriteSuccess(w, nil)
			return
		}

		start := time.Now()
		if err := svc.HandleEvent(ctx, &event); err != nil {
			wm.IncProcessed(string(event.Type), "error")
			// Clear the marker so the provider retry is not swallowed.
			if delErr := guard.Delete(ctx, consumer, event.ID); delErr != nil {
				logg.Error(ctx, "failed to clear idempotency marker", delErr)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}
		wm.ObserveDuration(string(event.Type), time.Since(start))
		wm.IncProcessed(string(event.Type), "ok")

		responses.WriteSuccess(w, nil)
	}
}
