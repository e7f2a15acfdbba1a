package payments

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/IuriGuerreiro/Designia-backend-sub000/internal/orders"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/db/models"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/enums"
	pkgerrors "github.com/IuriGuerreiro/Designia-backend-sub000/pkg/errors"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/logger"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/outbox"
)

// webhookSource tags dead-letter rows written by the primary endpoint.
const webhookSource = "stripe"

type txRunner interface {
	WithRetryableTx(ctx context.Context, level sql.IsolationLevel, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Notifier delivers best-effort emails on terminal payment states. Failures
// are logged by the implementation and never abort the webhook transaction.
type Notifier interface {
	SendOrderCancellationReceipt(ctx context.Context, order *models.Order)
	SendFailedRefundNotification(ctx context.Context, order *models.Order)
}

// AccountReconciler owns account.updated handling; the processor only
// routes the event.
type AccountReconciler interface {
	Reconcile(ctx context.Context, account *stripe.Account) error
}

type sessionRetriever interface {
	RetrieveSession(ctx context.Context, id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// ServiceParams wires the webhook processor dependencies.
type ServiceParams struct {
	OrdersRepo        orders.Repository
	Repo              Repository
	TransactionRunner txRunner
	Outbox            outboxPublisher
	Notifier          Notifier
	Accounts          AccountReconciler
	Sessions          sessionRetriever
	Logger            *logger.Logger

	PlatformRate decimal.Decimal
	DaysToHold   int
	Currency     enums.Currency
}

// Service is the provider event processor: it consumes duplicated,
// out-of-order webhook deliveries and applies exactly-once ledger effects.
type Service struct {
	ordersRepo orders.Repository
	repo       Repository
	tx         txRunner
	outbox     outboxPublisher
	notifier   Notifier
	accounts   AccountReconciler
	sessions   sessionRetriever
	logg       *logger.Logger

	platformRate decimal.Decimal
	daysToHold   int
	currency     enums.Currency
}

func NewService(params ServiceParams) (*Service, error) {
	if params.OrdersRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repo required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments repo required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	if params.Notifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notifier required")
	}
	if params.Accounts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "account reconciler required")
	}
	if params.Sessions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "session retriever required")
	}
	if params.PlatformRate.IsNegative() || params.PlatformRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "platform rate out of range")
	}
	if params.DaysToHold <= 0 {
		params.DaysToHold = 7
	}
	if !params.Currency.IsValid() {
		params.Currency = enums.CurrencyUSD
	}
	return &Service{
		ordersRepo:   params.OrdersRepo,
		repo:         params.Repo,
		tx:           params.TransactionRunner,
		outbox:       params.Outbox,
		notifier:     params.Notifier,
		accounts:     params.Accounts,
		sessions:     params.Sessions,
		logg:         params.Logger,
		platformRate: params.PlatformRate,
		daysToHold:   params.DaysToHold,
		currency:     params.Currency,
	}, nil
}

// HandleEvent dispatches one verified primary-channel event. A nil return
// acknowledges the event; recognized-but-unapplicable events are
// dead-lettered and acknowledged so the provider stops retrying.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode checkout session event")
		}
		return s.handleSessionCompleted(ctx, event, &sess)

	case stripe.EventTypePaymentIntentSucceeded:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode payment intent event")
		}
		return s.handleIntentSucceeded(ctx, event, &intent)

	case stripe.EventTypePaymentIntentPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode payment intent event")
		}
		return s.handleIntentFailed(ctx, event, &intent)

	case stripe.EventTypeRefundUpdated:
		var refund stripe.Refund
		if err := json.Unmarshal(event.Data.Raw, &refund); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode refund event")
		}
		return s.handleRefundUpdated(ctx, event, &refund)

	case stripe.EventTypeRefundFailed:
		var refund stripe.Refund
		if err := json.Unmarshal(event.Data.Raw, &refund); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode refund event")
		}
		return s.handleRefundFailed(ctx, event, &refund)

	case stripe.EventTypeTransferCreated:
		var transfer stripe.Transfer
		if err := json.Unmarshal(event.Data.Raw, &transfer); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode transfer event")
		}
		return s.handleTransferCreated(ctx, event, &transfer)

	case stripe.EventTypeAccountUpdated:
		var account stripe.Account
		if err := json.Unmarshal(event.Data.Raw, &account); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode account event")
		}
		return s.accounts.Reconcile(ctx, &account)

	default:
		// Recognized channel, unhandled type: acknowledged no-op.
		return nil
	}
}

// deadLetter records an acknowledged-but-unapplied event for manual
// reconciliation and returns nil so the delivery is acked.
func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event *stripe.Event, reason string) error {
	row := &models.WebhookDeadLetter{
		Source:    webhookSource,
		EventID:   event.ID,
		EventType: string(event.Type),
		Payload:   json.RawMessage(event.Data.Raw),
		Reason:    reason,
	}
	if err := s.repo.WithTx(tx).InsertDeadLetter(ctx, row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert webhook dead letter")
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"event_id":   event.ID,
			"event_type": event.Type,
			"reason":     reason,
		})
		s.logg.Warn(logCtx, "webhook event dead-lettered")
	}
	return nil
}
