package payouts

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/db/models"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/enums"
	pkgerrors "github.com/IuriGuerreiro/Designia-backend-sub000/pkg/errors"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/logger"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/outbox"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/types"
)

// connectWebhookSource tags dead-letter rows written by the Connect endpoint.
const connectWebhookSource = "stripe_connect"

type txRunner interface {
	WithRetryableTx(ctx context.Context, level sql.IsolationLevel, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// PayoutCreatedEvent is emitted when a seller batch is cut.
type PayoutCreatedEvent struct {
	PayoutID       uuid.UUID `json:"payout_id"`
	SellerID       uuid.UUID `json:"seller_id"`
	StripePayoutID string    `json:"stripe_payout_id"`
	AmountCents    int64     `json:"amount_cents"`
	ItemCount      int       `json:"item_count"`
}

// PayoutSettledEvent is emitted when the Connect channel confirms a payout.
type PayoutSettledEvent struct {
	PayoutID       uuid.UUID `json:"payout_id"`
	SellerID       uuid.UUID `json:"seller_id"`
	StripePayoutID string    `json:"stripe_payout_id"`
}

// PayoutFailedEvent is emitted when the Connect channel reports failure.
type PayoutFailedEvent struct {
	PayoutID       uuid.UUID `json:"payout_id"`
	SellerID       uuid.UUID `json:"seller_id"`
	StripePayoutID string    `json:"stripe_payout_id"`
	FailureCode    string    `json:"failure_code,omitempty"`
}

// Config bounds the aggregation window and reconcile page size.
type Config struct {
	WindowDays     int
	ReconcileLimit int
	Currency       enums.Currency
}

// ServiceParams wires the payout aggregator dependencies.
type ServiceParams struct {
	Repo              Repository
	TransactionRunner txRunner
	Stripe            StripePayoutClient
	Outbox            outboxPublisher
	Logger            *logger.Logger
	Config            Config
}

// Service batches released seller funds into provider payouts and applies
// the Connect channel's terminal payout states.
type Service struct {
	repo   Repository
	tx     txRunner
	stripe StripePayoutClient
	outbox outboxPublisher
	logg   *logger.Logger
	cfg    Config
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payouts repo required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Stripe == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe payout client required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	if params.Config.WindowDays < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payout window must not be negative")
	}
	if params.Config.ReconcileLimit <= 0 {
		params.Config.ReconcileLimit = 50
	}
	if !params.Config.Currency.IsValid() {
		params.Config.Currency = enums.CurrencyUSD
	}
	return &Service{
		repo:   params.Repo,
		tx:     params.TransactionRunner,
		stripe: params.Stripe,
		outbox: params.Outbox,
		logg:   params.Logger,
		cfg:    params.Config,
	}, nil
}

// RequestManualPayout is the seller-triggered endpoint. Sellers cannot cut
// their own batches; payouts run on the platform schedule only.
func (s *Service) RequestManualPayout(ctx context.Context, sellerID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeFeatureDisabled, "manual payouts are disabled")
}

// AggregateSeller sums the seller's released, not-yet-paid-out net amounts
// inside the aggregation window, opens one provider payout on the seller's
// connected account and snapshots the batch. The provider call runs inside
// the transaction scope so a provider failure leaves the ledger untouched.
func (s *Service) AggregateSeller(ctx context.Context, sellerID uuid.UUID) (*models.Payout, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}

	seller, err := s.repo.FindSellerByID(ctx, sellerID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "seller not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller")
	}
	if seller.StripeAccountID == nil || *seller.StripeAccountID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "seller has no connected payout account").
			WithDetails(map[string]any{"code": "NO_STRIPE_ACCOUNT", "seller_id": sellerID})
	}

	since := time.Time{}
	if s.cfg.WindowDays > 0 {
		since = time.Now().UTC().AddDate(0, 0, -s.cfg.WindowDays)
	}

	var created *models.Payout
	err = s.tx.WithRetryableTx(ctx, sql.LevelSerializable, func(tx *gorm.DB) error {
		created = nil
		repo := s.repo.WithTx(tx)

		rows, err := repo.FindPayableTransactionsForUpdate(ctx, sellerID, since)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payable ledger rows")
		}

		total := decimal.Zero
		for _, row := range rows {
			total = total.Add(row.NetAmount)
		}
		if !total.IsPositive() {
			return pkgerrors.New(pkgerrors.CodeValidation, "no payable balance for seller").
				WithDetails(map[string]any{"code": "INVALID_OPERATION", "seller_id": sellerID})
		}

		amountCents := types.ToMinorUnits(total)
		params := &stripe.PayoutParams{
			Amount:   stripe.Int64(amountCents),
			Currency: stripe.String(string(s.cfg.Currency)),
		}
		params.SetStripeAccount(*seller.StripeAccountID)
		params.AddMetadata("seller_id", sellerID.String())

		providerPayout, err := s.stripe.CreatePayout(ctx, params)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeProvider, err, "create provider payout")
		}

		now := time.Now().UTC()
		payout := &models.Payout{
			ID:             uuid.New(),
			SellerID:       sellerID,
			AmountCents:    amountCents,
			AmountDecimal:  total,
			Currency:       s.cfg.Currency,
			StripePayoutID: providerPayout.ID,
			Status:         enums.PayoutStatusPending,
		}
		if err := repo.CreatePayout(ctx, payout); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payout")
		}

		ids := make([]uuid.UUID, 0, len(rows))
		items := make([]models.PayoutItem, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
			items = append(items, models.PayoutItem{
				PayoutID:         payout.ID,
				TransactionID:    row.ID,
				TransferAmount:   row.NetAmount,
				TransferCurrency: row.Currency,
				TransferDate:     now,
			})
		}
		if err := repo.CreatePayoutItems(ctx, items); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payout items")
		}
		if err := repo.MarkTransactionsPayedOut(ctx, ids, true); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark ledger rows paid out")
		}

		if err := s.ensurePayoutTracker(ctx, repo, sellerID, providerPayout.ID, enums.TrackerStatusPending, payout.AmountDecimal, payout.Currency); err != nil {
			return err
		}

		if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutCreated,
			AggregateType: enums.AggregatePayout,
			AggregateID:   payout.ID,
			Version:       1,
			Data: PayoutCreatedEvent{
				PayoutID:       payout.ID,
				SellerID:       sellerID,
				StripePayoutID: providerPayout.ID,
				AmountCents:    amountCents,
				ItemCount:      len(items),
			},
		}); err != nil {
			return err
		}

		created = payout
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// HandleEvent applies one verified Connect-channel event. Unknown payout
// ids are resolved lazily so a locally crashed aggregation still converges.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypePayoutPaid, stripe.EventTypePayoutFailed:
		var providerPayout stripe.Payout
		if err := json.Unmarshal(event.Data.Raw, &providerPayout); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode payout event")
		}
		return s.applyPayoutState(ctx, event, &providerPayout)
	default:
		// Recognized channel, unhandled type: acknowledged no-op.
		return nil
	}
}

func (s *Service) applyPayoutState(ctx context.Context, event *stripe.Event, providerPayout *stripe.Payout) error {
	failed := event.Type == stripe.EventTypePayoutFailed

	return s.tx.WithRetryableTx(ctx, sql.LevelSerializable, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		payout, err := s.resolveOrCreatePayout(ctx, repo, providerPayout)
		if err != nil {
			return err
		}
		if payout == nil {
			return s.deadLetter(ctx, repo, event, "seller unresolvable for provider payout")
		}

		if failed {
			return s.markPayoutFailed(ctx, tx, repo, payout, providerPayout)
		}
		return s.markPayoutPaid(ctx, tx, repo, payout, providerPayout)
	})
}

func (s *Service) markPayoutPaid(ctx context.Context, tx *gorm.DB, repo Repository, payout *models.Payout, providerPayout *stripe.Payout) error {
	if payout.Status == enums.PayoutStatusPaid {
		return nil
	}
	if err := repo.UpdatePayout(ctx, payout.ID, map[string]any{
		"status":          enums.PayoutStatusPaid,
		"failure_code":    nil,
		"failure_message": nil,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payout paid")
	}
	if err := s.ensurePayoutTracker(ctx, repo, payout.SellerID, providerPayout.ID, enums.TrackerStatusPayoutSuccess, payout.AmountDecimal, payout.Currency); err != nil {
		return err
	}
	return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPayoutSettled,
		AggregateType: enums.AggregatePayout,
		AggregateID:   payout.ID,
		Version:       1,
		Data: PayoutSettledEvent{
			PayoutID:       payout.ID,
			SellerID:       payout.SellerID,
			StripePayoutID: providerPayout.ID,
		},
	})
}

func (s *Service) markPayoutFailed(ctx context.Context, tx *gorm.DB, repo Repository, payout *models.Payout, providerPayout *stripe.Payout) error {
	if payout.Status == enums.PayoutStatusFailed {
		return nil
	}

	updates := map[string]any{"status": enums.PayoutStatusFailed}
	if providerPayout.FailureCode != "" {
		updates["failure_code"] = string(providerPayout.FailureCode)
	}
	if providerPayout.FailureMessage != "" {
		updates["failure_message"] = providerPayout.FailureMessage
	}
	if err := repo.UpdatePayout(ctx, payout.ID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payout failed")
	}

	// The failed batch returns its ledger rows to the payable pool.
	ids, err := repo.FindTransactionIDsByPayout(ctx, payout.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout items")
	}
	if err := repo.MarkTransactionsPayedOut(ctx, ids, false); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reset paid-out flags")
	}

	if err := s.ensurePayoutTracker(ctx, repo, payout.SellerID, providerPayout.ID, enums.TrackerStatusPayoutFailed, payout.AmountDecimal, payout.Currency); err != nil {
		return err
	}
	return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPayoutFailed,
		AggregateType: enums.AggregatePayout,
		AggregateID:   payout.ID,
		Version:       1,
		Data: PayoutFailedEvent{
			PayoutID:       payout.ID,
			SellerID:       payout.SellerID,
			StripePayoutID: providerPayout.ID,
			FailureCode:    string(providerPayout.FailureCode),
		},
	})
}

// resolveOrCreatePayout loads the local batch for a provider payout id,
// creating a minimal pending row when the local write was lost. A nil,
// nil return means the seller could not be resolved.
func (s *Service) resolveOrCreatePayout(ctx context.Context, repo Repository, providerPayout *stripe.Payout) (*models.Payout, error) {
	payout, err := repo.FindPayoutByStripeIDForUpdate(ctx, providerPayout.ID)
	if err == nil {
		return payout, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout")
	}

	sellerID, err := uuid.Parse(providerPayout.Metadata["seller_id"])
	if err != nil {
		return nil, nil
	}
	amount := types.FromMinorUnits(providerPayout.Amount)
	currency := enums.Currency(providerPayout.Currency)
	if !currency.IsValid() {
		currency = s.cfg.Currency
	}
	payout = &models.Payout{
		ID:             uuid.New(),
		SellerID:       sellerID,
		AmountCents:    providerPayout.Amount,
		AmountDecimal:  amount,
		Currency:       currency,
		StripePayoutID: providerPayout.ID,
		Status:         enums.PayoutStatusPending,
	}
	if err := repo.CreatePayout(ctx, payout); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payout for provider id")
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"stripe_payout_id": providerPayout.ID,
			"seller_id":        sellerID,
		})
		s.logg.Warn(logCtx, "payout row created lazily from provider event")
	}
	return payout, nil
}

// ReconcileSeller re-lists provider payouts inside the window and routes
// any locally unknown id through the same resolve-or-create path as the
// webhook, closing the crash window between provider call and local write.
func (s *Service) ReconcileSeller(ctx context.Context, sellerID uuid.UUID) error {
	seller, err := s.repo.FindSellerByID(ctx, sellerID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return pkgerrors.New(pkgerrors.CodeNotFound, "seller not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller")
	}
	if seller.StripeAccountID == nil || *seller.StripeAccountID == "" {
		return nil
	}

	params := &stripe.PayoutListParams{}
	params.SetStripeAccount(*seller.StripeAccountID)
	params.Limit = stripe.Int64(int64(s.cfg.ReconcileLimit))
	if s.cfg.WindowDays > 0 {
		since := time.Now().UTC().AddDate(0, 0, -s.cfg.WindowDays)
		params.CreatedRange = &stripe.RangeQueryParams{GreaterThanOrEqual: since.Unix()}
	}

	providerPayouts, err := s.stripe.ListPayouts(ctx, params)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeProvider, err, "list provider payouts")
	}

	var errs error
	for _, providerPayout := range providerPayouts {
		if providerPayout.Metadata == nil {
			providerPayout.Metadata = map[string]string{}
		}
		if providerPayout.Metadata["seller_id"] == "" {
			providerPayout.Metadata["seller_id"] = sellerID.String()
		}

		syntheticType := stripe.EventTypePayoutPaid
		switch providerPayout.Status {
		case stripe.PayoutStatusPaid:
		case stripe.PayoutStatusFailed, stripe.PayoutStatusCanceled:
			syntheticType = stripe.EventTypePayoutFailed
		default:
			// In-flight payout; the webhook will deliver the terminal state.
			continue
		}
		event := &stripe.Event{
			ID:   "reconcile_" + providerPayout.ID,
			Type: syntheticType,
			Data: &stripe.EventData{},
		}
		if applyErr := s.applyPayoutState(ctx, event, providerPayout); applyErr != nil {
			errs = multierr.Append(errs, applyErr)
		}
	}
	return errs
}

// ReleaseMatured moves held ledger rows past their planned release date to
// processing and initiates the provider transfer. The transfer.created
// webhook later confirms the release. Each row gets its own transaction so
// one bad row cannot wedge the sweep.
func (s *Service) ReleaseMatured(ctx context.Context, limit int) (int, error) {
	now := time.Now().UTC()
	ids, err := s.repo.FindMaturedHeldTransactions(ctx, now, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find matured ledger rows")
	}

	released := 0
	var errs error
	for _, id := range ids {
		if err := s.releaseOne(ctx, id, now); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		released++
	}
	return released, errs
}

func (s *Service) releaseOne(ctx context.Context, id uuid.UUID, now time.Time) error {
	return s.tx.WithRetryableTx(ctx, sql.LevelSerializable, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		row, err := repo.FindTransactionByIDForUpdate(ctx, id)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger row")
		}
		if row.Status != enums.TransactionStatusHeld || row.PlannedReleaseDate.After(now) {
			return nil
		}

		seller, err := repo.FindSellerByID(ctx, row.SellerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller")
		}
		if seller.StripeAccountID == nil || *seller.StripeAccountID == "" {
			if s.logg != nil {
				logCtx := s.logg.WithFields(ctx, map[string]any{
					"transaction_id": row.ID,
					"seller_id":      row.SellerID,
				})
				s.logg.Warn(logCtx, "seller has no connected account, ledger row stays held")
			}
			return nil
		}

		params := &stripe.TransferParams{
			Amount:      stripe.Int64(types.ToMinorUnits(row.NetAmount)),
			Currency:    stripe.String(string(row.Currency)),
			Destination: stripe.String(*seller.StripeAccountID),
		}
		params.AddMetadata("transaction_id", row.ID.String())

		providerTransfer, err := s.stripe.CreateTransfer(ctx, params)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeProvider, err, "create provider transfer")
		}

		return repo.UpdateTransaction(ctx, row.ID, map[string]any{
			"status":      enums.TransactionStatusProcessing,
			"transfer_id": providerTransfer.ID,
		})
	})
}

func (s *Service) ensurePayoutTracker(ctx context.Context, repo Repository, sellerID uuid.UUID, stripePayoutID string, status enums.TrackerStatus, amount decimal.Decimal, currency enums.Currency) error {
	existing, err := repo.FindTrackerByKindStripeID(ctx, enums.TrackerKindPayout, stripePayoutID)
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout tracker")
		}
		tracker := &models.PaymentTracker{
			UserID:   sellerID,
			Kind:     enums.TrackerKindPayout,
			StripeID: stripePayoutID,
			Status:   status,
			Amount:   amount,
			Currency: currency,
		}
		if err := repo.CreateTracker(ctx, tracker); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payout tracker")
		}
		return nil
	}
	if existing.Status == status {
		return nil
	}
	if err := repo.UpdateTrackerStatus(ctx, existing.ID, status); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payout tracker")
	}
	return nil
}

func (s *Service) deadLetter(ctx context.Context, repo Repository, event *stripe.Event, reason string) error {
	row := &models.WebhookDeadLetter{
		Source:    connectWebhookSource,
		EventID:   event.ID,
		EventType: string(event.Type),
		Payload:   json.RawMessage(event.Data.Raw),
		Reason:    reason,
	}
	if err := repo.InsertDeadLetter(ctx, row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert webhook dead letter")
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"event_id":   event.ID,
			"event_type": event.Type,
			"reason":     reason,
		})
		s.logg.Warn(logCtx, "connect webhook event dead-lettered")
	}
	return nil
}
