package payouts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/db/models"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/enums"
	pkgerrors "github.com/IuriGuerreiro/Designia-backend-sub000/pkg/errors"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/outbox"
)

func TestRequestManualPayoutDisabled(t *testing.T) {
	t.Parallel()

	f := newPayoutFixture(t, newPayoutTestDB(t))
	err := f.svc.RequestManualPayout(context.Background(), uuid.New())
	if !pkgerrors.HasCode(err, pkgerrors.CodeFeatureDisabled) {
		t.Fatalf("expected feature disabled, got %v", err)
	}
}

func TestAggregateSellerBatchesReleasedFunds(t *testing.T) {
	t.Parallel()

	db := newPayoutTestDB(t)
	f := newPayoutFixture(t, db)
	seller := f.seedSeller(t, "acct_1")
	rowA := f.seedTransaction(t, seller.ID, enums.TransactionStatusReleased, "86.80", false)
	rowB := f.seedTransaction(t, seller.ID, enums.TransactionStatusReleased, "13.20", false)
	f.seedTransaction(t, seller.ID, enums.TransactionStatusHeld, "50.00", false)
	f.seedTransaction(t, seller.ID, enums.TransactionStatusReleased, "20.00", true)

	f.stripe.payout = &stripe.Payout{ID: "po_1"}
	created, err := f.svc.AggregateSeller(context.Background(), seller.ID)
	if err != nil {
		t.Fatalf("aggregate seller: %v", err)
	}

	if created.AmountCents != 10000 || !created.AmountDecimal.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("unexpected payout amount: %+v", created)
	}
	if created.Status != enums.PayoutStatusPending || created.StripePayoutID != "po_1" {
		t.Fatalf("unexpected payout state: %+v", created)
	}
	if f.stripe.lastPayoutParams == nil || *f.stripe.lastPayoutParams.Amount != 10000 {
		t.Fatalf("provider amount mismatch: %+v", f.stripe.lastPayoutParams)
	}
	if got := f.stripe.lastPayoutParams.Metadata["seller_id"]; got != seller.ID.String() {
		t.Fatalf("seller metadata missing, got %q", got)
	}

	var items []models.PayoutItem
	if err := db.Where("payout_id = ?", created.ID).Find(&items).Error; err != nil {
		t.Fatalf("load payout items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected two payout items, got %d", len(items))
	}

	for _, id := range []uuid.UUID{rowA.ID, rowB.ID} {
		var row models.PaymentTransaction
		if err := db.First(&row, "id = ?", id).Error; err != nil {
			t.Fatalf("load ledger row: %v", err)
		}
		if !row.PayedOut {
			t.Fatalf("ledger row %s must be flagged paid out", id)
		}
	}

	if got := f.outbox.countByType(enums.EventPayoutCreated); got != 1 {
		t.Fatalf("expected one payout.created emit, got %d", got)
	}
}

func TestAggregateSellerNoBalance(t *testing.T) {
	t.Parallel()

	db := newPayoutTestDB(t)
	f := newPayoutFixture(t, db)
	seller := f.seedSeller(t, "acct_1")

	_, err := f.svc.AggregateSeller(context.Background(), seller.ID)
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.stripe.payoutCalls != 0 {
		t.Fatal("provider must not be called without a payable balance")
	}
}

func TestAggregateSellerNoConnectedAccount(t *testing.T) {
	t.Parallel()

	db := newPayoutTestDB(t)
	f := newPayoutFixture(t, db)
	seller := f.seedSeller(t, "")
	f.seedTransaction(t, seller.ID, enums.TransactionStatusReleased, "50.00", false)

	_, err := f.svc.AggregateSeller(context.Background(), seller.ID)
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestAggregateSellerProviderFailureRollsBack(t *testing.T) {
	t.Parallel()

	db := newPayoutTestDB(t)
	f := newPayoutFixture(t, db)
	seller := f.seedSeller(t, "acct_1")
	row := f.seedTransaction(t, seller.ID, enums.TransactionStatusReleased, "50.00", false)

	f.stripe.payoutErr = errors.New("stripe is down")
	_, err := f.svc.AggregateSeller(context.Background(), seller.ID)
	if !pkgerrors.HasCode(err, pkgerrors.CodeProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}

	var count int64
	if err := db.Model(&models.Payout{}).Count(&count).Error; err != nil {
		t.Fatalf("count payouts: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no payout rows, got %d", count)
	}
	var reloaded models.PaymentTransaction
	if err := db.First(&reloaded, "id = ?", row.ID).Error; err != nil {
		t.Fatalf("load ledger row: %v", err)
	}
	if reloaded.PayedOut {
		t.Fatal("ledger row must stay payable after rollback")
	}
}

func TestHandleEventPayoutPaid(t *testing.T) {
	t.Parallel()

	db := newPayoutTestDB(t)
	ctx := context.Background()
	f := newPayoutFixture(t, db)
	seller := f.seedSeller(t, "acct_1")
	payout := f.seedPayout(t, seller.ID, "po_paid", enums.PayoutStatusPending)

	event := makePayoutEvent(t, "evt_po_paid", stripe.EventTypePayoutPaid, stripe.Payout{ID: "po_paid"})
	if err := f.svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("handle payout paid: %v", err)
	}

	reloaded := loadPayout(t, db, payout.ID)
	if reloaded.Status != enums.PayoutStatusPaid {
		t.Fatalf("status = %s, want paid", reloaded.Status)
	}
	if got := f.outbox.countByType(enums.EventPayoutSettled); got != 1 {
		t.Fatalf("expected one payout.settled emit, got %d", got)
	}

	// Replay is a pure no-op.
	if err := f.svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("replay payout paid: %v", err)
	}
	if got := f.outbox.countByType(enums.EventPayoutSettled); got != 1 {
		t.Fatalf("replay must not emit again, got %d", got)
	}
}

func TestHandleEventPayoutFailedReturnsFundsToPool(t *testing.T) {
	t.Parallel()

	db := newPayoutTestDB(t)
	f := newPayoutFixture(t, db)
	seller := f.seedSeller(t, "acct_1")
	row := f.seedTransaction(t, seller.ID, enums.TransactionStatusReleased, "86.80", true)
	payout := f.seedPayout(t, seller.ID, "po_fail", enums.PayoutStatusPending)
	item := models.PayoutItem{
		ID:               uuid.New(),
		PayoutID:         payout.ID,
		TransactionID:    row.ID,
		TransferAmount:   row.NetAmount,
		TransferCurrency: row.Currency,
		TransferDate:     time.Now().UTC(),
	}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed payout item: %v", err)
	}

	event := makePayoutEvent(t, "evt_po_fail", stripe.EventTypePayoutFailed, stripe.Payout{
		ID:             "po_fail",
		FailureCode:    stripe.PayoutFailureCode("account_closed"),
		FailureMessage: "account closed",
	})
	if err := f.svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle payout failed: %v", err)
	}

	reloaded := loadPayout(t, db, payout.ID)
	if reloaded.Status != enums.PayoutStatusFailed {
		t.Fatalf("status = %s, want failed", reloaded.Status)
	}
	if reloaded.FailureCode == nil || *reloaded.FailureCode != "account_closed" {
		t.Fatalf("failure code not recorded: %+v", reloaded)
	}

	var reloadedRow models.PaymentTransaction
	if err := db.First(&reloadedRow, "id = ?", row.ID).Error; err != nil {
		t.Fatalf("load ledger row: %v", err)
	}
	if reloadedRow.PayedOut {
		t.Fatal("failed payout must return the ledger row to the payable pool")
	}
	if got := f.outbox.countByType(enums.EventPayoutFailed); got != 1 {
		t.Fatalf("expected one payout.failed emit, got %d", got)
	}
}

func TestHandleEventUnknownPayoutCreatedLazily(t *testing.T) {
	t.Parallel()

	db := newPayoutTestDB(t)
	f := newPayoutFixture(t, db)
	sellerID := uuid.New()

	event := makePayoutEvent(t, "evt_po_lazy", stripe.EventTypePayoutPaid, stripe.Payout{
		ID:       "po_lazy",
		Amount:   2500,
		Currency: stripe.Currency("usd"),
		Metadata: map[string]string{"seller_id": sellerID.String()},
	})
	if err := f.svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle unknown payout: %v", err)
	}

	var payout models.Payout
	if err := db.Where("stripe_payout_id = ?", "po_lazy").First(&payout).Error; err != nil {
		t.Fatalf("load lazily created payout: %v", err)
	}
	if payout.SellerID != sellerID || payout.AmountCents != 2500 || payout.Status != enums.PayoutStatusPaid {
		t.Fatalf("unexpected payout: %+v", payout)
	}
}

func TestHandleEventUnresolvableSellerDeadLetters(t *testing.T) {
	t.Parallel()

	db := newPayoutTestDB(t)
	f := newPayoutFixture(t, db)

	event := makePayoutEvent(t, "evt_po_orphan", stripe.EventTypePayoutPaid, stripe.Payout{ID: "po_orphan"})
	if err := f.svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("expected acknowledged dead letter, got %v", err)
	}

	var dead models.WebhookDeadLetter
	if err := db.Where("event_id = ?", "evt_po_orphan").First(&dead).Error; err != nil {
		t.Fatalf("load dead letter: %v", err)
	}
	if dead.Source != "stripe_connect" {
		t.Fatalf("source = %s, want stripe_connect", dead.Source)
	}
}

func TestReleaseMaturedInitiatesTransfers(t *testing.T) {
	t.Parallel()

	db := newPayoutTestDB(t)
	f := newPayoutFixture(t, db)
	seller := f.seedSeller(t, "acct_1")

	matured := f.seedTransaction(t, seller.ID, enums.TransactionStatusHeld, "86.80", false)
	if err := db.Model(&models.PaymentTransaction{}).
		Where("id = ?", matured.ID).
		Update("planned_release_date", time.Now().UTC().Add(-time.Hour)).Error; err != nil {
		t.Fatalf("mature ledger row: %v", err)
	}
	unmatured := f.seedTransaction(t, seller.ID, enums.TransactionStatusHeld, "10.00", false)
	if err := db.Model(&models.PaymentTransaction{}).
		Where("id = ?", unmatured.ID).
		Update("planned_release_date", time.Now().UTC().Add(24*time.Hour)).Error; err != nil {
		t.Fatalf("set future release: %v", err)
	}

	f.stripe.transfer = &stripe.Transfer{ID: "tr_release"}
	released, err := f.svc.ReleaseMatured(context.Background(), 0)
	if err != nil {
		t.Fatalf("release matured: %v", err)
	}
	if released != 1 {
		t.Fatalf("released = %d, want 1", released)
	}

	var reloaded models.PaymentTransaction
	if err := db.First(&reloaded, "id = ?", matured.ID).Error; err != nil {
		t.Fatalf("load ledger row: %v", err)
	}
	if reloaded.Status != enums.TransactionStatusProcessing {
		t.Fatalf("status = %s, want processing", reloaded.Status)
	}
	if reloaded.TransferID == nil || *reloaded.TransferID != "tr_release" {
		t.Fatalf("transfer id not recorded: %+v", reloaded)
	}
	if got := f.stripe.lastTransferParams.Metadata["transaction_id"]; got != matured.ID.String() {
		t.Fatalf("transfer metadata missing transaction id, got %q", got)
	}

	var untouched models.PaymentTransaction
	if err := db.First(&untouched, "id = ?", unmatured.ID).Error; err != nil {
		t.Fatalf("load unmatured row: %v", err)
	}
	if untouched.Status != enums.TransactionStatusHeld {
		t.Fatalf("unmatured row must stay held, got %s", untouched.Status)
	}
}

func TestReleaseMaturedSkipsSellerWithoutAccount(t *testing.T) {
	t.Parallel()

	db := newPayoutTestDB(t)
	f := newPayoutFixture(t, db)
	seller := f.seedSeller(t, "")
	row := f.seedTransaction(t, seller.ID, enums.TransactionStatusHeld, "40.00", false)
	if err := db.Model(&models.PaymentTransaction{}).
		Where("id = ?", row.ID).
		Update("planned_release_date", time.Now().UTC().Add(-time.Hour)).Error; err != nil {
		t.Fatalf("mature ledger row: %v", err)
	}

	released, err := f.svc.ReleaseMatured(context.Background(), 0)
	if err != nil {
		t.Fatalf("release matured: %v", err)
	}
	if released != 1 {
		// The sweep counts the row as handled; it just stays held.
		t.Fatalf("released = %d, want 1", released)
	}

	var reloaded models.PaymentTransaction
	if err := db.First(&reloaded, "id = ?", row.ID).Error; err != nil {
		t.Fatalf("load ledger row: %v", err)
	}
	if reloaded.Status != enums.TransactionStatusHeld {
		t.Fatalf("row must stay held without a connected account, got %s", reloaded.Status)
	}
	if f.stripe.transferCalls != 0 {
		t.Fatal("provider must not be called without a connected account")
	}
}

type payoutFixture struct {
	db     *gorm.DB
	svc    *Service
	stripe *stubStripePayoutClient
	outbox *recordingPayoutOutbox
}

func newPayoutFixture(t *testing.T, db *gorm.DB) *payoutFixture {
	t.Helper()

	stripeStub := &stubStripePayoutClient{}
	outboxStub := &recordingPayoutOutbox{}
	svc, err := NewService(ServiceParams{
		Repo:              NewRepository(db),
		TransactionRunner: &payoutTxRunner{db: db},
		Stripe:            stripeStub,
		Outbox:            outboxStub,
		Config: Config{
			WindowDays:     30,
			ReconcileLimit: 50,
			Currency:       enums.CurrencyUSD,
		},
	})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}
	return &payoutFixture{db: db, svc: svc, stripe: stripeStub, outbox: outboxStub}
}

func (f *payoutFixture) seedSeller(t *testing.T, stripeAccountID string) *models.User {
	t.Helper()
	seller := models.User{
		ID:    uuid.New(),
		Email: uuid.NewString() + "@example.com",
		Role:  enums.ActorRoleSeller,
	}
	if stripeAccountID != "" {
		seller.StripeAccountID = &stripeAccountID
	}
	if err := f.db.Create(&seller).Error; err != nil {
		t.Fatalf("seed seller: %v", err)
	}
	return &seller
}

func (f *payoutFixture) seedTransaction(t *testing.T, sellerID uuid.UUID, status enums.TransactionStatus, net string, payedOut bool) *models.PaymentTransaction {
	t.Helper()
	netAmount := decimal.RequireFromString(net)
	row := models.PaymentTransaction{
		ID:                 uuid.New(),
		OrderID:            uuid.New(),
		SellerID:           sellerID,
		PaymentIntentID:    "pi_" + uuid.NewString(),
		Currency:           enums.CurrencyUSD,
		GrossAmount:        netAmount,
		PlatformFee:        decimal.Zero,
		ProviderFee:        decimal.Zero,
		NetAmount:          netAmount,
		Status:             status,
		PayedOut:           payedOut,
		HoldStartDate:      time.Now().UTC().AddDate(0, 0, -1),
		DaysToHold:         7,
		PlannedReleaseDate: time.Now().UTC().AddDate(0, 0, 6),
	}
	if err := f.db.Create(&row).Error; err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	return &row
}

func (f *payoutFixture) seedPayout(t *testing.T, sellerID uuid.UUID, stripePayoutID string, status enums.PayoutStatus) *models.Payout {
	t.Helper()
	payout := models.Payout{
		ID:             uuid.New(),
		SellerID:       sellerID,
		AmountCents:    8680,
		AmountDecimal:  decimal.RequireFromString("86.80"),
		Currency:       enums.CurrencyUSD,
		StripePayoutID: stripePayoutID,
		Status:         status,
	}
	if err := f.db.Create(&payout).Error; err != nil {
		t.Fatalf("seed payout: %v", err)
	}
	return &payout
}

type payoutTxRunner struct {
	db *gorm.DB
}

func (r *payoutTxRunner) WithRetryableTx(ctx context.Context, level sql.IsolationLevel, fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

type recordingPayoutOutbox struct {
	events []outbox.DomainEvent
}

func (o *recordingPayoutOutbox) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	o.events = append(o.events, event)
	return nil
}

func (o *recordingPayoutOutbox) countByType(eventType enums.OutboxEventType) int {
	n := 0
	for _, e := range o.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

type stubStripePayoutClient struct {
	payout             *stripe.Payout
	payoutErr          error
	payoutCalls        int
	lastPayoutParams   *stripe.PayoutParams
	transfer           *stripe.Transfer
	transferErr        error
	transferCalls      int
	lastTransferParams *stripe.TransferParams
	listed             []*stripe.Payout
	listErr            error
}

func (s *stubStripePayoutClient) CreatePayout(ctx context.Context, params *stripe.PayoutParams) (*stripe.Payout, error) {
	s.payoutCalls++
	s.lastPayoutParams = params
	if s.payoutErr != nil {
		return nil, s.payoutErr
	}
	return s.payout, nil
}

func (s *stubStripePayoutClient) CreateTransfer(ctx context.Context, params *stripe.TransferParams) (*stripe.Transfer, error) {
	s.transferCalls++
	s.lastTransferParams = params
	if s.transferErr != nil {
		return nil, s.transferErr
	}
	return s.transfer, nil
}

func (s *stubStripePayoutClient) ListPayouts(ctx context.Context, params *stripe.PayoutListParams) ([]*stripe.Payout, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.listed, nil
}

func makePayoutEvent(t *testing.T, id string, eventType stripe.EventType, payload stripe.Payout) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal event payload: %v", err)
	}
	return &stripe.Event{
		ID:   id,
		Type: eventType,
		Data: &stripe.EventData{Raw: raw},
	}
}

func loadPayout(t *testing.T, db *gorm.DB, id uuid.UUID) *models.Payout {
	t.Helper()
	var payout models.Payout
	if err := db.First(&payout, "id = ?", id).Error; err != nil {
		t.Fatalf("load payout: %v", err)
	}
	return &payout
}

func newPayoutTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:payouts_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.PaymentTransaction{},
		&models.Payout{},
		&models.PayoutItem{},
		&models.PaymentTracker{},
		&models.WebhookDeadLetter{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
