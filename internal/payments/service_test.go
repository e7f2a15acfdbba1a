package payments

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/IuriGuerreiro/Designia-backend-sub000/internal/orders"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/db/models"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/enums"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/outbox"
)

func TestHandleSessionCompletedWritesLedger(t *testing.T) {
	t.Parallel()

	db := newWebhookTestDB(t)
	ctx := context.Background()
	f := newWebhookFixture(t, db)
	order := f.seedOrder(t, enums.OrderStatusPendingPayment, enums.PaymentStatusPending, 3)

	event := makeStripeEvent(t, "evt_sess_1", stripe.EventTypeCheckoutSessionCompleted, stripe.CheckoutSession{
		ID:            "cs_1",
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_1"},
		Metadata: map[string]string{
			"order_id": order.ID.String(),
			"user_id":  order.BuyerID.String(),
		},
	})
	if err := f.svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("handle session completed: %v", err)
	}

	var rows []models.PaymentTransaction
	if err := db.Where("payment_intent_id = ?", "pi_1").Find(&rows).Error; err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one ledger row, got %d", len(rows))
	}
	row := rows[0]
	if row.Status != enums.TransactionStatusHeld {
		t.Fatalf("status = %s, want held", row.Status)
	}
	if !row.GrossAmount.Equal(decimal.NewFromInt(100)) ||
		!row.PlatformFee.Equal(decimal.RequireFromString("10.00")) ||
		!row.ProviderFee.Equal(decimal.RequireFromString("3.20")) ||
		!row.NetAmount.Equal(decimal.RequireFromString("86.80")) {
		t.Fatalf("unexpected fee split: %+v", row)
	}
	if !row.FeesReconcile() {
		t.Fatal("fees must reconcile")
	}
	if row.DaysToHold != 7 || !row.PlannedReleaseDate.After(row.HoldStartDate) {
		t.Fatalf("unexpected hold window: %+v", row)
	}

	var tracker models.PaymentTracker
	if err := db.Where("kind = ? AND stripe_id = ?", enums.TrackerKindPaymentIntent, "pi_1").First(&tracker).Error; err != nil {
		t.Fatalf("load tracker: %v", err)
	}
	if tracker.Status != enums.TrackerStatusSucceeded {
		t.Fatalf("tracker status = %s, want succeeded", tracker.Status)
	}

	// Replayed delivery leaves the ledger untouched.
	if err := f.svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("replay session completed: %v", err)
	}
	var count int64
	if err := db.Model(&models.PaymentTransaction{}).Where("payment_intent_id = ?", "pi_1").Count(&count).Error; err != nil {
		t.Fatalf("count ledger: %v", err)
	}
	if count != 1 {
		t.Fatalf("replay must not add ledger rows, got %d", count)
	}
}

func TestHandleSessionCompletedMissingMetadataDeadLetters(t *testing.T) {
	t.Parallel()

	db := newWebhookTestDB(t)
	f := newWebhookFixture(t, db)

	event := makeStripeEvent(t, "evt_sess_bad", stripe.EventTypeCheckoutSessionCompleted, stripe.CheckoutSession{
		ID:            "cs_bad",
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_bad"},
	})
	if err := f.svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("expected acknowledged dead letter, got %v", err)
	}

	var dead models.WebhookDeadLetter
	if err := db.Where("event_id = ?", "evt_sess_bad").First(&dead).Error; err != nil {
		t.Fatalf("load dead letter: %v", err)
	}
	if dead.Source != "stripe" || dead.Reason == "" {
		t.Fatalf("unexpected dead letter: %+v", dead)
	}
}

func TestHandleIntentSucceededConfirmsOnce(t *testing.T) {
	t.Parallel()

	db := newWebhookTestDB(t)
	ctx := context.Background()
	f := newWebhookFixture(t, db)
	order := f.seedOrder(t, enums.OrderStatusPendingPayment, enums.PaymentStatusPending, 3)

	event := makeStripeEvent(t, "evt_pi_ok", stripe.EventTypePaymentIntentSucceeded, stripe.PaymentIntent{
		ID:       "pi_ok",
		Metadata: map[string]string{"order_id": order.ID.String()},
	})
	if err := f.svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("handle intent succeeded: %v", err)
	}

	reloaded := loadWebhookOrder(t, db, order.ID)
	if reloaded.PaymentStatus != enums.PaymentStatusPaid || reloaded.Status != enums.OrderStatusPaymentConfirmed {
		t.Fatalf("unexpected order state: %s/%s", reloaded.Status, reloaded.PaymentStatus)
	}
	if reloaded.ProcessedAt == nil {
		t.Fatal("expected processed_at set")
	}
	if got := f.outbox.countByType(enums.EventPaymentSettled); got != 1 {
		t.Fatalf("expected one payment.settled emit, got %d", got)
	}

	// Replay after confirmation is a pure no-op.
	if err := f.svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("replay intent succeeded: %v", err)
	}
	if got := f.outbox.countByType(enums.EventPaymentSettled); got != 1 {
		t.Fatalf("replay must not emit again, got %d", got)
	}
}

func TestHandleIntentFailedReleasesStockFromPendingOnly(t *testing.T) {
	t.Parallel()

	db := newWebhookTestDB(t)
	ctx := context.Background()
	f := newWebhookFixture(t, db)
	order := f.seedOrder(t, enums.OrderStatusPendingPayment, enums.PaymentStatusPending, 3)

	event := makeStripeEvent(t, "evt_pi_fail", stripe.EventTypePaymentIntentPaymentFailed, stripe.PaymentIntent{
		ID:       "pi_fail",
		Metadata: map[string]string{"order_id": order.ID.String()},
	})
	if err := f.svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("handle intent failed: %v", err)
	}

	reloaded := loadWebhookOrder(t, db, order.ID)
	if reloaded.PaymentStatus != enums.PaymentStatusFailed {
		t.Fatalf("payment status = %s, want failed", reloaded.PaymentStatus)
	}
	if got := f.loadStock(t, order); got != 5 {
		t.Fatalf("expected reserved stock returned to 5, got %d", got)
	}
	if got := f.outbox.countByType(enums.EventPaymentFailed); got != 1 {
		t.Fatalf("expected one payment.failed emit, got %d", got)
	}

	// A paid order that later fails holds no reservation to undo.
	paid := f.seedOrder(t, enums.OrderStatusPaymentConfirmed, enums.PaymentStatusPaid, 3)
	paidEvent := makeStripeEvent(t, "evt_pi_fail_2", stripe.EventTypePaymentIntentPaymentFailed, stripe.PaymentIntent{
		ID:       "pi_fail_2",
		Metadata: map[string]string{"order_id": paid.ID.String()},
	})
	if err := f.svc.HandleEvent(ctx, paidEvent); err != nil {
		t.Fatalf("handle intent failed on paid order: %v", err)
	}
	if got := f.loadStock(t, paid); got != 3 {
		t.Fatalf("paid order must not release stock, got %d", got)
	}
}

func TestHandleIntentSucceededCancelledOrderStaysCancelled(t *testing.T) {
	t.Parallel()

	db := newWebhookTestDB(t)
	ctx := context.Background()
	f := newWebhookFixture(t, db)
	// The timeout sweep cancelled this order and already returned its stock.
	order := f.seedOrder(t, enums.OrderStatusCancelled, enums.PaymentStatusPending, 5)

	event := makeStripeEvent(t, "evt_pi_late", stripe.EventTypePaymentIntentSucceeded, stripe.PaymentIntent{
		ID:       "pi_late",
		Metadata: map[string]string{"order_id": order.ID.String()},
	})
	if err := f.svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("handle late intent succeeded: %v", err)
	}

	reloaded := loadWebhookOrder(t, db, order.ID)
	if reloaded.Status != enums.OrderStatusCancelled {
		t.Fatalf("cancelled order must stay cancelled, got %s", reloaded.Status)
	}
	if reloaded.PaymentStatus == enums.PaymentStatusPaid {
		t.Fatal("cancelled order must not be marked paid")
	}
	if got := f.outbox.countByType(enums.EventPaymentSettled); got != 0 {
		t.Fatalf("cancelled order must not emit payment.settled, got %d", got)
	}
	var dead models.WebhookDeadLetter
	if err := db.Where("event_id = ?", "evt_pi_late").First(&dead).Error; err != nil {
		t.Fatalf("expected dead letter for late success: %v", err)
	}
}

func TestHandleSessionCompletedCancelledOrderDeadLetters(t *testing.T) {
	t.Parallel()

	db := newWebhookTestDB(t)
	ctx := context.Background()
	f := newWebhookFixture(t, db)
	order := f.seedOrder(t, enums.OrderStatusCancelled, enums.PaymentStatusPending, 5)

	event := makeStripeEvent(t, "evt_sess_late", stripe.EventTypeCheckoutSessionCompleted, stripe.CheckoutSession{
		ID:            "cs_late",
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_sess_late"},
		Metadata: map[string]string{
			"order_id": order.ID.String(),
			"user_id":  order.BuyerID.String(),
		},
	})
	if err := f.svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("handle late session completed: %v", err)
	}

	var count int64
	if err := db.Model(&models.PaymentTransaction{}).Where("payment_intent_id = ?", "pi_sess_late").Count(&count).Error; err != nil {
		t.Fatalf("count ledger: %v", err)
	}
	if count != 0 {
		t.Fatalf("cancelled order must not get ledger rows, got %d", count)
	}
	var dead models.WebhookDeadLetter
	if err := db.Where("event_id = ?", "evt_sess_late").First(&dead).Error; err != nil {
		t.Fatalf("expected dead letter for late session: %v", err)
	}
}

func TestHandleRefundUpdatedSettlesRefund(t *testing.T) {
	t.Parallel()

	db := newWebhookTestDB(t)
	ctx := context.Background()
	f := newWebhookFixture(t, db)
	order := f.seedOrder(t, enums.OrderStatusCancelled, enums.PaymentStatusPaid, 3)
	row := f.seedTransaction(t, order, "pi_refund", enums.TransactionStatusWaitingRefund)

	event := makeStripeEvent(t, "evt_refund_ok", stripe.EventTypeRefundUpdated, stripe.Refund{
		ID:            "re_1",
		Status:        stripe.RefundStatusSucceeded,
		Amount:        10000,
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_refund"},
	})
	if err := f.svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("handle refund updated: %v", err)
	}

	var reloadedRow models.PaymentTransaction
	if err := db.First(&reloadedRow, "id = ?", row.ID).Error; err != nil {
		t.Fatalf("load ledger row: %v", err)
	}
	if reloadedRow.Status != enums.TransactionStatusRefunded {
		t.Fatalf("ledger status = %s, want refunded", reloadedRow.Status)
	}

	reloaded := loadWebhookOrder(t, db, order.ID)
	if reloaded.Status != enums.OrderStatusRefunded || reloaded.PaymentStatus != enums.PaymentStatusRefunded {
		t.Fatalf("unexpected order state: %s/%s", reloaded.Status, reloaded.PaymentStatus)
	}
	if got := f.outbox.countByType(enums.EventRefundCompleted); got != 1 {
		t.Fatalf("expected one refund.completed emit, got %d", got)
	}
	if len(f.notifier.cancellations) != 1 || f.notifier.cancellations[0].ID != order.ID {
		t.Fatalf("expected one cancellation receipt, got %+v", f.notifier.cancellations)
	}
}

func TestHandleRefundUpdatedIgnoresNonTerminalStatus(t *testing.T) {
	t.Parallel()

	db := newWebhookTestDB(t)
	f := newWebhookFixture(t, db)
	order := f.seedOrder(t, enums.OrderStatusCancelled, enums.PaymentStatusPaid, 3)
	row := f.seedTransaction(t, order, "pi_refund_pending", enums.TransactionStatusWaitingRefund)

	event := makeStripeEvent(t, "evt_refund_pending", stripe.EventTypeRefundUpdated, stripe.Refund{
		ID:            "re_pending",
		Status:        stripe.RefundStatusPending,
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_refund_pending"},
	})
	if err := f.svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle pending refund: %v", err)
	}

	var reloadedRow models.PaymentTransaction
	if err := db.First(&reloadedRow, "id = ?", row.ID).Error; err != nil {
		t.Fatalf("load ledger row: %v", err)
	}
	if reloadedRow.Status != enums.TransactionStatusWaitingRefund {
		t.Fatalf("pending refund must not move the ledger, got %s", reloadedRow.Status)
	}
}

func TestHandleRefundFailedMarksPaymentOnly(t *testing.T) {
	t.Parallel()

	db := newWebhookTestDB(t)
	f := newWebhookFixture(t, db)
	order := f.seedOrder(t, enums.OrderStatusCancelled, enums.PaymentStatusPaid, 3)
	row := f.seedTransaction(t, order, "pi_refund_fail", enums.TransactionStatusWaitingRefund)

	event := makeStripeEvent(t, "evt_refund_fail", stripe.EventTypeRefundFailed, stripe.Refund{
		ID:            "re_fail",
		Status:        stripe.RefundStatusFailed,
		Amount:        10000,
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_refund_fail"},
	})
	if err := f.svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle refund failed: %v", err)
	}

	var reloadedRow models.PaymentTransaction
	if err := db.First(&reloadedRow, "id = ?", row.ID).Error; err != nil {
		t.Fatalf("load ledger row: %v", err)
	}
	if reloadedRow.Status != enums.TransactionStatusFailedRefund {
		t.Fatalf("ledger status = %s, want failed_refund", reloadedRow.Status)
	}

	reloaded := loadWebhookOrder(t, db, order.ID)
	if reloaded.PaymentStatus != enums.PaymentStatusFailedRefund {
		t.Fatalf("payment status = %s, want failed_refund", reloaded.PaymentStatus)
	}
	if reloaded.Status != enums.OrderStatusCancelled {
		t.Fatalf("order status must be untouched, got %s", reloaded.Status)
	}
	if len(f.notifier.failedRefunds) != 1 {
		t.Fatalf("expected one failed-refund notification, got %d", len(f.notifier.failedRefunds))
	}
}

func TestHandleTransferCreatedReleasesProcessingRow(t *testing.T) {
	t.Parallel()

	db := newWebhookTestDB(t)
	ctx := context.Background()
	f := newWebhookFixture(t, db)
	order := f.seedOrder(t, enums.OrderStatusDelivered, enums.PaymentStatusPaid, 3)
	row := f.seedTransaction(t, order, "pi_transfer", enums.TransactionStatusProcessing)

	event := makeStripeEvent(t, "evt_tr_ok", stripe.EventTypeTransferCreated, stripe.Transfer{
		ID:       "tr_1",
		Metadata: map[string]string{"transaction_id": row.ID.String()},
	})
	if err := f.svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("handle transfer created: %v", err)
	}

	var reloadedRow models.PaymentTransaction
	if err := db.First(&reloadedRow, "id = ?", row.ID).Error; err != nil {
		t.Fatalf("load ledger row: %v", err)
	}
	if reloadedRow.Status != enums.TransactionStatusReleased {
		t.Fatalf("ledger status = %s, want released", reloadedRow.Status)
	}
	if reloadedRow.TransferID == nil || *reloadedRow.TransferID != "tr_1" {
		t.Fatalf("transfer id not recorded: %+v", reloadedRow)
	}
	if got := f.outbox.countByType(enums.EventTransferReleased); got != 1 {
		t.Fatalf("expected one transfer.released emit, got %d", got)
	}

	// Held rows never advance off a transfer event. The ledger keys one row
	// per order and seller, so the held row gets its own order.
	heldOrder := f.seedOrder(t, enums.OrderStatusDelivered, enums.PaymentStatusPaid, 3)
	held := f.seedTransaction(t, heldOrder, "pi_transfer_held", enums.TransactionStatusHeld)
	heldEvent := makeStripeEvent(t, "evt_tr_held", stripe.EventTypeTransferCreated, stripe.Transfer{
		ID:       "tr_2",
		Metadata: map[string]string{"transaction_id": held.ID.String()},
	})
	if err := f.svc.HandleEvent(ctx, heldEvent); err != nil {
		t.Fatalf("handle transfer on held row: %v", err)
	}
	var reloadedHeld models.PaymentTransaction
	if err := db.First(&reloadedHeld, "id = ?", held.ID).Error; err != nil {
		t.Fatalf("load held row: %v", err)
	}
	if reloadedHeld.Status != enums.TransactionStatusHeld {
		t.Fatalf("held row must be untouched, got %s", reloadedHeld.Status)
	}
}

func TestHandleEventUnknownTypeIsNoOp(t *testing.T) {
	t.Parallel()

	db := newWebhookTestDB(t)
	f := newWebhookFixture(t, db)
	event := makeStripeEvent(t, "evt_unknown", stripe.EventType("customer.created"), struct{}{})
	if err := f.svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unknown type must be acknowledged, got %v", err)
	}
	if len(f.outbox.events) != 0 {
		t.Fatal("no side effects expected")
	}
}

type webhookFixture struct {
	db       *gorm.DB
	svc      *Service
	outbox   *recordingWebhookOutbox
	notifier *recordingNotifier
	sellerID uuid.UUID
}

func newWebhookFixture(t *testing.T, db *gorm.DB) *webhookFixture {
	t.Helper()

	outboxStub := &recordingWebhookOutbox{}
	notifier := &recordingNotifier{}
	svc, err := NewService(ServiceParams{
		OrdersRepo:        orders.NewRepository(db),
		Repo:              NewRepository(db),
		TransactionRunner: &webhookTxRunner{db: db},
		Outbox:            outboxStub,
		Notifier:          notifier,
		Accounts:          &noopReconciler{},
		Sessions:          &stubSessionRetriever{},
		PlatformRate:      decimal.NewFromFloat(0.10),
		DaysToHold:        7,
		Currency:          enums.CurrencyUSD,
	})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}
	return &webhookFixture{
		db:       db,
		svc:      svc,
		outbox:   outboxStub,
		notifier: notifier,
		sellerID: uuid.New(),
	}
}

// seedOrder creates a buyer, one product with the given stock, and an order
// holding one item of qty 2 at 50.00 each.
func (f *webhookFixture) seedOrder(t *testing.T, status enums.OrderStatus, paymentStatus enums.PaymentStatus, stock int) *models.Order {
	t.Helper()

	buyer := models.User{ID: uuid.New(), Email: uuid.NewString() + "@example.com", Role: enums.ActorRoleBuyer}
	if err := f.db.Create(&buyer).Error; err != nil {
		t.Fatalf("seed buyer: %v", err)
	}
	product := models.Product{
		ID:            uuid.New(),
		SellerID:      f.sellerID,
		Name:          "print",
		Price:         decimal.NewFromInt(50),
		StockQuantity: stock,
		IsActive:      true,
	}
	if err := f.db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	order := models.Order{
		ID:            uuid.New(),
		BuyerID:       buyer.ID,
		Status:        status,
		PaymentStatus: paymentStatus,
		Currency:      enums.CurrencyUSD,
		Subtotal:      decimal.NewFromInt(100),
		TotalAmount:   decimal.NewFromInt(100),
		IsLocked:      true,
	}
	if err := f.db.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	productID := product.ID
	item := models.OrderItem{
		ID:         uuid.New(),
		OrderID:    order.ID,
		ProductID:  &productID,
		SellerID:   f.sellerID,
		Name:       product.Name,
		UnitPrice:  product.Price,
		Qty:        2,
		TotalPrice: decimal.NewFromInt(100),
	}
	if err := f.db.Create(&item).Error; err != nil {
		t.Fatalf("seed order item: %v", err)
	}
	order.Items = []models.OrderItem{item}
	return &order
}

func (f *webhookFixture) seedTransaction(t *testing.T, order *models.Order, paymentIntentID string, status enums.TransactionStatus) *models.PaymentTransaction {
	t.Helper()
	row := models.PaymentTransaction{
		ID:              uuid.New(),
		OrderID:         order.ID,
		SellerID:        f.sellerID,
		PaymentIntentID: paymentIntentID,
		Currency:        enums.CurrencyUSD,
		GrossAmount:     decimal.NewFromInt(100),
		PlatformFee:     decimal.RequireFromString("10.00"),
		ProviderFee:     decimal.RequireFromString("3.20"),
		NetAmount:       decimal.RequireFromString("86.80"),
		Status:          status,
		DaysToHold:      7,
	}
	if err := f.db.Create(&row).Error; err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	return &row
}

func (f *webhookFixture) loadStock(t *testing.T, order *models.Order) int {
	t.Helper()
	var product models.Product
	if err := f.db.First(&product, "id = ?", *order.Items[0].ProductID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	return product.StockQuantity
}

type webhookTxRunner struct {
	db *gorm.DB
}

func (r *webhookTxRunner) WithRetryableTx(ctx context.Context, level sql.IsolationLevel, fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

type recordingWebhookOutbox struct {
	events []outbox.DomainEvent
}

func (o *recordingWebhookOutbox) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	o.events = append(o.events, event)
	return nil
}

func (o *recordingWebhookOutbox) countByType(eventType enums.OutboxEventType) int {
	n := 0
	for _, e := range o.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	cancellations []*models.Order
	failedRefunds []*models.Order
}

func (n *recordingNotifier) SendOrderCancellationReceipt(ctx context.Context, order *models.Order) {
	n.cancellations = append(n.cancellations, order)
}

func (n *recordingNotifier) SendFailedRefundNotification(ctx context.Context, order *models.Order) {
	n.failedRefunds = append(n.failedRefunds, order)
}

type noopReconciler struct{}

func (r *noopReconciler) Reconcile(ctx context.Context, account *stripe.Account) error {
	return nil
}

type stubSessionRetriever struct{}

func (s *stubSessionRetriever) RetrieveSession(ctx context.Context, id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return &stripe.CheckoutSession{ID: id}, nil
}

func makeStripeEvent(t *testing.T, id string, eventType stripe.EventType, payload any) *stripe.Event {
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

func loadWebhookOrder(t *testing.T, db *gorm.DB, id uuid.UUID) *models.Order {
	t.Helper()
	var order models.Order
	if err := db.First(&order, "id = ?", id).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	return &order
}

func newWebhookTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:payments_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.Product{},
		&models.Order{},
		&models.OrderItem{},
		&models.PaymentTracker{},
		&models.PaymentTransaction{},
		&models.WebhookDeadLetter{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
