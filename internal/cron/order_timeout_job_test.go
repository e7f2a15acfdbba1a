package cron

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/IuriGuerreiro/Designia-backend-sub000/internal/orders"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/db/models"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/enums"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/logger"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/outbox"
)

func TestOrderTimeoutJobExpiresStaleOrders(t *testing.T) {
	t.Parallel()

	db := newCronTestDB(t)
	ctx := context.Background()

	staleOrder, staleProduct := seedPendingOrder(t, db, time.Now().UTC().Add(-96*time.Hour))
	freshOrder, freshProduct := seedPendingOrder(t, db, time.Now().UTC().Add(-time.Hour))

	emitter := &recordingEmitter{}
	job := newTimeoutJob(t, db, emitter)
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run timeout sweep: %v", err)
	}

	stale := loadCronOrder(t, db, staleOrder.ID)
	if stale.Status != enums.OrderStatusCancelled || stale.CancelledAt == nil {
		t.Fatalf("stale order not expired: %+v", stale)
	}
	if got := loadCronStock(t, db, staleProduct); got != 5 {
		t.Fatalf("expected stale order stock returned to 5, got %d", got)
	}

	fresh := loadCronOrder(t, db, freshOrder.ID)
	if fresh.Status != enums.OrderStatusPendingPayment {
		t.Fatalf("fresh order must be untouched, got %s", fresh.Status)
	}
	if got := loadCronStock(t, db, freshProduct); got != 3 {
		t.Fatalf("fresh order stock must stay reserved, got %d", got)
	}

	if len(emitter.events) != 1 || emitter.events[0].EventType != enums.EventOrderExpired {
		t.Fatalf("expected one order.expired event, got %+v", emitter.events)
	}
}

func TestOrderTimeoutJobCancelsFailedPaymentWithoutReleasingStock(t *testing.T) {
	t.Parallel()

	db := newCronTestDB(t)
	ctx := context.Background()

	order, product := seedPendingOrder(t, db, time.Now().UTC().Add(-96*time.Hour))
	// The failed-payment webhook already returned the reservation and left
	// the order pending with payment_status failed.
	if err := db.Model(&models.Order{}).Where("id = ?", order.ID).
		Update("payment_status", enums.PaymentStatusFailed).Error; err != nil {
		t.Fatalf("fail payment: %v", err)
	}
	if err := db.Model(&models.Product{}).Where("id = ?", product).
		Update("stock_quantity", 5).Error; err != nil {
		t.Fatalf("return stock: %v", err)
	}

	emitter := &recordingEmitter{}
	job := newTimeoutJob(t, db, emitter)
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run timeout sweep: %v", err)
	}

	reloaded := loadCronOrder(t, db, order.ID)
	if reloaded.Status != enums.OrderStatusCancelled || reloaded.CancelledAt == nil {
		t.Fatalf("failed-payment order must still be cancelled: %+v", reloaded)
	}
	if got := loadCronStock(t, db, product); got != 5 {
		t.Fatalf("stock must not be released twice, got %d", got)
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType != enums.EventOrderExpired {
		t.Fatalf("expected one order.expired event, got %+v", emitter.events)
	}
}

func TestOrderTimeoutJobSkipsSettledOrder(t *testing.T) {
	t.Parallel()

	db := newCronTestDB(t)
	ctx := context.Background()

	order, product := seedPendingOrder(t, db, time.Now().UTC().Add(-96*time.Hour))
	// The payment webhook raced the sweep and confirmed the order.
	if err := db.Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]any{
		"status":         enums.OrderStatusPaymentConfirmed,
		"payment_status": enums.PaymentStatusPaid,
	}).Error; err != nil {
		t.Fatalf("settle order: %v", err)
	}

	emitter := &recordingEmitter{}
	job := newTimeoutJob(t, db, emitter)
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run timeout sweep: %v", err)
	}

	reloaded := loadCronOrder(t, db, order.ID)
	if reloaded.Status != enums.OrderStatusPaymentConfirmed {
		t.Fatalf("settled order must be untouched, got %s", reloaded.Status)
	}
	if got := loadCronStock(t, db, product); got != 3 {
		t.Fatalf("settled order stock must stay reserved, got %d", got)
	}
	if len(emitter.events) != 0 {
		t.Fatal("no event expected for a settled order")
	}
}

func newTimeoutJob(t *testing.T, db *gorm.DB, emitter *recordingEmitter) Job {
	t.Helper()
	job, err := NewOrderTimeoutJob(OrderTimeoutJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		DB:         &cronTxRunner{db: db},
		Repo:       orders.NewRepository(db),
		Outbox:     emitter,
		PendingTTL: 72 * time.Hour,
	})
	if err != nil {
		t.Fatalf("setup job: %v", err)
	}
	return job
}

// seedPendingOrder creates a pending-payment order with one item of qty 2
// against a product left with 3 units of stock.
func seedPendingOrder(t *testing.T, db *gorm.DB, createdAt time.Time) (*models.Order, uuid.UUID) {
	t.Helper()

	product := models.Product{
		ID:            uuid.New(),
		SellerID:      uuid.New(),
		Name:          "widget",
		Price:         decimal.NewFromInt(20),
		StockQuantity: 3,
		IsActive:      true,
	}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}

	order := models.Order{
		ID:            uuid.New(),
		BuyerID:       uuid.New(),
		Status:        enums.OrderStatusPendingPayment,
		PaymentStatus: enums.PaymentStatusPending,
		Currency:      enums.CurrencyUSD,
		Subtotal:      decimal.NewFromInt(40),
		TotalAmount:   decimal.NewFromInt(40),
		IsLocked:      true,
	}
	if err := db.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	// autoCreateTime stamps now; push created_at back explicitly.
	if err := db.Model(&models.Order{}).Where("id = ?", order.ID).Update("created_at", createdAt).Error; err != nil {
		t.Fatalf("backdate order: %v", err)
	}

	productID := product.ID
	item := models.OrderItem{
		ID:         uuid.New(),
		OrderID:    order.ID,
		ProductID:  &productID,
		SellerID:   product.SellerID,
		Name:       product.Name,
		UnitPrice:  product.Price,
		Qty:        2,
		TotalPrice: decimal.NewFromInt(40),
	}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed order item: %v", err)
	}
	return &order, product.ID
}

type cronTxRunner struct {
	db *gorm.DB
}

func (r *cronTxRunner) WithRetryableTx(ctx context.Context, level sql.IsolationLevel, fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

type recordingEmitter struct {
	events []outbox.DomainEvent
}

func (e *recordingEmitter) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	e.events = append(e.events, event)
	return nil
}

func loadCronOrder(t *testing.T, db *gorm.DB, id uuid.UUID) *models.Order {
	t.Helper()
	var order models.Order
	if err := db.First(&order, "id = ?", id).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	return &order
}

func loadCronStock(t *testing.T, db *gorm.DB, id uuid.UUID) int {
	t.Helper()
	var product models.Product
	if err := db.First(&product, "id = ?", id).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	return product.StockQuantity
}

func newCronTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:cron_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Product{}, &models.Order{}, &models.OrderItem{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
