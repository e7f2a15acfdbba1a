package payouts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/IuriGuerreiro/Designia-backend-sub000/pkg/db"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/db/models"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/enums"
)

// Repository exposes the seller, ledger and payout access the aggregator
// performs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindSellerByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	FindPayableTransactionsForUpdate(ctx context.Context, sellerID uuid.UUID, since time.Time) ([]models.PaymentTransaction, error)
	FindMaturedHeldTransactions(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	FindTransactionByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	UpdateTransaction(ctx context.Context, id uuid.UUID, updates map[string]any) error
	MarkTransactionsPayedOut(ctx context.Context, ids []uuid.UUID, payedOut bool) error

	CreatePayout(ctx context.Context, payout *models.Payout) error
	CreatePayoutItems(ctx context.Context, items []models.PayoutItem) error
	FindPayoutByStripeIDForUpdate(ctx context.Context, stripePayoutID string) (*models.Payout, error)
	UpdatePayout(ctx context.Context, id uuid.UUID, updates map[string]any) error
	FindTransactionIDsByPayout(ctx context.Context, payoutID uuid.UUID) ([]uuid.UUID, error)
	FindSellersWithPendingPayouts(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error)

	CreateTracker(ctx context.Context, tracker *models.PaymentTracker) error
	FindTrackerByKindStripeID(ctx context.Context, kind enums.TrackerKind, stripeID string) (*models.PaymentTracker, error)
	UpdateTrackerStatus(ctx context.Context, id uuid.UUID, status enums.TrackerStatus) error

	InsertDeadLetter(ctx context.Context, row *models.WebhookDeadLetter) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payouts repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindSellerByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindPayableTransactionsForUpdate locks the released, not-yet-paid-out
// ledger rows for one seller in ascending id order. A zero since time means
// no lower bound on creation.
func (r *repository) FindPayableTransactionsForUpdate(ctx context.Context, sellerID uuid.UUID, since time.Time) ([]models.PaymentTransaction, error) {
	query := dbpkg.LockForUpdate(r.db.WithContext(ctx)).
		Where("seller_id = ? AND status = ? AND payed_out = ?", sellerID, enums.TransactionStatusReleased, false)
	if !since.IsZero() {
		query = query.Where("created_at >= ?", since)
	}
	var rows []models.PaymentTransaction
	err := query.Order("id ASC").Find(&rows).Error
	return rows, err
}

func (r *repository) FindMaturedHeldTransactions(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("status = ? AND planned_release_date <= ?", enums.TransactionStatusHeld, cutoff).
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Pluck("id", &ids).Error
	return ids, err
}

func (r *repository) FindTransactionByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	var row models.PaymentTransaction
	err := dbpkg.LockForUpdate(r.db.WithContext(ctx)).
		Where("id = ?", id).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) UpdateTransaction(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) MarkTransactionsPayedOut(ctx context.Context, ids []uuid.UUID, payedOut bool) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id IN ?", ids).
		Update("payed_out", payedOut).Error
}

func (r *repository) CreatePayout(ctx context.Context, payout *models.Payout) error {
	if payout.ID == uuid.Nil {
		payout.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Omit("Items").Create(payout).Error
}

func (r *repository) CreatePayoutItems(ctx context.Context, items []models.PayoutItem) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		if items[i].ID == uuid.Nil {
			items[i].ID = uuid.New()
		}
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *repository) FindPayoutByStripeIDForUpdate(ctx context.Context, stripePayoutID string) (*models.Payout, error) {
	var payout models.Payout
	err := dbpkg.LockForUpdate(r.db.WithContext(ctx)).
		Where("stripe_payout_id = ?", stripePayoutID).
		First(&payout).Error
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) UpdatePayout(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Payout{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) FindTransactionIDsByPayout(ctx context.Context, payoutID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.PayoutItem{}).
		Where("payout_id = ?", payoutID).
		Order("transaction_id ASC").
		Pluck("transaction_id", &ids).Error
	return ids, err
}

// FindSellersWithPendingPayouts returns the distinct sellers whose payout
// batches have been pending since before olderThan.
func (r *repository) FindSellersWithPendingPayouts(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := r.db.WithContext(ctx).
		Model(&models.Payout{}).
		Distinct("seller_id").
		Where("status = ? AND created_at < ?", enums.PayoutStatusPending, olderThan).
		Order("seller_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Pluck("seller_id", &ids).Error
	return ids, err
}

func (r *repository) CreateTracker(ctx context.Context, tracker *models.PaymentTracker) error {
	if tracker.ID == uuid.Nil {
		tracker.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(tracker).Error
}

func (r *repository) FindTrackerByKindStripeID(ctx context.Context, kind enums.TrackerKind, stripeID string) (*models.PaymentTracker, error) {
	var tracker models.PaymentTracker
	err := r.db.WithContext(ctx).
		Where("kind = ? AND stripe_id = ?", kind, stripeID).
		First(&tracker).Error
	if err != nil {
		return nil, err
	}
	return &tracker, nil
}

func (r *repository) UpdateTrackerStatus(ctx context.Context, id uuid.UUID, status enums.TrackerStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentTracker{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// InsertDeadLetter parks an acknowledged-but-unapplied Connect event. A
// replayed event id is a no-op.
func (r *repository) InsertDeadLetter(ctx context.Context, row *models.WebhookDeadLetter) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.Payload == nil {
		row.Payload = json.RawMessage("{}")
	}
	err := r.db.WithContext(ctx).Create(row).Error
	if err != nil && dbpkg.IsUniqueViolation(err, "") {
		return nil
	}
	return err
}
