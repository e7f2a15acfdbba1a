package payments

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/IuriGuerreiro/Designia-backend-sub000/pkg/db"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/db/models"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/enums"
)

// Repository exposes the tracker, ledger and dead-letter writes the webhook
// processor performs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindUserByStripeAccountID(ctx context.Context, stripeAccountID string) (*models.User, error)

	CreateTracker(ctx context.Context, tracker *models.PaymentTracker) error
	FindTrackerByKindStripeID(ctx context.Context, kind enums.TrackerKind, stripeID string) (*models.PaymentTracker, error)
	UpdateTrackerStatus(ctx context.Context, id uuid.UUID, status enums.TrackerStatus) error

	CreateTransactions(ctx context.Context, rows []models.PaymentTransaction) error
	FindTransactionsByPaymentIntentForUpdate(ctx context.Context, paymentIntentID string) ([]models.PaymentTransaction, error)
	FindTransactionByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	UpdateTransaction(ctx context.Context, id uuid.UUID, updates map[string]any) error

	InsertDeadLetter(ctx context.Context, row *models.WebhookDeadLetter) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) FindUserByStripeAccountID(ctx context.Context, stripeAccountID string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("stripe_account_id = ?", stripeAccountID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
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

func (r *repository) CreateTransactions(ctx context.Context, rows []models.PaymentTransaction) error {
	if len(rows) == 0 {
		return nil
	}
	for i := range rows {
		if rows[i].ID == uuid.Nil {
			rows[i].ID = uuid.New()
		}
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

// FindTransactionsByPaymentIntentForUpdate locks the ledger rows for one
// payment in ascending id order, matching the global lock ordering.
func (r *repository) FindTransactionsByPaymentIntentForUpdate(ctx context.Context, paymentIntentID string) ([]models.PaymentTransaction, error) {
	var rows []models.PaymentTransaction
	err := dbpkg.LockForUpdate(r.db.WithContext(ctx)).
		Where("payment_intent_id = ?", paymentIntentID).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
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

// InsertDeadLetter parks an acknowledged-but-unapplied event. A replayed
// event id is a no-op.
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
