package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/enums"
)

// PaymentTracker is the audit/idempotency trail for provider-side actions.
// One row per distinct payment intent, transfer, refund or payout id; it is
// separate from the settlement ledger and never drives money movement.
type PaymentTracker struct {
	ID        uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	UserID    uuid.UUID           `gorm:"column:user_id;type:uuid;not null"`
	Kind      enums.TrackerKind   `gorm:"column:kind;type:text;not null;uniqueIndex:ux_payment_trackers_kind_stripe_id"`
	StripeID  string              `gorm:"column:stripe_id;not null;uniqueIndex:ux_payment_trackers_kind_stripe_id"`
	Status    enums.TrackerStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	Amount    decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency  enums.Currency      `gorm:"column:currency;type:text;not null;default:'usd'"`
	CreatedAt time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
