package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/enums"
)

// Payout is one batched provider-side transfer of aggregated net funds to a
// single seller. Terminal status is only ever written by the Connect
// webhook channel.
type Payout struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	SellerID       uuid.UUID          `gorm:"column:seller_id;type:uuid;not null;index"`
	AmountCents    int64              `gorm:"column:amount_cents;not null"`
	AmountDecimal  decimal.Decimal    `gorm:"column:amount_decimal;type:numeric(12,2);not null"`
	Currency       enums.Currency     `gorm:"column:currency;type:text;not null;default:'usd'"`
	StripePayoutID string             `gorm:"column:stripe_payout_id;not null;uniqueIndex"`
	Status         enums.PayoutStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	FailureCode    *string            `gorm:"column:failure_code"`
	FailureMessage *string            `gorm:"column:failure_message"`
	Items          []PayoutItem       `gorm:"foreignKey:PayoutID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
