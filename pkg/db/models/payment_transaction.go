package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/enums"
)

// PaymentTransaction is the seller-level settlement ledger entry: one row
// per (order, seller) pair for which money must eventually reach the
// seller. Rows are never deleted; refunds are a status transition.
type PaymentTransaction struct {
	ID                 uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	OrderID            uuid.UUID               `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_payment_transactions_order_seller"`
	SellerID           uuid.UUID               `gorm:"column:seller_id;type:uuid;not null;uniqueIndex:ux_payment_transactions_order_seller"`
	PaymentIntentID    string                  `gorm:"column:payment_intent_id;not null;index"`
	Currency           enums.Currency          `gorm:"column:currency;type:text;not null;default:'usd'"`
	GrossAmount        decimal.Decimal         `gorm:"column:gross_amount;type:numeric(12,2);not null"`
	PlatformFee        decimal.Decimal         `gorm:"column:platform_fee;type:numeric(12,2);not null"`
	ProviderFee        decimal.Decimal         `gorm:"column:provider_fee;type:numeric(12,2);not null"`
	NetAmount          decimal.Decimal         `gorm:"column:net_amount;type:numeric(12,2);not null"`
	Status             enums.TransactionStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	TransferID         *string                 `gorm:"column:transfer_id;index"`
	PayedOut           bool                    `gorm:"column:payed_out;not null;default:false"`
	HoldStartDate      time.Time               `gorm:"column:hold_start_date;not null"`
	DaysToHold         int                     `gorm:"column:days_to_hold;not null"`
	PlannedReleaseDate time.Time               `gorm:"column:planned_release_date;not null"`
	CreatedAt          time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// FeesReconcile checks net == gross - platform - provider.
func (t PaymentTransaction) FeesReconcile() bool {
	expected := t.GrossAmount.Sub(t.PlatformFee).Sub(t.ProviderFee)
	return t.NetAmount.Equal(expected)
}
