package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/enums"
)

// PayoutItem links a payout batch to one settled ledger entry. The amount
// fields are snapshots taken at payout-creation time so later ledger
// mutations never rewrite historical payout records.
type PayoutItem struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	PayoutID         uuid.UUID       `gorm:"column:payout_id;type:uuid;not null;index"`
	TransactionID    uuid.UUID       `gorm:"column:transaction_id;type:uuid;not null;uniqueIndex:ux_payout_items_payout_transaction"`
	TransferAmount   decimal.Decimal `gorm:"column:transfer_amount;type:numeric(12,2);not null"`
	TransferCurrency enums.Currency  `gorm:"column:transfer_currency;type:text;not null;default:'usd'"`
	TransferDate     time.Time       `gorm:"column:transfer_date;not null"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
}
