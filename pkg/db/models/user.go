package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/enums"
)

// User carries the account fields the settlement core needs: identity,
// role, and the linked provider account for seller payouts.
type User struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Email           string          `gorm:"column:email;not null;uniqueIndex"`
	Role            enums.ActorRole `gorm:"column:role;type:text;not null;default:'buyer'"`
	StripeAccountID *string         `gorm:"column:stripe_account_id"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
