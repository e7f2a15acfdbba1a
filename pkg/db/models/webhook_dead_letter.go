package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WebhookDeadLetter stores provider events that were acknowledged but could
// not be applied (for example an order or user reference that does not
// resolve). Rows are worked off manually during reconciliation.
type WebhookDeadLetter struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Source     string          `gorm:"column:source;not null"`
	EventID    string          `gorm:"column:event_id;not null;uniqueIndex"`
	EventType  string          `gorm:"column:event_type;not null"`
	Payload    json.RawMessage `gorm:"column:payload;type:jsonb"`
	Reason     string          `gorm:"column:reason;not null"`
	ResolvedAt *time.Time      `gorm:"column:resolved_at"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
}
