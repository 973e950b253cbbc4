// Package domain contains the metered usage and slot records the pricing
// engine reads through a Source.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// UsageEvent stores a single unit of metered activity.
type UsageEvent struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	TenantID       snowflake.ID      `gorm:"not null;index:ix_usage_events_lookup"`
	SubscriptionID snowflake.ID      `gorm:"not null;index:ix_usage_events_lookup"`
	MetricID       string            `gorm:"type:text;not null;index:ix_usage_events_lookup"`
	Value          decimal.Decimal   `gorm:"type:numeric;not null"`
	Dimensions     datatypes.JSONMap `gorm:"type:jsonb"`
	RecordedAt     time.Time         `gorm:"not null;index:ix_usage_events_lookup"`
	IdempotencyKey *string           `gorm:"type:text;uniqueIndex"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }

// SlotTransaction changes the active slot count of a subscription component
// from EffectiveAt onwards.
type SlotTransaction struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	TenantID        snowflake.ID `gorm:"not null;index"`
	SubscriptionID  snowflake.ID `gorm:"not null;index:ix_slot_transactions_lookup"`
	ComponentID     snowflake.ID `gorm:"not null;index:ix_slot_transactions_lookup"`
	Delta           int32        `gorm:"not null"`
	PrevActiveSlots int32        `gorm:"not null;default:0"`
	EffectiveAt     time.Time    `gorm:"not null;index:ix_slot_transactions_lookup"`
	TransactionAt   time.Time    `gorm:"not null"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SlotTransaction) TableName() string { return "slot_transactions" }
