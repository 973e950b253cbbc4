// Package domain contains the MRR movement ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"

	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
)

type MovementType string

const (
	MovementNewBusiness  MovementType = "NEW_BUSINESS"
	MovementExpansion    MovementType = "EXPANSION"
	MovementContraction  MovementType = "CONTRACTION"
	MovementChurn        MovementType = "CHURN"
	MovementReactivation MovementType = "REACTIVATION"
)

// MovementLog is an append-only MRR ledger row attributed to the invoice
// whose insertion derived it.
type MovementLog struct {
	ID             snowflake.ID                 `gorm:"primaryKey"`
	TenantID       snowflake.ID                 `gorm:"not null;index"`
	SubscriptionID snowflake.ID                 `gorm:"not null;index"`
	InvoiceID      snowflake.ID                 `gorm:"not null;index"`
	EventID        snowflake.ID                 `gorm:"not null"`
	PlanVersionID  snowflake.ID                 `gorm:"not null"`
	MovementType   MovementType                 `gorm:"type:text;not null"`
	EventType      subscriptiondomain.EventType `gorm:"type:text;not null"`
	NetMrrChange   int64                        `gorm:"not null"`
	Currency       string                       `gorm:"type:text;not null"`
	AppliesTo      time.Time                    `gorm:"type:date;not null"`
	Description    string                       `gorm:"type:text"`
	CreatedAt      time.Time                    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (MovementLog) TableName() string { return "bi_mrr_movement_log" }

// Classify maps a subscription event and its delta to a movement type. Events
// without a delta do not move MRR.
func Classify(eventType subscriptiondomain.EventType, delta int64) (MovementType, bool) {
	if delta == 0 {
		return "", false
	}
	switch eventType {
	case subscriptiondomain.EventTypeCreated, subscriptiondomain.EventTypeActivated:
		return MovementNewBusiness, true
	case subscriptiondomain.EventTypeSwitch, subscriptiondomain.EventTypeUpdated:
		if delta > 0 {
			return MovementExpansion, true
		}
		return MovementContraction, true
	case subscriptiondomain.EventTypeCancelled:
		return MovementChurn, true
	case subscriptiondomain.EventTypeReactivated:
		return MovementReactivation, true
	}
	return "", false
}
