// Package domain contains persistence models for subscriptions, their bound
// components and the lifecycle events that move MRR.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"

	feedomain "github.com/smallbiznis/billingcore/internal/fee/domain"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusPending  SubscriptionStatus = "PENDING"
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
	SubscriptionStatusEnded    SubscriptionStatus = "ENDED"
)

// BillableStatuses are the statuses the draft worker creates invoices for.
// Pending subscriptions are billed so their first invoice can activate them.
var BillableStatuses = []SubscriptionStatus{SubscriptionStatusPending, SubscriptionStatusActive}

// Subscription captures a customer's billing agreement.
type Subscription struct {
	ID                snowflake.ID            `gorm:"primaryKey" json:"id"`
	TenantID          snowflake.ID            `gorm:"not null;index" json:"tenant_id"`
	CustomerID        snowflake.ID            `gorm:"not null;index" json:"customer_id"`
	PlanVersionID     snowflake.ID            `gorm:"not null;index" json:"plan_version_id"`
	Status            SubscriptionStatus      `gorm:"type:text;not null" json:"status"`
	Currency          string                  `gorm:"type:text;not null" json:"currency"`
	BillingStartDate  time.Time               `gorm:"type:date;not null" json:"billing_start_date"`
	BillingDay        int16                   `gorm:"type:smallint;not null" json:"billing_day"`
	BillingPeriod     feedomain.BillingPeriod `gorm:"type:text;not null" json:"billing_period"`
	NetTerms          int32                   `gorm:"not null;default:0" json:"net_terms"`
	GracePeriodHours  int32                   `gorm:"not null;default:0" json:"grace_period_hours"`
	InvoicingProvider string                  `gorm:"type:text;not null;default:'manual'" json:"invoicing_provider"`
	MrrCents          int64                   `gorm:"not null;default:0" json:"mrr_cents"`
	ActivatedAt       *time.Time              `gorm:"" json:"activated_at,omitempty"`
	CanceledAt        *time.Time              `gorm:"" json:"canceled_at,omitempty"`
	CreatedAt         time.Time               `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time               `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// Schedule returns the subscription's invoice schedule.
func (s Subscription) Schedule() Schedule {
	return NewSchedule(s.BillingStartDate, int(s.BillingDay), s.BillingPeriod)
}

// GracePeriod is how long an invoice waits in pending finalization.
func (s Subscription) GracePeriod() time.Duration {
	return time.Duration(s.GracePeriodHours) * time.Hour
}

// SubscriptionComponent is a plan price component bound to a subscription
// with its parameters resolved.
type SubscriptionComponent struct {
	ID               snowflake.ID            `gorm:"primaryKey" json:"id"`
	TenantID         snowflake.ID            `gorm:"not null;index" json:"tenant_id"`
	SubscriptionID   snowflake.ID            `gorm:"not null;uniqueIndex:ux_subscription_component" json:"subscription_id"`
	PriceComponentID snowflake.ID            `gorm:"not null;uniqueIndex:ux_subscription_component" json:"price_component_id"`
	Name             string                  `gorm:"type:text;not null" json:"name"`
	Position         int32                   `gorm:"not null;default:0" json:"position"`
	Period           feedomain.BillingPeriod `gorm:"type:text;not null" json:"period"`
	Fee              datatypes.JSON          `gorm:"type:jsonb;not null" json:"fee"`
	Parameters       datatypes.JSON          `gorm:"type:jsonb" json:"parameters"`
	CreatedAt        time.Time               `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (SubscriptionComponent) TableName() string { return "subscription_components" }

// ResolvedFee decodes the stored subscription fee.
func (c SubscriptionComponent) ResolvedFee() (feedomain.SubscriptionFee, error) {
	return feedomain.DecodeSubscriptionFee(c.Fee)
}

type EventType string

const (
	EventTypeCreated     EventType = "CREATED"
	EventTypeActivated   EventType = "ACTIVATED"
	EventTypeSwitch      EventType = "SWITCH"
	EventTypeUpdated     EventType = "UPDATED"
	EventTypeCancelled   EventType = "CANCELLED"
	EventTypeReactivated EventType = "REACTIVATED"
)

func (t EventType) Valid() bool {
	switch t {
	case EventTypeCreated, EventTypeActivated, EventTypeSwitch, EventTypeUpdated, EventTypeCancelled, EventTypeReactivated:
		return true
	}
	return false
}

// SubscriptionEvent records a lifecycle change effective on AppliesTo.
type SubscriptionEvent struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	TenantID       snowflake.ID      `gorm:"not null;index" json:"tenant_id"`
	SubscriptionID snowflake.ID      `gorm:"not null;index:ix_subscription_events_applies" json:"subscription_id"`
	EventType      EventType         `gorm:"type:text;not null" json:"event_type"`
	MrrDelta       *int64            `gorm:"" json:"mrr_delta,omitempty"`
	AppliesTo      time.Time         `gorm:"type:date;not null;index:ix_subscription_events_applies" json:"applies_to"`
	Details        datatypes.JSONMap `gorm:"type:jsonb" json:"details"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (SubscriptionEvent) TableName() string { return "subscription_events" }
