package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	feedomain "github.com/smallbiznis/billingcore/internal/fee/domain"
	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrComponentConflict    = errors.New("subscription_component_parameters_conflict")
)

type Repository interface {
	// WithTx binds the repository to an open transaction.
	WithTx(tx *gorm.DB) Repository

	Insert(ctx context.Context, subscription *Subscription) error
	FindByID(ctx context.Context, tenantID, id snowflake.ID) (*Subscription, error)
	FindByIDs(ctx context.Context, tenantID snowflake.ID, ids []snowflake.ID) (map[snowflake.ID]Subscription, error)
	// ListBillable pages billable subscriptions ordered by id, starting after afterID.
	ListBillable(ctx context.Context, afterID snowflake.ID, limit int) ([]Subscription, error)
	Activate(ctx context.Context, tenantID, id snowflake.ID, at time.Time) (bool, error)
	AddMrr(ctx context.Context, tenantID, id snowflake.ID, delta int64) error

	// BindComponent resolves a price component against params and stores it.
	// Binding again with identical parameters returns the existing binding.
	BindComponent(ctx context.Context, subscription *Subscription, component plandomain.PriceComponent, params *feedomain.Parameters) (*SubscriptionComponent, error)
	ListComponents(ctx context.Context, tenantID, subscriptionID snowflake.ID) ([]SubscriptionComponent, error)

	InsertEvent(ctx context.Context, event *SubscriptionEvent) error
	ListEventsOn(ctx context.Context, tenantID, subscriptionID snowflake.ID, date time.Time) ([]SubscriptionEvent, error)
}
