package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/billingcore/internal/clock"
	"github.com/smallbiznis/billingcore/internal/errs"
	feedomain "github.com/smallbiznis/billingcore/internal/fee/domain"
	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/billingcore/internal/usage/domain"
	"github.com/smallbiznis/billingcore/pkg/db"
)

type repo struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock clock.Clock
}

func Provide(db *gorm.DB, node *snowflake.Node, clk clock.Clock) subscriptiondomain.Repository {
	return &repo{db: db, node: node, clock: clk}
}

func (r *repo) WithTx(tx *gorm.DB) subscriptiondomain.Repository {
	return &repo{db: tx, node: r.node, clock: r.clock}
}

func (r *repo) Insert(ctx context.Context, subscription *subscriptiondomain.Subscription) error {
	if err := r.db.WithContext(ctx).Create(subscription).Error; err != nil {
		return errs.Internal("subscription.insert", err)
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, tenantID, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&subscription).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.Wrap(errs.KindNotFound, "subscription.find", subscriptiondomain.ErrSubscriptionNotFound)
	}
	if err != nil {
		return nil, errs.Internal("subscription.find", err)
	}
	return &subscription, nil
}

func (r *repo) FindByIDs(ctx context.Context, tenantID snowflake.ID, ids []snowflake.ID) (map[snowflake.ID]subscriptiondomain.Subscription, error) {
	out := make(map[snowflake.ID]subscriptiondomain.Subscription, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []subscriptiondomain.Subscription
	if err := r.db.WithContext(ctx).Where("tenant_id = ? AND id IN ?", tenantID, ids).Find(&rows).Error; err != nil {
		return nil, errs.Internal("subscription.find_many", err)
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

func (r *repo) ListBillable(ctx context.Context, afterID snowflake.ID, limit int) ([]subscriptiondomain.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []subscriptiondomain.Subscription
	err := r.db.WithContext(ctx).
		Where("status IN ? AND id > ?", subscriptiondomain.BillableStatuses, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errs.Internal("subscription.list_billable", err)
	}
	return rows, nil
}

func (r *repo) Activate(ctx context.Context, tenantID, id snowflake.ID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, activated_at = COALESCE(activated_at, ?), updated_at = ?
		 WHERE tenant_id = ? AND id = ? AND status IN ?`,
		subscriptiondomain.SubscriptionStatusActive,
		at,
		at,
		tenantID,
		id,
		subscriptiondomain.BillableStatuses,
	)
	if res.Error != nil {
		return false, errs.Internal("subscription.activate", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) AddMrr(ctx context.Context, tenantID, id snowflake.ID, delta int64) error {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET mrr_cents = mrr_cents + ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		delta,
		r.clock.Now(),
		tenantID,
		id,
	)
	if res.Error != nil {
		return errs.Internal("subscription.add_mrr", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.Wrap(errs.KindNotFound, "subscription.add_mrr", subscriptiondomain.ErrSubscriptionNotFound)
	}
	return nil
}

func (r *repo) BindComponent(ctx context.Context, subscription *subscriptiondomain.Subscription, component plandomain.PriceComponent, params *feedomain.Parameters) (*subscriptiondomain.SubscriptionComponent, error) {
	const op = "subscription.bind_component"

	definition, err := component.Definition()
	if err != nil {
		return nil, err
	}
	fee, period, err := feedomain.Resolve(definition, params)
	if err != nil {
		return nil, err
	}

	existing, err := r.findComponent(ctx, subscription.ID, component.ID)
	if err != nil {
		return nil, errs.Internal(op, err)
	}
	if existing != nil {
		return rebind(existing, params)
	}

	feeDoc, err := feedomain.EncodeSubscriptionFee(fee)
	if err != nil {
		return nil, err
	}
	var paramDoc []byte
	if params != nil {
		if paramDoc, err = json.Marshal(params); err != nil {
			return nil, errs.Serde(op, err)
		}
	}

	now := r.clock.Now()
	bound := &subscriptiondomain.SubscriptionComponent{
		ID:               r.node.Generate(),
		TenantID:         subscription.TenantID,
		SubscriptionID:   subscription.ID,
		PriceComponentID: component.ID,
		Name:             component.Name,
		Position:         component.Position,
		Period:           period,
		Fee:              feeDoc,
		Parameters:       paramDoc,
		CreatedAt:        now,
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(bound).Error; err != nil {
			return err
		}
		slot, ok := fee.(feedomain.SubscriptionSlot)
		if !ok {
			return nil
		}
		return tx.Create(&usagedomain.SlotTransaction{
			ID:             r.node.Generate(),
			TenantID:       subscription.TenantID,
			SubscriptionID: subscription.ID,
			ComponentID:    bound.ID,
			Delta:          int32(slot.InitialSlots),
			EffectiveAt:    subscription.BillingStartDate,
			TransactionAt:  now,
			CreatedAt:      now,
		}).Error
	})
	if db.IsDuplicateKeyErr(err) {
		// A concurrent bind won the unique index; compare against its row.
		existing, findErr := r.findComponent(ctx, subscription.ID, component.ID)
		if findErr != nil {
			return nil, errs.Internal(op, findErr)
		}
		if existing == nil {
			return nil, errs.Internal(op, err)
		}
		return rebind(existing, params)
	}
	if err != nil {
		return nil, errs.Internal(op, err)
	}
	return bound, nil
}

// rebind accepts an existing binding only when it was made with the same parameters.
func rebind(existing *subscriptiondomain.SubscriptionComponent, params *feedomain.Parameters) (*subscriptiondomain.SubscriptionComponent, error) {
	const op = "subscription.bind_component"

	var stored *feedomain.Parameters
	if len(existing.Parameters) > 0 {
		if err := json.Unmarshal(existing.Parameters, &stored); err != nil {
			return nil, errs.Serde(op, err)
		}
	}
	if !sameParameters(stored, params) {
		return nil, errs.Wrap(errs.KindInvalidArgument, op, subscriptiondomain.ErrComponentConflict)
	}
	return existing, nil
}

func (r *repo) ListComponents(ctx context.Context, tenantID, subscriptionID snowflake.ID) ([]subscriptiondomain.SubscriptionComponent, error) {
	var rows []subscriptiondomain.SubscriptionComponent
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND subscription_id = ?", tenantID, subscriptionID).
		Order("position ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errs.Internal("subscription.list_components", err)
	}
	return rows, nil
}

func (r *repo) InsertEvent(ctx context.Context, event *subscriptiondomain.SubscriptionEvent) error {
	if event.ID == 0 {
		event.ID = r.node.Generate()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = r.clock.Now()
	}
	event.AppliesTo = clock.Today(event.AppliesTo)
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return errs.Internal("subscription.insert_event", err)
	}
	return nil
}

func (r *repo) ListEventsOn(ctx context.Context, tenantID, subscriptionID snowflake.ID, date time.Time) ([]subscriptiondomain.SubscriptionEvent, error) {
	day := clock.Today(date)
	var rows []subscriptiondomain.SubscriptionEvent
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND subscription_id = ? AND applies_to >= ? AND applies_to < ?",
			tenantID, subscriptionID, day, day.AddDate(0, 0, 1)).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errs.Internal("subscription.list_events", err)
	}
	return rows, nil
}

func (r *repo) findComponent(ctx context.Context, subscriptionID, priceComponentID snowflake.ID) (*subscriptiondomain.SubscriptionComponent, error) {
	var row subscriptiondomain.SubscriptionComponent
	err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND price_component_id = ?", subscriptionID, priceComponentID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func sameParameters(a, b *feedomain.Parameters) bool {
	if a == nil {
		a = &feedomain.Parameters{}
	}
	if b == nil {
		b = &feedomain.Parameters{}
	}
	return equalPtr(a.BillingPeriod, b.BillingPeriod) &&
		equalPtr(a.InitialSlots, b.InitialSlots) &&
		equalPtr(a.CommittedCapacity, b.CommittedCapacity)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
