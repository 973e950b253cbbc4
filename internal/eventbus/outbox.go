package eventbus

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	billingeventdomain "github.com/smallbiznis/billingcore/internal/billingevent/domain"
	"github.com/smallbiznis/billingcore/internal/errs"
)

// OutboxPublisher stores events in billing_events for an external relay.
type OutboxPublisher struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewOutboxPublisher(db *gorm.DB, node *snowflake.Node) *OutboxPublisher {
	return &OutboxPublisher{db: db, node: node}
}

func (p *OutboxPublisher) Publish(ctx context.Context, event Event) error {
	if err := event.validate(); err != nil {
		return err
	}
	row := &billingeventdomain.BillingEvent{
		ID:         p.node.Generate(),
		TenantID:   event.TenantID,
		EventType:  event.Type,
		Payload:    event.Payload,
		DedupeKey:  event.ID,
		OccurredAt: event.OccurredAt,
	}
	if row.Payload == nil {
		row.Payload = map[string]any{}
	}
	err := p.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row).Error
	if err != nil {
		return errs.FromContext("eventbus.outbox_publish", err)
	}
	return nil
}
