package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/billingcore/internal/clock"
	"github.com/smallbiznis/billingcore/internal/errs"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	mrrdomain "github.com/smallbiznis/billingcore/internal/mrr/domain"
	"github.com/smallbiznis/billingcore/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
)

type Params struct {
	fx.In

	Log              *zap.Logger
	Node             *snowflake.Node
	Clock            clock.Clock
	SubscriptionRepo subscriptiondomain.Repository
	Metrics          *metrics.Metrics       `optional:"true"`
	WorkerMetrics    *metrics.WorkerMetrics `optional:"true"`
}

// Deriver turns the subscription events dated on an invoice's date into MRR
// ledger rows. Each event yields its own row; same-day events are not netted.
type Deriver struct {
	log     *zap.Logger
	node    *snowflake.Node
	clock   clock.Clock
	subs    subscriptiondomain.Repository
	metrics *metrics.Metrics
	workers *metrics.WorkerMetrics
}

func NewDeriver(p Params) *Deriver {
	return &Deriver{
		log:     p.Log.Named("mrr.deriver"),
		node:    p.Node,
		clock:   p.Clock,
		subs:    p.SubscriptionRepo,
		metrics: p.Metrics,
		workers: p.WorkerMetrics,
	}
}

// Derive must run in the transaction that inserted invoice.
func (d *Deriver) Derive(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice) error {
	const op = "mrr.derive"
	if !invoice.InvoiceType.MovesMrr() {
		return nil
	}

	subs := d.subs.WithTx(tx)
	events, err := subs.ListEventsOn(ctx, invoice.TenantID, invoice.SubscriptionID, invoice.InvoiceDate)
	if err != nil {
		return err
	}

	now := d.clock.Now()
	rows := make([]*mrrdomain.MovementLog, 0, len(events))
	for _, event := range events {
		if event.MrrDelta == nil {
			continue
		}
		movement, ok := mrrdomain.Classify(event.EventType, *event.MrrDelta)
		if !ok {
			continue
		}
		rows = append(rows, &mrrdomain.MovementLog{
			ID:             d.node.Generate(),
			TenantID:       invoice.TenantID,
			SubscriptionID: invoice.SubscriptionID,
			InvoiceID:      invoice.ID,
			EventID:        event.ID,
			PlanVersionID:  invoice.PlanVersionID,
			MovementType:   movement,
			EventType:      event.EventType,
			NetMrrChange:   *event.MrrDelta,
			Currency:       invoice.Currency,
			AppliesTo:      clock.Today(invoice.InvoiceDate),
			Description:    fmt.Sprintf("%s on %s", event.EventType, invoice.InvoiceDate.Format("2006-01-02")),
			CreatedAt:      now,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	if err := tx.WithContext(ctx).CreateInBatches(rows, 100).Error; err != nil {
		return errs.Internal(op, err)
	}

	total := lo.SumBy(rows, func(row *mrrdomain.MovementLog) int64 { return row.NetMrrChange })
	if err := subs.AddMrr(ctx, invoice.TenantID, invoice.SubscriptionID, total); err != nil {
		return err
	}

	for movement, group := range lo.GroupBy(rows, func(row *mrrdomain.MovementLog) mrrdomain.MovementType { return row.MovementType }) {
		d.workers.AddMRRMovements(string(movement), len(group))
		for _, row := range group {
			d.metrics.RecordMRRDelta(ctx, string(movement), row.Currency, row.NetMrrChange)
		}
	}

	d.log.Info("mrr.movements.recorded",
		zap.String("tenant_id", invoice.TenantID.String()),
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("subscription_id", invoice.SubscriptionID.String()),
		zap.Int("movements", len(rows)),
		zap.Int64("net_mrr_change", total),
	)
	return nil
}
