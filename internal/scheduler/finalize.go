package scheduler

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/smallbiznis/billingcore/internal/eventbus"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	"github.com/smallbiznis/billingcore/internal/scheduler/guard"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	"github.com/smallbiznis/billingcore/pkg/db/pagination"
)

// FinalizeJob freezes mutable invoices whose grace period has elapsed.
// Recurring invoices are priced one last time; other types keep the lines
// they were created with.
func (s *Scheduler) FinalizeJob(ctx context.Context) error {
	batch := s.batchSize(JobFinalize)
	ctx, run, owner := s.ensureJobRun(ctx, JobFinalize, batch)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()

	list := func(ctx context.Context, page pagination.Pagination) (pagination.Page[invoicedomain.Invoice], error) {
		return s.invoices.ListToFinalize(ctx, now, page)
	}
	err := s.scanInvoices(ctx, JobFinalize, batch, list, func(ctx context.Context, page []invoicedomain.Invoice) error {
		subs, err := s.subscriptionsFor(ctx, page)
		if err != nil {
			return err
		}
		for i := range page {
			inv := page[i]
			if err := ctx.Err(); err != nil {
				return err
			}
			sub, ok := subs[inv.SubscriptionID]
			if !ok {
				s.logWorkerError(ctx, run, "scheduler.invoice.subscription_missing", JobFinalize, inv.TenantID,
					subscriptiondomain.ErrSubscriptionNotFound, invoiceFields(inv)...)
				continue
			}
			if err := guard.EnsureFinalizeReady(inv.InvoiceDate, sub.GracePeriod(), now); err != nil {
				continue
			}
			if err := s.finalizeOne(ctx, run, &inv); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.logWorkerError(ctx, run, "scheduler.finalize.failed", JobFinalize, 0, err)
	}
	return err
}

// finalizeOne returns an error only for repository failures. Pricing and
// decoding problems are logged and the invoice is retried on the next run.
func (s *Scheduler) finalizeOne(ctx context.Context, run *jobRun, inv *invoicedomain.Invoice) error {
	var (
		lines []invoicedomain.LineItem
		err   error
	)
	if inv.InvoiceType == invoicedomain.InvoiceTypeRecurring {
		lines, err = s.pricing.PriceInvoice(ctx, inv)
	} else {
		lines, err = inv.Lines()
	}
	if err != nil {
		s.wm.IncPricingFailure(JobFinalize, err)
		s.logWorkerError(ctx, run, "scheduler.invoice.pricing_failed", JobFinalize, inv.TenantID, err, invoiceFields(*inv)...)
		return nil
	}

	from := inv.Status
	at := s.clock.Now()
	finalized, err := s.invoices.Finalize(ctx, inv.TenantID, inv.ID, lines, at)
	if err != nil {
		return err
	}
	if !finalized {
		s.wm.IncCASConflict(JobFinalize)
		return nil
	}

	totals := invoicedomain.ComputeTotals(lines)
	s.wm.IncInvoiceTransition(string(from), string(invoicedomain.StatusFinalized))
	s.metrics.RecordInvoiceFinalized(ctx, inv.Currency)
	run.AddProcessed(1)
	s.logger(ctx).Info("invoice.finalized",
		append(invoiceFields(*inv),
			zap.String("from_status", string(from)),
			zap.Int64("total", totals.Total),
			zap.String("currency", inv.Currency),
		)...,
	)
	s.publish(ctx, eventbus.NewEvent(eventbus.TopicInvoiceFinalized, inv.TenantID, map[string]any{
		"invoice_id":      inv.ID.String(),
		"subscription_id": inv.SubscriptionID.String(),
		"invoice_type":    string(inv.InvoiceType),
		"currency":        inv.Currency,
		"total":           totals.Total,
	}, at))
	return nil
}

func (s *Scheduler) publish(ctx context.Context, event eventbus.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger(ctx).Warn("scheduler.event.publish_failed",
			zap.String("event_type", event.Type),
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
	}
}
