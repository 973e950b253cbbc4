package scheduler

import (
	"context"

	"go.uber.org/zap"

	"github.com/smallbiznis/billingcore/internal/clock"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	"github.com/smallbiznis/billingcore/pkg/db/pagination"
)

// PriceJob refreshes the lines of mutable recurring invoices whose data is
// missing or older than the reprice interval. A pricing failure skips the
// invoice; the next run retries it.
func (s *Scheduler) PriceJob(ctx context.Context) error {
	batch := s.batchSize(JobPrice)
	ctx, run, owner := s.ensureJobRun(ctx, JobPrice, batch)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()
	today := clock.Today(now)
	staleBefore := now.Add(-s.workers.Get().RepriceInterval)

	list := func(ctx context.Context, page pagination.Pagination) (pagination.Page[invoicedomain.Invoice], error) {
		return s.invoices.ListToPrice(ctx, today, staleBefore, page)
	}
	err := s.scanInvoices(ctx, JobPrice, batch, list, func(ctx context.Context, page []invoicedomain.Invoice) error {
		for i := range page {
			inv := page[i]
			if err := ctx.Err(); err != nil {
				return err
			}
			lines, err := s.pricing.PriceInvoice(ctx, &inv)
			if err != nil {
				s.wm.IncPricingFailure(JobPrice, err)
				s.logWorkerError(ctx, run, "scheduler.invoice.pricing_failed", JobPrice, inv.TenantID, err, invoiceFields(inv)...)
				continue
			}
			updated, err := s.invoices.UpdateLines(ctx, inv.TenantID, inv.ID, lines, s.clock.Now())
			if err != nil {
				return err
			}
			if !updated {
				s.wm.IncCASConflict(JobPrice)
				s.logger(ctx).Info("scheduler.invoice.price_skipped", append(invoiceFields(inv), zap.String("reason", "status_changed"))...)
				continue
			}
			run.AddProcessed(1)
			s.logger(ctx).Debug("scheduler.invoice.priced", append(invoiceFields(inv), zap.Int("lines", len(lines)))...)
		}
		return nil
	})
	if err != nil {
		s.logWorkerError(ctx, run, "scheduler.price.failed", JobPrice, 0, err)
	}
	return err
}
