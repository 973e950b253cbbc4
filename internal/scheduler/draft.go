package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/smallbiznis/billingcore/internal/clock"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/billingcore/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
)

// DraftJob creates the missing recurring draft invoices of every billable
// subscription for invoice dates inside the lookback window.
func (s *Scheduler) DraftJob(ctx context.Context) error {
	batch := s.batchSize(JobDraft)
	ctx, run, owner := s.ensureJobRun(ctx, JobDraft, batch)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	today := clock.Today(s.clock.Now())
	from := today.AddDate(0, 0, -s.workers.Get().LookbackDays)
	var after snowflake.ID
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		subs, err := s.subs.ListBillable(ctx, after, batch)
		if err != nil {
			s.logWorkerError(ctx, run, "scheduler.subscription.list_failed", JobDraft, 0, err)
			return err
		}
		if len(subs) == 0 {
			break
		}

		var drafts []*invoicedomain.Invoice
		for _, sub := range subs {
			for _, date := range sub.Schedule().DatesBetween(from, today) {
				exists, err := s.invoices.ExistsForDate(ctx, sub.TenantID, sub.ID, invoicedomain.InvoiceTypeRecurring, date)
				if err != nil {
					s.logWorkerError(ctx, run, "scheduler.draft.lookup_failed", JobDraft, sub.TenantID, err,
						zap.String("subscription_id", idString(sub.ID)),
						zap.Time("invoice_date", date),
					)
					return err
				}
				if !exists {
					drafts = append(drafts, newDraft(sub, date))
				}
			}
		}

		created, err := s.insertDrafts(ctx, run, drafts)
		run.AddProcessed(created)
		if err != nil {
			return err
		}
		s.wm.AddItemsProcessed(JobDraft, obsmetrics.ResourceSubscriptions, len(subs))

		after = subs[len(subs)-1].ID
		if len(subs) < batch {
			break
		}
	}
	return nil
}

// insertDrafts inserts the page in one transaction. When another worker raced
// us to some of the dates it falls back to one insert per draft. Any other
// repository error aborts the page.
func (s *Scheduler) insertDrafts(ctx context.Context, run *jobRun, drafts []*invoicedomain.Invoice) (int, error) {
	if len(drafts) == 0 {
		return 0, nil
	}
	if _, err := s.invoices.InsertBatch(ctx, drafts); err == nil {
		for _, inv := range drafts {
			s.recordDraft(ctx, inv)
		}
		return len(drafts), nil
	} else if !errors.Is(err, invoicedomain.ErrDuplicateInvoice) {
		s.logWorkerError(ctx, run, "scheduler.draft.insert_failed", JobDraft, 0, err, zap.Int("drafts", len(drafts)))
		return 0, err
	}

	created := 0
	for _, inv := range drafts {
		inv.ID = 0
		if _, err := s.invoices.Insert(ctx, inv); err != nil {
			if errors.Is(err, invoicedomain.ErrDuplicateInvoice) {
				continue
			}
			s.logWorkerError(ctx, run, "scheduler.draft.insert_failed", JobDraft, inv.TenantID, err,
				zap.String("subscription_id", idString(inv.SubscriptionID)),
			)
			return created, err
		}
		s.recordDraft(ctx, inv)
		created++
	}
	return created, nil
}

func (s *Scheduler) recordDraft(ctx context.Context, inv *invoicedomain.Invoice) {
	s.metrics.RecordInvoiceCreated(ctx, string(inv.InvoiceType))
	s.logger(ctx).Info("scheduler.invoice.drafted",
		append(invoiceFields(*inv), zap.Time("invoice_date", inv.InvoiceDate))...,
	)
}

func newDraft(sub subscriptiondomain.Subscription, date time.Time) *invoicedomain.Invoice {
	return &invoicedomain.Invoice{
		TenantID:          sub.TenantID,
		CustomerID:        sub.CustomerID,
		SubscriptionID:    sub.ID,
		PlanVersionID:     sub.PlanVersionID,
		InvoiceType:       invoicedomain.InvoiceTypeRecurring,
		Status:            invoicedomain.StatusDraft,
		Currency:          sub.Currency,
		InvoiceDate:       date,
		InvoicingProvider: sub.InvoicingProvider,
		DaysUntilDue:      sub.NetTerms,
	}
}
