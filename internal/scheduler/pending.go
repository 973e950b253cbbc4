package scheduler

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"go.uber.org/zap"

	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	"github.com/smallbiznis/billingcore/internal/scheduler/guard"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	"github.com/smallbiznis/billingcore/pkg/db/pagination"
)

// PendingJob moves due drafts into PENDING_FINALIZATION while their
// subscription's grace period is still running. Drafts whose grace already
// elapsed stay in DRAFT and are finalized directly.
func (s *Scheduler) PendingJob(ctx context.Context) error {
	batch := s.batchSize(JobPending)
	ctx, run, owner := s.ensureJobRun(ctx, JobPending, batch)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()

	list := func(ctx context.Context, page pagination.Pagination) (pagination.Page[invoicedomain.Invoice], error) {
		return s.invoices.ListPendingCandidates(ctx, now, page)
	}
	err := s.scanInvoices(ctx, JobPending, batch, list, func(ctx context.Context, page []invoicedomain.Invoice) error {
		subs, err := s.subscriptionsFor(ctx, page)
		if err != nil {
			return err
		}
		for _, inv := range page {
			sub, ok := subs[inv.SubscriptionID]
			if !ok {
				s.logWorkerError(ctx, run, "scheduler.invoice.subscription_missing", JobPending, inv.TenantID,
					subscriptiondomain.ErrSubscriptionNotFound, invoiceFields(inv)...)
				continue
			}
			if err := guard.EnsureInGraceWindow(inv.InvoiceDate, sub.GracePeriod(), now); err != nil {
				continue
			}
			moved, err := s.invoices.UpdateStatusConditional(ctx, inv.TenantID, inv.ID,
				invoicedomain.StatusDraft, invoicedomain.StatusPendingFinalization, s.clock.Now())
			if err != nil {
				return err
			}
			if !moved {
				s.wm.IncCASConflict(JobPending)
				continue
			}
			s.wm.IncInvoiceTransition(string(invoicedomain.StatusDraft), string(invoicedomain.StatusPendingFinalization))
			run.AddProcessed(1)
			s.logger(ctx).Info("scheduler.invoice.pending_finalization",
				append(invoiceFields(inv), zap.Time("grace_ends", inv.GraceEnds(sub.GracePeriod())))...)
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.logWorkerError(ctx, run, "scheduler.pending.failed", JobPending, 0, err)
	}
	return err
}

// subscriptionsFor loads the subscriptions referenced by a page with one
// query per tenant on the page.
func (s *Scheduler) subscriptionsFor(ctx context.Context, page []invoicedomain.Invoice) (map[snowflake.ID]subscriptiondomain.Subscription, error) {
	byTenant := lo.GroupBy(page, func(inv invoicedomain.Invoice) snowflake.ID {
		return inv.TenantID
	})
	out := make(map[snowflake.ID]subscriptiondomain.Subscription, len(page))
	for tenantID, invoices := range byTenant {
		ids := lo.Uniq(lo.Map(invoices, func(inv invoicedomain.Invoice, _ int) snowflake.ID {
			return inv.SubscriptionID
		}))
		subs, err := s.subs.FindByIDs(ctx, tenantID, ids)
		if err != nil {
			return nil, err
		}
		for id, sub := range subs {
			out[id] = sub
		}
	}
	return out, nil
}
