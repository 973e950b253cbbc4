package scheduler

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/smallbiznis/billingcore/internal/eventbus"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	"github.com/smallbiznis/billingcore/internal/issuer"
	"github.com/smallbiznis/billingcore/pkg/db/pagination"
)

// IssueJob pushes finalized, unissued invoices to their invoicing provider.
// Failures are recorded on the invoice and retried until the attempt budget
// is spent; they never fail the job.
func (s *Scheduler) IssueJob(ctx context.Context) error {
	batch := s.batchSize(JobIssue)
	ctx, run, owner := s.ensureJobRun(ctx, JobIssue, batch)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	cfg := s.workers.Get()
	maxAttempts := int32(cfg.MaxIssueAttempts)
	throttled := make(map[string]bool)

	list := func(ctx context.Context, page pagination.Pagination) (pagination.Page[invoicedomain.Invoice], error) {
		return s.invoices.ListToIssue(ctx, maxAttempts, page)
	}
	err := s.scanInvoices(ctx, JobIssue, batch, list, func(ctx context.Context, page []invoicedomain.Invoice) error {
		for i := range page {
			inv := page[i]
			if err := ctx.Err(); err != nil {
				return err
			}
			provider := providerOf(inv)
			if throttled[provider] {
				continue
			}
			if ok, retryAfter := s.throttle.Allow(ctx, provider); !ok {
				throttled[provider] = true
				s.wm.IncJobSkipped(JobIssue)
				s.logger(ctx).Info("scheduler.issue.throttled",
					zap.String("provider", provider),
					zap.Duration("retry_after", retryAfter),
				)
				continue
			}
			if err := s.issueOne(ctx, run, &inv, maxAttempts); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.logWorkerError(ctx, run, "scheduler.issue.failed", JobIssue, 0, err)
	}
	return err
}

func (s *Scheduler) issueOne(ctx context.Context, run *jobRun, inv *invoicedomain.Invoice, maxAttempts int32) error {
	provider := providerOf(*inv)
	callCtx, cancel := context.WithTimeout(ctx, s.workers.Get().ExternalCallTimeout)
	res, issueErr := s.issuers.Issue(callCtx, inv)
	cancel()

	attempt := invoicedomain.IssueAttempt{At: s.clock.Now()}
	if issueErr != nil {
		attempt.Error = issueErr.Error()
	} else {
		attempt.Success = true
		attempt.ExternalInvoiceID = res.ExternalInvoiceID
	}
	recorded, err := s.invoices.RecordIssueAttempt(ctx, inv.TenantID, inv.ID, attempt)
	if err != nil {
		return err
	}
	s.metrics.RecordIssueAttempt(ctx, provider, attempt.Success)
	if !recorded {
		s.wm.IncCASConflict(JobIssue)
		return nil
	}

	if issueErr != nil {
		attempts := inv.IssueAttempts + 1
		s.logWorkerError(ctx, run, "invoice.issue_failed", JobIssue, inv.TenantID, issueErr,
			append(invoiceFields(*inv),
				zap.String("provider", provider),
				zap.Int32("attempts", attempts),
				zap.Bool("exhausted", attempts >= maxAttempts),
			)...,
		)
		return nil
	}

	run.AddProcessed(1)
	s.logger(ctx).Info("invoice.issued",
		append(invoiceFields(*inv),
			zap.String("provider", provider),
			zap.String("external_invoice_id", res.ExternalInvoiceID),
		)...,
	)
	s.publish(ctx, eventbus.NewEvent(eventbus.TopicInvoiceIssued, inv.TenantID, map[string]any{
		"invoice_id":          inv.ID.String(),
		"provider":            provider,
		"external_invoice_id": res.ExternalInvoiceID,
	}, attempt.At))
	return nil
}

func providerOf(inv invoicedomain.Invoice) string {
	provider := strings.ToLower(strings.TrimSpace(inv.InvoicingProvider))
	if provider == "" {
		return issuer.ProviderManual
	}
	return provider
}
