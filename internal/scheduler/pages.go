package scheduler

import (
	"context"

	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/billingcore/internal/observability/metrics"
	"github.com/smallbiznis/billingcore/pkg/db/pagination"
)

type invoiceLister func(ctx context.Context, page pagination.Pagination) (pagination.Page[invoicedomain.Invoice], error)

// scanInvoices walks list page by page and hands each page to fn. It stops on
// the first listing error, a cancelled context or an fn error.
func (s *Scheduler) scanInvoices(ctx context.Context, job string, batch int, list invoiceLister, fn func(ctx context.Context, page []invoicedomain.Invoice) error) error {
	page := pagination.Pagination{PageSize: batch}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := list(ctx, page)
		if err != nil {
			return err
		}
		if len(res.Items) == 0 {
			return nil
		}
		if err := fn(ctx, res.Items); err != nil {
			return err
		}
		s.wm.AddItemsProcessed(job, obsmetrics.ResourceInvoices, len(res.Items))
		if !res.PageInfo.HasMore {
			return nil
		}
		page.PageToken = res.PageInfo.NextPageToken
	}
}
