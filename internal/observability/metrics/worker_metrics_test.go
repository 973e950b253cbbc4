package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/billingcore/internal/errs"
	"gorm.io/gorm"
)

func TestClassifyWorkerErrorReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: WorkerErrorReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: WorkerErrorReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: WorkerErrorReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: WorkerErrorReasonUniqueViolation},
		{name: "invalid_argument", err: errs.InvalidArgument("fee.resolve", "ambiguous"), want: WorkerErrorReasonInvalidArgument},
		{name: "serde", err: errs.Serde("fee.decode", errors.New("bad json")), want: WorkerErrorReasonSerde},
		{name: "unknown", err: errors.New("boom"), want: WorkerErrorReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyWorkerErrorReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIsWorkerErrorRetryable(t *testing.T) {
	if !IsWorkerErrorRetryable(errs.Internal("usage.fetch", errors.New("connection refused"))) {
		t.Fatalf("expected internal error to be retryable")
	}
	if IsWorkerErrorRetryable(errs.InvalidArgument("fee.resolve", "ambiguous")) {
		t.Fatalf("expected invalid argument to be terminal")
	}
}

func TestAddItemsProcessed(t *testing.T) {
	metrics := NewWorkerMetricsForTest(prometheus.NewRegistry())

	metrics.AddItemsProcessed("draft", ResourceSubscriptions, 3)
	metrics.AddItemsProcessed("draft", ResourceSubscriptions, 0)

	got := testutil.ToFloat64(metrics.itemsProcessed.WithLabelValues("draft", ResourceSubscriptions))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}
