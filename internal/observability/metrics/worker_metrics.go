package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/billingcore/internal/errs"
	"gorm.io/gorm"
)

const (
	WorkerErrorReasonDeadlineExceeded     = "deadline_exceeded"
	WorkerErrorReasonDBLockTimeout        = "db_lock_timeout"
	WorkerErrorReasonSerializationFailure = "serialization_failure"
	WorkerErrorReasonUniqueViolation      = "unique_violation"
	WorkerErrorReasonInvalidArgument      = "invalid_argument"
	WorkerErrorReasonNotFound             = "not_found"
	WorkerErrorReasonSerde                = "serde"
	WorkerErrorReasonUnknown              = "unknown"
)

const (
	ResourceSubscriptions = "subscriptions"
	ResourceInvoices      = "invoices"
)

// WorkerMetrics captures invoice lifecycle worker health signals.
type WorkerMetrics struct {
	jobRuns            *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	jobTimeouts        *prometheus.CounterVec
	jobErrors          *prometheus.CounterVec
	jobSkipped         *prometheus.CounterVec
	itemsProcessed     *prometheus.CounterVec
	invoiceTransitions *prometheus.CounterVec
	pricingFailures    *prometheus.CounterVec
	casConflicts       *prometheus.CounterVec
	mrrMovements       *prometheus.CounterVec
}

var (
	workerMetricsOnce sync.Once
	workerMetrics     *WorkerMetrics
)

// Workers returns the singleton worker metrics registry.
func Workers() *WorkerMetrics {
	return WorkersWithConfig(Config{})
}

// WorkersWithConfig returns the singleton worker metrics registry using config labels.
func WorkersWithConfig(cfg Config) *WorkerMetrics {
	workerMetricsOnce.Do(func() {
		workerMetrics = newWorkerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return workerMetrics
}

// NewWorkerMetricsForTest builds an unshared registry-backed instance.
func NewWorkerMetricsForTest(registerer prometheus.Registerer) *WorkerMetrics {
	return newWorkerMetrics(registerer, Config{ServiceName: "billingcore", Environment: "test"})
}

func newWorkerMetrics(registerer prometheus.Registerer, cfg Config) *WorkerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "billingcore"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &WorkerMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billingcore_worker_job_runs_total",
			Help:        "Lifecycle worker runs by job.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "billingcore_worker_job_duration_seconds",
			Help:        "Lifecycle worker run latency.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billingcore_worker_job_timeouts_total",
			Help:        "Lifecycle worker runs that hit their deadline.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billingcore_worker_job_errors_total",
			Help:        "Lifecycle worker errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		jobSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billingcore_worker_job_skipped_total",
			Help:        "Lifecycle worker runs skipped because another instance holds the lock.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		itemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billingcore_worker_items_processed_total",
			Help:        "Rows transitioned by lifecycle workers.",
			ConstLabels: constLabels,
		}, []string{"job", "resource"}),
		invoiceTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billingcore_invoice_transitions_total",
			Help:        "Invoice status transitions applied.",
			ConstLabels: constLabels,
		}, []string{"from", "to"}),
		pricingFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billingcore_pricing_failures_total",
			Help:        "Invoices left in place after a pricing failure.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		casConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billingcore_invoice_cas_conflicts_total",
			Help:        "Conditional invoice updates lost to a concurrent writer.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		mrrMovements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billingcore_mrr_movements_total",
			Help:        "MRR movement log rows recorded by type.",
			ConstLabels: constLabels,
		}, []string{"type"}),
	}

	registerer.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobTimeouts,
		m.jobErrors,
		m.jobSkipped,
		m.itemsProcessed,
		m.invoiceTransitions,
		m.pricingFailures,
		m.casConflicts,
		m.mrrMovements,
	)
	return m
}

func (m *WorkerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *WorkerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *WorkerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *WorkerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyWorkerErrorReason(err)).Inc()
}

func (m *WorkerMetrics) IncJobSkipped(job string) {
	if m == nil {
		return
	}
	m.jobSkipped.WithLabelValues(job).Inc()
}

func (m *WorkerMetrics) AddItemsProcessed(job, resource string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.itemsProcessed.WithLabelValues(job, resource).Add(float64(count))
}

func (m *WorkerMetrics) IncInvoiceTransition(from, to string) {
	if m == nil {
		return
	}
	m.invoiceTransitions.WithLabelValues(from, to).Inc()
}

func (m *WorkerMetrics) IncPricingFailure(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.pricingFailures.WithLabelValues(job, ClassifyWorkerErrorReason(err)).Inc()
}

func (m *WorkerMetrics) IncCASConflict(job string) {
	if m == nil {
		return
	}
	m.casConflicts.WithLabelValues(job).Inc()
}

func (m *WorkerMetrics) AddMRRMovements(movementType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.mrrMovements.WithLabelValues(movementType).Add(float64(count))
}

// ClassifyWorkerErrorReason maps worker errors to low-cardinality reasons.
func ClassifyWorkerErrorReason(err error) string {
	switch {
	case err == nil:
		return WorkerErrorReasonUnknown
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return WorkerErrorReasonDeadlineExceeded
	case hasPGCode(err, "55P03"):
		return WorkerErrorReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return WorkerErrorReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505"):
		return WorkerErrorReasonUniqueViolation
	}

	switch errs.KindOf(err) {
	case errs.KindInvalidArgument:
		return WorkerErrorReasonInvalidArgument
	case errs.KindNotFound:
		return WorkerErrorReasonNotFound
	case errs.KindSerde:
		return WorkerErrorReasonSerde
	default:
		return WorkerErrorReasonUnknown
	}
}

// IsWorkerErrorRetryable reports whether the next scheduled run may succeed.
func IsWorkerErrorRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch ClassifyWorkerErrorReason(err) {
	case WorkerErrorReasonDeadlineExceeded, WorkerErrorReasonDBLockTimeout, WorkerErrorReasonSerializationFailure:
		return true
	}
	return errs.KindOf(err) == errs.KindInternal
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
