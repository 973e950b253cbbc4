package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/billingcore/internal/clock"
	"github.com/smallbiznis/billingcore/internal/config"
	"github.com/smallbiznis/billingcore/internal/eventbus"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	"github.com/smallbiznis/billingcore/internal/issuer"
	"github.com/smallbiznis/billingcore/internal/lock"
	obsmetrics "github.com/smallbiznis/billingcore/internal/observability/metrics"
	pricingdomain "github.com/smallbiznis/billingcore/internal/pricing/domain"
	"github.com/smallbiznis/billingcore/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
)

const (
	JobDraft    = "draft"
	JobPrice    = "price"
	JobPending  = "pending"
	JobFinalize = "finalize"
	JobIssue    = "issue"

	lockKeyPrefix = "billingcore:job:"
)

// JobOrder is the order RunOnce walks the lifecycle in.
var JobOrder = []string{JobDraft, JobPrice, JobPending, JobFinalize, JobIssue}

var (
	ErrInvalidConfig = errors.New("scheduler_invalid_config")
	ErrUnknownJob    = errors.New("scheduler_unknown_job")
)

type Params struct {
	fx.In

	Log           *zap.Logger
	Node          *snowflake.Node
	Clock         clock.Clock
	Workers       *config.WorkerConfigHolder
	Invoices      invoicedomain.Repository
	Subscriptions subscriptiondomain.Repository
	Pricing       pricingdomain.Engine
	Issuers       *issuer.Registry
	Locker        lock.Locker
	Events        eventbus.Publisher        `optional:"true"`
	Throttle      *ratelimit.IssueThrottle  `optional:"true"`
	Metrics       *obsmetrics.Metrics       `optional:"true"`
	WorkerMetrics *obsmetrics.WorkerMetrics `optional:"true"`
}

type Scheduler struct {
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	workers  *config.WorkerConfigHolder
	invoices invoicedomain.Repository
	subs     subscriptiondomain.Repository
	pricing  pricingdomain.Engine
	issuers  *issuer.Registry
	locker   lock.Locker
	events   eventbus.Publisher
	throttle *ratelimit.IssueThrottle
	metrics  *obsmetrics.Metrics
	wm       *obsmetrics.WorkerMetrics
	tracer   trace.Tracer
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Node == nil || p.Clock == nil || p.Workers == nil || p.Invoices == nil ||
		p.Subscriptions == nil || p.Pricing == nil || p.Issuers == nil || p.Locker == nil {
		return nil, ErrInvalidConfig
	}
	wm := p.WorkerMetrics
	if wm == nil {
		wm = obsmetrics.Workers()
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		genID:    p.Node,
		clock:    p.Clock,
		workers:  p.Workers,
		invoices: p.Invoices,
		subs:     p.Subscriptions,
		pricing:  p.Pricing,
		issuers:  p.Issuers,
		locker:   p.Locker,
		events:   p.Events,
		throttle: p.Throttle,
		metrics:  p.Metrics,
		wm:       wm,
		tracer:   otel.Tracer("billingcore/scheduler"),
	}, nil
}

// runJob runs fn under the job's timeout and cluster-wide lock. A deadline is
// a soft failure: the next run resumes where this one stopped.
func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	lockCtx := context.WithoutCancel(parent)
	token, acquired, err := s.locker.TryLock(lockCtx, lockKeyPrefix+name, s.workers.Get().LockTTL)
	if err != nil {
		s.wm.IncJobError(name, err)
		return fmt.Errorf("%s: lock: %w", name, err)
	}
	if !acquired {
		s.wm.IncJobSkipped(name)
		s.log.Info("scheduler.job.skipped", zap.String("job", name), zap.String("reason", "locked"))
		return nil
	}
	defer func() {
		if err := s.locker.Release(lockCtx, lockKeyPrefix+name, token); err != nil {
			s.log.Warn("scheduler.job.unlock_failed", zap.String("job", name), zap.Error(err))
		}
	}()

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "scheduler."+name, trace.WithAttributes(
		attribute.String("job", name),
		attribute.Int("batch_size", batchSize),
	))
	defer span.End()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(zap.String("job", name))
	s.wm.IncJobRun(name)

	err = fn(ctx)
	s.wm.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	span.RecordError(err)
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	s.wm.IncJobError(name, err)
	if isTimeout {
		s.wm.IncJobTimeout(name)
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// RunJob runs one named job regardless of whether it is enabled.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	fn, ok := s.jobFunc(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	job, _ := s.workers.Get().Job(name)
	return s.runJob(ctx, name, job.BatchSize, job.Timeout, fn)
}

// RunOnce runs every enabled job in lifecycle order.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	for _, name := range JobOrder {
		if !s.isJobEnabled(name) {
			continue
		}
		err = errors.Join(err, s.RunJob(parent, name))
	}
	return err
}

func (s *Scheduler) isJobEnabled(name string) bool {
	job, ok := s.workers.Get().Job(name)
	return ok && job.Enabled
}

func (s *Scheduler) jobFunc(name string) (func(context.Context) error, bool) {
	switch name {
	case JobDraft:
		return s.DraftJob, true
	case JobPrice:
		return s.PriceJob, true
	case JobPending:
		return s.PendingJob, true
	case JobFinalize:
		return s.FinalizeJob, true
	case JobIssue:
		return s.IssueJob, true
	}
	return nil, false
}

func (s *Scheduler) batchSize(name string) int {
	job, _ := s.workers.Get().Job(name)
	if job.BatchSize <= 0 {
		return 50
	}
	return job.BatchSize
}
