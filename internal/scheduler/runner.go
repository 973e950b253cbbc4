package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner fires each lifecycle job on its cron schedule. Schedules are read
// once at start; the enabled flags are re-read on every tick.
type Runner struct {
	sched  *Scheduler
	log    *zap.Logger
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRunner(sched *Scheduler) *Runner {
	return &Runner{
		sched: sched,
		log:   sched.log.Named("runner"),
		cron:  cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

func (r *Runner) Start() error {
	r.ctx, r.cancel = context.WithCancel(context.Background())
	cfg := r.sched.workers.Get()
	for _, name := range JobOrder {
		job, _ := cfg.Job(name)
		name := name
		if _, err := r.cron.AddFunc(job.Schedule, func() { r.tick(name) }); err != nil {
			r.cancel()
			return fmt.Errorf("%w: job %s schedule %q: %v", ErrInvalidConfig, name, job.Schedule, err)
		}
		r.log.Info("scheduler.job.scheduled", zap.String("job", name), zap.String("schedule", job.Schedule))
	}
	r.cron.Start()
	return nil
}

// Stop cancels in-flight jobs and waits for them to return.
func (r *Runner) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) tick(name string) {
	if !r.sched.isJobEnabled(name) {
		return
	}
	if err := r.sched.RunJob(r.ctx, name); err != nil {
		r.log.Warn("scheduler.job.failed", zap.String("job", name), zap.Error(err))
	}
}
