package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/billingcore/internal/config"
)

const keyIssueProvider = "billingcore:issue:%s"

// IssueThrottle caps how fast invoices are pushed to each invoicing provider
// across all worker processes. Without Redis every call is allowed.
type IssueThrottle struct {
	log     *zap.Logger
	bucket  *TokenBucket
	workers *config.WorkerConfigHolder
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Redis   *redis.Client              `optional:"true"`
	Workers *config.WorkerConfigHolder `optional:"true"`
}

func NewIssueThrottle(p Params) *IssueThrottle {
	return &IssueThrottle{
		log:     p.Log.Named("ratelimit.issue"),
		bucket:  NewTokenBucket(p.Redis),
		workers: p.Workers,
	}
}

// Allow reports whether one more issuance call to provider may run now. A
// limiter failure allows the call; issuance retries are bounded elsewhere.
func (t *IssueThrottle) Allow(ctx context.Context, provider string) (bool, time.Duration) {
	if t == nil || t.bucket == nil || t.workers == nil {
		return true, 0
	}
	cfg := t.workers.Get()
	if cfg.IssueRate <= 0 {
		return true, 0
	}

	key := fmt.Sprintf(keyIssueProvider, strings.ToLower(strings.TrimSpace(provider)))
	res, err := t.bucket.Allow(ctx, key, cfg.IssueRate, cfg.IssueBurst)
	if err != nil {
		t.log.Warn("ratelimit.issue.unavailable", zap.String("provider", provider), zap.Error(err))
		return true, 0
	}
	return res.Allowed, res.RetryAfter
}
