package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/smallbiznis/billingcore/internal/errs"
	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
	"github.com/smallbiznis/billingcore/pkg/db/option"
	"github.com/smallbiznis/billingcore/pkg/repository"
)

type repo struct {
	versions   repository.Repository[plandomain.PlanVersion]
	components repository.Repository[plandomain.PriceComponent]
}

func Provide(db *gorm.DB) plandomain.Repository {
	return &repo{
		versions:   repository.ProvideStore[plandomain.PlanVersion](db),
		components: repository.ProvideStore[plandomain.PriceComponent](db),
	}
}

func (r *repo) WithTx(tx *gorm.DB) plandomain.Repository {
	return &repo{
		versions:   r.versions.WithTrx(tx),
		components: r.components.WithTrx(tx),
	}
}

func (r *repo) CreateVersion(ctx context.Context, version *plandomain.PlanVersion) error {
	if err := r.versions.Create(ctx, version); err != nil {
		return errs.Internal("plan.create_version", err)
	}
	return nil
}

func (r *repo) CreateComponents(ctx context.Context, components []*plandomain.PriceComponent) error {
	if err := r.components.BatchCreate(ctx, components); err != nil {
		return errs.Internal("plan.create_components", err)
	}
	return nil
}

func (r *repo) FindVersion(ctx context.Context, tenantID, id snowflake.ID) (*plandomain.PlanVersion, error) {
	version, err := r.versions.FindOne(ctx, &plandomain.PlanVersion{TenantID: tenantID, ID: id})
	if err != nil {
		return nil, errs.Internal("plan.find_version", err)
	}
	if version == nil {
		return nil, errs.Wrap(errs.KindNotFound, "plan.find_version", plandomain.ErrPlanVersionNotFound)
	}
	return version, nil
}

func (r *repo) ListComponents(ctx context.Context, tenantID, versionID snowflake.ID) ([]plandomain.PriceComponent, error) {
	rows, err := r.components.Find(ctx,
		&plandomain.PriceComponent{TenantID: tenantID, PlanVersionID: versionID},
		option.WithSortBy("position", option.Asc),
		option.WithSortBy("id", option.Asc),
	)
	if err != nil {
		return nil, errs.Internal("plan.list_components", err)
	}
	return lo.FromSlicePtr(rows), nil
}
