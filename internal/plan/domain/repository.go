package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrPlanVersionNotFound = errors.New("plan_version_not_found")

type Repository interface {
	// WithTx binds the repository to an open transaction.
	WithTx(tx *gorm.DB) Repository

	CreateVersion(ctx context.Context, version *PlanVersion) error
	CreateComponents(ctx context.Context, components []*PriceComponent) error
	FindVersion(ctx context.Context, tenantID, id snowflake.ID) (*PlanVersion, error)
	// ListComponents returns the version's components in plan order.
	ListComponents(ctx context.Context, tenantID, versionID snowflake.ID) ([]PriceComponent, error)
}
