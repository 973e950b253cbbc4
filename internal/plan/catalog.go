package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/billingcore/internal/clock"
	"github.com/smallbiznis/billingcore/internal/config"
	"github.com/smallbiznis/billingcore/internal/errs"
	feedomain "github.com/smallbiznis/billingcore/internal/fee/domain"
	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
)

const opCatalog = "plan.catalog"

// Catalog is the plan feed loaded at startup. Versions are immutable, so an
// import only inserts the ones that are missing.
type Catalog struct {
	TenantID     string           `mapstructure:"tenant_id"`
	PlanVersions []CatalogVersion `mapstructure:"plan_versions"`
}

type CatalogVersion struct {
	ID             string             `mapstructure:"id"`
	PlanID         string             `mapstructure:"plan_id"`
	Version        int32              `mapstructure:"version"`
	Currency       string             `mapstructure:"currency"`
	NetTerms       int32              `mapstructure:"net_terms"`
	PeriodStartDay *int16             `mapstructure:"period_start_day"`
	Components     []CatalogComponent `mapstructure:"components"`
}

type CatalogComponent struct {
	ID            string         `mapstructure:"id"`
	Name          string         `mapstructure:"name"`
	Position      int32          `mapstructure:"position"`
	ProductItemID string         `mapstructure:"product_item_id"`
	Fee           map[string]any `mapstructure:"fee"`
}

// LoadCatalog reads a catalog file in any format viper understands.
func LoadCatalog(path string) (Catalog, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Catalog{}, errs.Wrap(errs.KindInvalidArgument, opCatalog, err)
	}
	var catalog Catalog
	if err := v.Unmarshal(&catalog); err != nil {
		return Catalog{}, errs.Serde(opCatalog, err)
	}
	return catalog, nil
}

// ImportCatalog inserts every version of catalog that does not exist yet. It
// returns how many versions were created.
func ImportCatalog(ctx context.Context, db *gorm.DB, repo plandomain.Repository, catalog Catalog, now time.Time) (int, error) {
	tenantID, err := parseCatalogID("tenant_id", catalog.TenantID)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, item := range catalog.PlanVersions {
		version, components, err := item.build(tenantID, now)
		if err != nil {
			return created, err
		}

		_, err = repo.FindVersion(ctx, tenantID, version.ID)
		if err == nil {
			continue
		}
		if errs.KindOf(err) != errs.KindNotFound {
			return created, err
		}

		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			plans := repo.WithTx(tx)
			if err := plans.CreateVersion(ctx, version); err != nil {
				return err
			}
			if len(components) == 0 {
				return nil
			}
			return plans.CreateComponents(ctx, components)
		})
		if err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func (v CatalogVersion) build(tenantID snowflake.ID, now time.Time) (*plandomain.PlanVersion, []*plandomain.PriceComponent, error) {
	id, err := parseCatalogID("plan_versions.id", v.ID)
	if err != nil {
		return nil, nil, err
	}
	planID, err := parseCatalogID("plan_versions.plan_id", v.PlanID)
	if err != nil {
		return nil, nil, err
	}
	currency := strings.ToUpper(strings.TrimSpace(v.Currency))
	if len(currency) != 3 {
		return nil, nil, errs.InvalidArgument(opCatalog, "plan version %s: invalid currency %q", v.ID, v.Currency)
	}

	version := &plandomain.PlanVersion{
		ID:             id,
		TenantID:       tenantID,
		PlanID:         planID,
		Version:        max(v.Version, 1),
		Currency:       currency,
		NetTerms:       v.NetTerms,
		PeriodStartDay: v.PeriodStartDay,
		CreatedAt:      now,
	}

	components := make([]*plandomain.PriceComponent, 0, len(v.Components))
	for _, c := range v.Components {
		componentID, err := parseCatalogID("components.id", c.ID)
		if err != nil {
			return nil, nil, err
		}
		raw, err := json.Marshal(c.Fee)
		if err != nil {
			return nil, nil, errs.Serde(opCatalog, err)
		}
		if _, err := feedomain.DecodeFee(raw); err != nil {
			return nil, nil, fmt.Errorf("component %s: %w", c.ID, err)
		}
		component := &plandomain.PriceComponent{
			ID:            componentID,
			TenantID:      tenantID,
			PlanVersionID: id,
			Name:          strings.TrimSpace(c.Name),
			Position:      c.Position,
			Fee:           raw,
			CreatedAt:     now,
		}
		if strings.TrimSpace(c.ProductItemID) != "" {
			itemID, err := parseCatalogID("components.product_item_id", c.ProductItemID)
			if err != nil {
				return nil, nil, err
			}
			component.ProductItemID = &itemID
		}
		components = append(components, component)
	}
	return version, components, nil
}

func parseCatalogID(field, raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, errs.InvalidArgument(opCatalog, "invalid %s %q", field, raw)
	}
	return id, nil
}

type catalogParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	DB        *gorm.DB
	Repo      plandomain.Repository
	Clock     clock.Clock
	Log       *zap.Logger
	Cfg       config.Config
}

func importCatalogOnStart(p catalogParams) {
	path := strings.TrimSpace(p.Cfg.PlanCatalogPath)
	if path == "" {
		return
	}
	log := p.Log.Named("plan.catalog")
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			catalog, err := LoadCatalog(path)
			if err != nil {
				return err
			}
			created, err := ImportCatalog(ctx, p.DB, p.Repo, catalog, p.Clock.Now())
			if err != nil {
				return err
			}
			log.Info("plan.catalog.imported",
				zap.String("path", path),
				zap.Int("versions", len(catalog.PlanVersions)),
				zap.Int("created", created),
			)
			return nil
		},
	})
}
