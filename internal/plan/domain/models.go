// Package domain contains plan versions and their priced components.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"

	feedomain "github.com/smallbiznis/billingcore/internal/fee/domain"
)

// PlanVersion is an immutable revision of a plan that subscriptions bind to.
type PlanVersion struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID       snowflake.ID `gorm:"not null;index" json:"tenant_id"`
	PlanID         snowflake.ID `gorm:"not null;index" json:"plan_id"`
	Version        int32        `gorm:"not null;default:1" json:"version"`
	Currency       string       `gorm:"type:text;not null" json:"currency"`
	NetTerms       int32        `gorm:"not null;default:0" json:"net_terms"`
	PeriodStartDay *int16       `gorm:"type:smallint" json:"period_start_day,omitempty"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (PlanVersion) TableName() string { return "plan_versions" }

// PriceComponent is one priced line of a plan version. Fee holds the stored
// fee definition document.
type PriceComponent struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	TenantID      snowflake.ID   `gorm:"not null;index" json:"tenant_id"`
	PlanVersionID snowflake.ID   `gorm:"not null;index" json:"plan_version_id"`
	Name          string         `gorm:"type:text;not null" json:"name"`
	Position      int32          `gorm:"not null;default:0" json:"position"`
	ProductItemID *snowflake.ID  `gorm:"" json:"product_item_id,omitempty"`
	Fee           datatypes.JSON `gorm:"type:jsonb;not null" json:"fee"`
	CreatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (PriceComponent) TableName() string { return "price_components" }

// Definition decodes the stored fee.
func (c PriceComponent) Definition() (feedomain.Fee, error) {
	return feedomain.DecodeFee(c.Fee)
}
