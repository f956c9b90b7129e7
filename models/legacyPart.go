package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LegacyPart is the pre-migration parts table, kept online because old
// tickets still reference its rows. Its id range is disjoint from products
// (ids >= LegacyIdFloor, enforced at startup by EnsureLedgerSchema), so both
// schemas share one global product id space and one movement ledger.
//
// Rows never leak past the catalog: the legacy source normalizes them into
// the canonical Product shape at the boundary.
type LegacyPart struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Label     string    `gorm:"index;size:150;not null" json:"label"`
	Units     int       `gorm:"not null;default:0" json:"units"`
	IsService *bool     `gorm:"not null;default:false" json:"is_service"`
	BrandTag  string    `gorm:"size:100" json:"brand_tag"`
	ModelTag  string    `gorm:"size:100" json:"model_tag"`
	UnitPrice float64   `gorm:"not null;default:0" json:"unit_price"`
	Retired   *bool     `gorm:"not null;default:false" json:"retired"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// LegacyIdFloor is the first id assigned to migrated legacy rows.
const LegacyIdFloor = 1_000_000

func (lp *LegacyPart) toProduct() *Product {
	kind := ProductKindPhysical
	if lp.IsService != nil && *lp.IsService {
		kind = ProductKindService
	}
	active := true
	if lp.Retired != nil && *lp.Retired {
		active = false
	}
	return &Product{
		ID:           lp.ID,
		Name:         lp.Label,
		Kind:         kind,
		StockQty:     decimal.NewFromInt(int64(lp.Units)),
		Brand:        lp.BrandTag,
		Model:        lp.ModelTag,
		SalesPrice:   decimal.NewFromFloat(lp.UnitPrice),
		IsActive:     &active,
		CreatedAt:    lp.CreatedAt,
		UpdatedAt:    lp.UpdatedAt,
		SchemaOrigin: SchemaOriginLegacy,
	}
}
