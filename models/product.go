package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/fixpoint/repairs_backend/config"
	"bitbucket.org/fixpoint/repairs_backend/utils"
	"github.com/shopspring/decimal"
)

// Product is the current-schema catalog entry. StockQty is a denormalized
// counter maintained in lockstep with stock_movements postings; it is never
// written outside PostMovement.
type Product struct {
	ID          int             `gorm:"primary_key" json:"id"`
	Name        string          `gorm:"index;size:100;not null" json:"name"`
	Kind        ProductKind     `gorm:"type:enum('P','S');default:P" json:"kind"`
	StockQty    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"stock_qty"`
	Brand       string          `gorm:"size:100" json:"brand"`
	Model       string          `gorm:"size:100" json:"model"`
	SalesPrice  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sales_price"`
	IsActive    *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	// SchemaOrigin marks which catalog schema produced this row. Not persisted.
	SchemaOrigin string `gorm:"-" json:"-"`
}

const (
	SchemaOriginCurrent = "current"
	SchemaOriginLegacy  = "legacy"
)

type NewProduct struct {
	Name       string          `json:"name" validate:"required,max=100"`
	Kind       ProductKind     `json:"kind" validate:"required"`
	Brand      string          `json:"brand" validate:"max=100"`
	Model      string          `json:"model" validate:"max=100"`
	SalesPrice decimal.Decimal `json:"sales_price"`
	StockQty   decimal.Decimal `json:"stock_qty"`
}

// CreateProduct inserts a catalog entry. A non-zero opening quantity is
// recorded through the ledger so the counter and movement history agree from
// the very first row.
func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.Kind.Valid() {
		return nil, errors.New("invalid product kind")
	}
	if input.Kind == ProductKindService && !input.StockQty.IsZero() {
		return nil, errors.New("a service cannot carry stock")
	}
	if input.StockQty.IsNegative() {
		return nil, errors.New("opening stock cannot be negative")
	}

	db := config.GetDB()
	if db == nil {
		return nil, ErrDBNotInitialized
	}

	product := Product{
		Name:       input.Name,
		Kind:       input.Kind,
		Brand:      input.Brand,
		Model:      input.Model,
		SalesPrice: input.SalesPrice,
		IsActive:   utils.NewTrue(),
	}

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	if err := tx.Create(&product).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if input.Kind == ProductKindPhysical && input.StockQty.IsPositive() {
		movement := NewOpeningMovement(ctx, product.ID, input.StockQty)
		if err := PostMovement(tx, DefaultCatalog(), movement, false); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	if input.Kind == ProductKindPhysical {
		product.StockQty = input.StockQty
	}
	product.SchemaOrigin = SchemaOriginCurrent
	return &product, nil
}

// GetProduct fetches a product by id across both catalog schemas.
func GetProduct(ctx context.Context, id int) (*Product, error) {
	return DefaultCatalog().FindById(ctx, id)
}
