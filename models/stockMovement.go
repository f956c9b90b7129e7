package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/fixpoint/repairs_backend/config"
	"bitbucket.org/fixpoint/repairs_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrDuplicateReference signals that a movement with the same reference key
// already exists. It is the storage-level idempotency guard; consumption
// workflows convert it into a silent skip, never a caller-visible error.
var ErrDuplicateReference = errors.New("duplicate movement reference")

// StockMovement is one append-only ledger row. Negative QtyDelta is a
// consumption. Rows are never mutated or deleted; corrections are new
// offsetting entries. The sum of all deltas for a product must equal that
// product's stock counter at all times.
type StockMovement struct {
	ID            string          `gorm:"size:36;primary_key" json:"id"` // uuid
	ProductId     int             `gorm:"index;not null" json:"product_id"`
	QtyDelta      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty_delta"`
	Reason        MovementReason  `gorm:"type:enum('REPAIR_CONSUMPTION','MANUAL_ENTRY','SALE','OPENING_STOCK');not null" json:"reason"`
	ReferenceKey  string          `gorm:"size:64;not null;uniqueIndex:uniq_movement_ref" json:"reference_key"`
	TicketId      *int            `gorm:"index" json:"ticket_id"`
	ActingUserId  int             `gorm:"not null;default:0" json:"acting_user_id"`
	CorrelationId string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// ConsumptionReferenceKey is the idempotency key for repair consumption:
// one movement per (ticket, product), ever.
func ConsumptionReferenceKey(ticketId, productId int) string {
	return fmt.Sprintf("TK%d:P%d", ticketId, productId)
}

// NewConsumptionMovement builds the outbound movement for a ticket/product pair.
func NewConsumptionMovement(ctx context.Context, ticketId, productId int, qty decimal.Decimal, actingUserId int) *StockMovement {
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	tid := ticketId
	return &StockMovement{
		ID:            uuid.NewString(),
		ProductId:     productId,
		QtyDelta:      qty.Neg(),
		Reason:        MovementReasonRepairConsumption,
		ReferenceKey:  ConsumptionReferenceKey(ticketId, productId),
		TicketId:      &tid,
		ActingUserId:  actingUserId,
		CorrelationId: correlationId,
	}
}

// NewOpeningMovement builds the inbound movement that backs a product's
// opening stock.
func NewOpeningMovement(ctx context.Context, productId int, qty decimal.Decimal) *StockMovement {
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	userId, _ := utils.GetUserIdFromContext(ctx)
	return &StockMovement{
		ID:            uuid.NewString(),
		ProductId:     productId,
		QtyDelta:      qty,
		Reason:        MovementReasonOpeningStock,
		ReferenceKey:  fmt.Sprintf("OS:%s", uuid.NewString()),
		ActingUserId:  userId,
		CorrelationId: correlationId,
	}
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// PostMovement appends a ledger row and applies its delta to the owning
// schema's stock counter inside the caller's transaction. The two writes are
// one atomic unit of work; there is no window where the counter and the
// ledger can diverge.
//
// Fails with ErrDuplicateReference when the reference key already exists
// (the insert is attempted first, so a duplicate leaves the counter
// untouched), and with ErrInsufficientStock when enforceFloor is set and the
// delta would drive stock below zero.
func PostMovement(tx *gorm.DB, catalog *Catalog, movement *StockMovement, enforceFloor bool) error {
	if movement.QtyDelta.IsZero() {
		return errors.New("movement qty delta cannot be zero")
	}
	if !movement.Reason.Valid() {
		return fmt.Errorf("invalid movement reason %q", movement.Reason)
	}
	if movement.ID == "" {
		movement.ID = uuid.NewString()
	}

	if err := tx.Create(movement).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return ErrDuplicateReference
		}
		return err
	}
	if err := catalog.ApplyStockDelta(tx, movement.ProductId, movement.QtyDelta, enforceFloor); err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			return fmt.Errorf("%w: product %d delta %s", ErrInsufficientStock, movement.ProductId, movement.QtyDelta)
		}
		return err
	}
	return nil
}

// HasConsumption reports whether a REPAIR_CONSUMPTION movement already exists
// for the ticket/product pair. Must run on the posting transaction so the
// check and the insert see the same state.
func HasConsumption(tx *gorm.DB, ticketId, productId int) (bool, error) {
	var count int64
	err := tx.Model(&StockMovement{}).
		Where("reference_key = ? AND reason = ?", ConsumptionReferenceKey(ticketId, productId), MovementReasonRepairConsumption).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CurrentStock reads the denormalized counter for a product (either schema).
func CurrentStock(ctx context.Context, productId int) (decimal.Decimal, error) {
	product, err := DefaultCatalog().FindById(ctx, productId)
	if err != nil {
		return decimal.Zero, err
	}
	return product.StockQty, nil
}

// LedgerSum aggregates all movement deltas for a product. Used by the
// conservation check: it must always equal the stock counter.
func LedgerSum(ctx context.Context, productId int) (decimal.Decimal, error) {
	db := config.GetDB()
	if db == nil {
		return decimal.Zero, ErrDBNotInitialized
	}
	var row struct {
		Total decimal.Decimal
	}
	err := db.WithContext(ctx).
		Raw("SELECT COALESCE(SUM(qty_delta), 0) AS total FROM stock_movements WHERE product_id = ?", productId).
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, err
	}
	return row.Total, nil
}

// MovementsForTicket lists the ledger rows recorded against a ticket.
func MovementsForTicket(ctx context.Context, ticketId int) ([]*StockMovement, error) {
	db := config.GetDB()
	if db == nil {
		return nil, ErrDBNotInitialized
	}
	var movements []*StockMovement
	err := db.WithContext(ctx).
		Where("ticket_id = ?", ticketId).
		Order("created_at, id").
		Find(&movements).Error
	if err != nil {
		return nil, err
	}
	return movements, nil
}

// MovementsForProduct lists a product's ledger, newest first.
func MovementsForProduct(ctx context.Context, productId int, limit int) ([]*StockMovement, error) {
	db := config.GetDB()
	if db == nil {
		return nil, ErrDBNotInitialized
	}
	if limit <= 0 {
		limit = 50
	}
	var movements []*StockMovement
	err := db.WithContext(ctx).
		Where("product_id = ?", productId).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&movements).Error
	if err != nil {
		return nil, err
	}
	return movements, nil
}

type NewManualMovement struct {
	QtyDelta decimal.Decimal `json:"qty_delta"`
	Reason   MovementReason  `json:"reason" validate:"required"`
	Note     string          `json:"note" validate:"max=200"`
}

// PostManualMovement records a manual adjustment or sale against a product.
// Outbound deltas are floor-checked like any other consumption.
func PostManualMovement(ctx context.Context, productId int, input *NewManualMovement) (*StockMovement, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.Reason == MovementReasonRepairConsumption {
		return nil, errors.New("repair consumption is posted by the consumption workflow only")
	}
	if !input.Reason.Valid() {
		return nil, fmt.Errorf("invalid movement reason %q", input.Reason)
	}
	if input.QtyDelta.IsZero() {
		return nil, errors.New("qty delta cannot be zero")
	}

	db := config.GetDB()
	if db == nil {
		return nil, ErrDBNotInitialized
	}

	catalog := DefaultCatalog()
	product, err := catalog.FindById(ctx, productId)
	if err != nil {
		return nil, err
	}
	if product.Kind == ProductKindService {
		return nil, errors.New("services carry no stock")
	}

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	userId, _ := utils.GetUserIdFromContext(ctx)
	movement := &StockMovement{
		ID:            uuid.NewString(),
		ProductId:     productId,
		QtyDelta:      input.QtyDelta,
		Reason:        input.Reason,
		ReferenceKey:  fmt.Sprintf("%s:%s", input.Reason, uuid.NewString()),
		ActingUserId:  userId,
		CorrelationId: correlationId,
	}

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	if err := PostMovement(tx, catalog, movement, true); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return movement, nil
}
