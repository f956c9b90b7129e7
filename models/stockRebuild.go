package models

import (
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StockDrift is one product whose counter disagrees with its ledger sum.
type StockDrift struct {
	ProductId  int             `json:"product_id"`
	Schema     string          `json:"schema"`
	Counter    decimal.Decimal `json:"counter"`
	LedgerQty  decimal.Decimal `json:"ledger_qty"`
	Difference decimal.Decimal `json:"difference"`
}

// AuditStockCounters compares every product's counter against its ledger sum
// and returns the rows that drifted. Read-only.
func AuditStockCounters(db *gorm.DB) ([]StockDrift, error) {
	drifts := make([]StockDrift, 0)

	var currentRows []struct {
		Id        int
		StockQty  decimal.Decimal
		LedgerQty decimal.Decimal
	}
	err := db.Raw(`
		SELECT p.id, p.stock_qty,
		       COALESCE((SELECT SUM(m.qty_delta) FROM stock_movements m WHERE m.product_id = p.id), 0) AS ledger_qty
		FROM products p
		WHERE p.kind = 'P'
	`).Scan(&currentRows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range currentRows {
		if !r.StockQty.Equal(r.LedgerQty) {
			drifts = append(drifts, StockDrift{
				ProductId:  r.Id,
				Schema:     SchemaOriginCurrent,
				Counter:    r.StockQty,
				LedgerQty:  r.LedgerQty,
				Difference: r.StockQty.Sub(r.LedgerQty),
			})
		}
	}

	var legacyRows []struct {
		Id        int
		Units     decimal.Decimal
		LedgerQty decimal.Decimal
	}
	err = db.Raw(`
		SELECT lp.id, lp.units,
		       COALESCE((SELECT SUM(m.qty_delta) FROM stock_movements m WHERE m.product_id = lp.id), 0) AS ledger_qty
		FROM legacy_parts lp
		WHERE lp.is_service = 0
	`).Scan(&legacyRows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range legacyRows {
		if !r.Units.Equal(r.LedgerQty) {
			drifts = append(drifts, StockDrift{
				ProductId:  r.Id,
				Schema:     SchemaOriginLegacy,
				Counter:    r.Units,
				LedgerQty:  r.LedgerQty,
				Difference: r.Units.Sub(r.LedgerQty),
			})
		}
	}

	return drifts, nil
}

// RebuildStockCounters resets drifted counters to their ledger sums.
// The ledger is the record of truth; counters are derived state.
func RebuildStockCounters(db *gorm.DB, logger *logrus.Logger) ([]StockDrift, error) {
	drifts, err := AuditStockCounters(db)
	if err != nil {
		return nil, err
	}
	if len(drifts) == 0 {
		return drifts, nil
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		for _, d := range drifts {
			var uerr error
			switch d.Schema {
			case SchemaOriginLegacy:
				uerr = tx.Model(&LegacyPart{}).Where("id = ?", d.ProductId).
					Update("units", d.LedgerQty).Error
			default:
				uerr = tx.Model(&Product{}).Where("id = ?", d.ProductId).
					Update("stock_qty", d.LedgerQty).Error
			}
			if uerr != nil {
				return uerr
			}
			logger.WithFields(logrus.Fields{
				"module":    "models",
				"productId": d.ProductId,
				"schema":    d.Schema,
				"counter":   d.Counter.String(),
				"ledger":    d.LedgerQty.String(),
			}).Warn("stock counter rebuilt from ledger")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return drifts, nil
}
