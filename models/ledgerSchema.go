package models

import (
	"fmt"

	"bitbucket.org/fixpoint/repairs_backend/config"
)

// EnsureLedgerSchema enforces the constraints the consumption engine relies
// on: the uniqueness index on the movement reference key (the idempotency
// guard must live in storage, not in memory) and the disjoint legacy id
// range. Intended for clean-start environments; disable with
// LEDGER_STRICT_SCHEMA=false.
func EnsureLedgerSchema() error {
	db := config.GetDB()
	if db == nil {
		return ErrDBNotInitialized
	}
	if !config.StrictLedgerSchema() {
		return nil
	}

	var idxCount int64
	if err := db.Raw(`
		SELECT COUNT(1)
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = DATABASE()
		  AND TABLE_NAME = 'stock_movements'
		  AND INDEX_NAME = 'uniq_movement_ref'
	`).Scan(&idxCount).Error; err != nil {
		return err
	}
	if idxCount == 0 {
		if err := db.Exec(`
			CREATE UNIQUE INDEX uniq_movement_ref
			ON stock_movements (reference_key)
		`).Error; err != nil {
			return err
		}
	}

	var badLegacy int64
	if err := db.Model(&LegacyPart{}).Where("id < ?", LegacyIdFloor).Count(&badLegacy).Error; err != nil {
		return err
	}
	if badLegacy > 0 {
		return fmt.Errorf("legacy_parts has %d rows below id %d; legacy ids must be disjoint from products", badLegacy, LegacyIdFloor)
	}

	var badCurrent int64
	if err := db.Model(&Product{}).Where("id >= ?", LegacyIdFloor).Count(&badCurrent).Error; err != nil {
		return err
	}
	if badCurrent > 0 {
		return fmt.Errorf("products has %d rows at or above id %d; that range is reserved for legacy parts", badCurrent, LegacyIdFloor)
	}

	return nil
}
