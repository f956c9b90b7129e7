package models

import "fmt"

type ProductKind string

const (
	ProductKindPhysical ProductKind = "P"
	ProductKindService  ProductKind = "S"
)

func (k ProductKind) Valid() bool {
	return k == ProductKindPhysical || k == ProductKindService
}

type MovementReason string

const (
	MovementReasonRepairConsumption MovementReason = "REPAIR_CONSUMPTION"
	MovementReasonManualEntry       MovementReason = "MANUAL_ENTRY"
	MovementReasonSale              MovementReason = "SALE"
	MovementReasonOpeningStock      MovementReason = "OPENING_STOCK"
)

func (r MovementReason) Valid() bool {
	switch r {
	case MovementReasonRepairConsumption, MovementReasonManualEntry, MovementReasonSale, MovementReasonOpeningStock:
		return true
	}
	return false
}

// ResolutionTier is the confidence level of mapping a budget line's free
// text to a catalog product.
type ResolutionTier string

const (
	ResolutionTierExact      ResolutionTier = "EXACT"
	ResolutionTierPartial    ResolutionTier = "PARTIAL"
	ResolutionTierKeyword    ResolutionTier = "KEYWORD"
	ResolutionTierUnresolved ResolutionTier = "UNRESOLVED"
)

// MatchPrecision selects how strictly FindByName compares the query against
// product names.
type MatchPrecision int

const (
	MatchExact MatchPrecision = iota
	MatchSubstring
	MatchToken
)

func (p MatchPrecision) String() string {
	switch p {
	case MatchExact:
		return "exact"
	case MatchSubstring:
		return "substring"
	case MatchToken:
		return "token"
	}
	return fmt.Sprintf("MatchPrecision(%d)", int(p))
}

type TicketStatus string

const (
	TicketStatusDraft     TicketStatus = "DRAFT"
	TicketStatusApproved  TicketStatus = "APPROVED"
	TicketStatusCompleted TicketStatus = "COMPLETED"
	TicketStatusCancelled TicketStatus = "CANCELLED"
)
