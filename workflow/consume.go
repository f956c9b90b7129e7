package workflow

import (
	"context"
	"errors"

	"bitbucket.org/fixpoint/repairs_backend/config"
	"bitbucket.org/fixpoint/repairs_backend/models"
	"bitbucket.org/fixpoint/repairs_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrTicketLockHeld is returned when another worker is consuming the same
// ticket right now. Retryable: the winner's postings make the retry a no-op.
var ErrTicketLockHeld = errors.New("ticket consumption already in progress")

// ConsumedEntry is one newly posted decrement.
type ConsumedEntry struct {
	ProductId   int             `json:"product_id"`
	ProductName string          `json:"product_name"`
	Qty         decimal.Decimal `json:"qty"`
}

// ConsumptionResult lists what this call actually posted. Products whose
// consumption was already recorded by an earlier call appear in
// AlreadyConsumed, not in Consumed, and are not an error.
type ConsumptionResult struct {
	TicketId        int             `json:"ticket_id"`
	Consumed        []ConsumedEntry `json:"consumed"`
	AlreadyConsumed []int           `json:"already_consumed"`
}

// ConsumeTicket decrements stock and writes one ledger entry per distinct
// product on the ticket's resolved budget, exactly once per (ticket, product)
// pair regardless of retries, crashes or double-clicks.
//
// All postings for the call happen inside one transaction: if any product
// lacks stock, nothing is consumed. The per-ticket redis lock serializes
// concurrent completion attempts before the idempotency rows become visible;
// the uniqueness constraint on the movement reference key backs the same
// guarantee at the storage layer.
func ConsumeTicket(ctx context.Context, ticketId int, actingUserId int) (*ConsumptionResult, error) {
	logger := config.GetLogger()
	db := config.GetDB()
	if db == nil {
		return nil, models.ErrDBNotInitialized
	}

	release, err := utils.TicketLock(ctx, ticketId, "workflow", "ConsumeTicket")
	if err != nil {
		if errors.Is(err, utils.ErrLockNotObtained) {
			return nil, ErrTicketLockHeld
		}
		return nil, err
	}
	defer release()

	// Always re-resolve: the budget or the catalog may have changed since the
	// caller previewed the parts list.
	resolution, err := ResolveTicketParts(ctx, ticketId)
	if err != nil {
		return nil, err
	}
	needs := aggregateNeeds(resolution.Parts)

	result := &ConsumptionResult{
		TicketId:        ticketId,
		Consumed:        make([]ConsumedEntry, 0, len(needs)),
		AlreadyConsumed: make([]int, 0),
	}
	if len(needs) == 0 {
		return result, nil
	}

	catalog := models.DefaultCatalog()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	for _, need := range needs {
		consumed, err := models.HasConsumption(tx, ticketId, need.ProductId)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if consumed {
			result.AlreadyConsumed = append(result.AlreadyConsumed, need.ProductId)
			continue
		}

		movement := models.NewConsumptionMovement(ctx, ticketId, need.ProductId, need.Qty, actingUserId)
		if err := models.PostMovement(tx, catalog, movement, true); err != nil {
			if errors.Is(err, models.ErrDuplicateReference) {
				// Lost a race with another poster; their entry stands.
				result.AlreadyConsumed = append(result.AlreadyConsumed, need.ProductId)
				continue
			}
			tx.Rollback()
			if !errors.Is(err, models.ErrInsufficientStock) {
				config.LogError(logger, "workflow", "ConsumeTicket", "post consumption movement", ticketId, err)
			}
			return nil, err
		}
		result.Consumed = append(result.Consumed, ConsumedEntry{
			ProductId:   need.ProductId,
			ProductName: need.ProductName,
			Qty:         need.Qty,
		})
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"module":          "workflow",
		"funcName":        "ConsumeTicket",
		"ticketId":        ticketId,
		"actingUserId":    actingUserId,
		"newlyConsumed":   len(result.Consumed),
		"alreadyConsumed": len(result.AlreadyConsumed),
		"unresolved":      len(resolution.Unresolved),
	}).Info("ticket consumption posted")

	return result, nil
}
