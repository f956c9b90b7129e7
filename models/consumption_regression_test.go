package models_test

import (
	"errors"
	"testing"

	"bitbucket.org/fixpoint/repairs_backend/config"
	"bitbucket.org/fixpoint/repairs_backend/models"
	"bitbucket.org/fixpoint/repairs_backend/utils"
	"bitbucket.org/fixpoint/repairs_backend/workflow"
	"github.com/shopspring/decimal"
)

// Regression: completing a ticket twice must decrement stock exactly once.
// Covers idempotency, per-product aggregation and counter/ledger conservation.
func TestConsumeTicket_ExactlyOnceWithAggregation(t *testing.T) {
	ctx := setupIntegration(t)

	screen, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:     "Screen X",
		Kind:     models.ProductKindPhysical,
		StockQty: decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	ticket, err := models.CreateTicket(ctx, &models.NewTicket{
		ClientName: "Walk-in",
		BudgetLines: []models.NewBudgetLine{
			{Description: "Screen X", Qty: decimal.NewFromInt(2)},
			{Description: "Screen X", Qty: decimal.NewFromInt(1)},
			{Description: "Labor", Qty: decimal.NewFromInt(1)},
		},
	})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}

	report, err := workflow.ValidateTicket(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("ValidateTicket: %v", err)
	}
	if !report.OK {
		t.Fatalf("expected validation success, got %+v", report)
	}

	result, err := workflow.ConsumeTicket(ctx, ticket.ID, 1)
	if err != nil {
		t.Fatalf("ConsumeTicket: %v", err)
	}
	if len(result.Consumed) != 1 {
		t.Fatalf("expected 1 consumed entry, got %+v", result.Consumed)
	}
	if result.Consumed[0].ProductId != screen.ID || !result.Consumed[0].Qty.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected product %d qty 3, got %+v", screen.ID, result.Consumed[0])
	}

	stock, err := models.CurrentStock(ctx, screen.ID)
	if err != nil {
		t.Fatalf("CurrentStock: %v", err)
	}
	if !stock.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected stock 2 after consumption, got %s", stock)
	}

	// Retry: no new postings, no further decrement.
	retry, err := workflow.ConsumeTicket(ctx, ticket.ID, 1)
	if err != nil {
		t.Fatalf("ConsumeTicket retry: %v", err)
	}
	if len(retry.Consumed) != 0 {
		t.Fatalf("expected no newly consumed entries on retry, got %+v", retry.Consumed)
	}
	if len(retry.AlreadyConsumed) != 1 || retry.AlreadyConsumed[0] != screen.ID {
		t.Fatalf("expected product %d reported as already consumed, got %+v", screen.ID, retry.AlreadyConsumed)
	}

	stock, err = models.CurrentStock(ctx, screen.ID)
	if err != nil {
		t.Fatalf("CurrentStock after retry: %v", err)
	}
	if !stock.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected stock still 2 after retry, got %s", stock)
	}

	movements, err := models.MovementsForTicket(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("MovementsForTicket: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected exactly 1 ledger entry for the ticket, got %d", len(movements))
	}
	if !movements[0].QtyDelta.Equal(decimal.NewFromInt(-3)) {
		t.Fatalf("expected ledger delta -3, got %s", movements[0].QtyDelta)
	}

	sum, err := models.LedgerSum(ctx, screen.ID)
	if err != nil {
		t.Fatalf("LedgerSum: %v", err)
	}
	if !sum.Equal(stock) {
		t.Fatalf("conservation violated: ledger sum %s != counter %s", sum, stock)
	}
	drifts, err := models.AuditStockCounters(config.GetDB())
	if err != nil {
		t.Fatalf("AuditStockCounters: %v", err)
	}
	if len(drifts) != 0 {
		t.Fatalf("expected no counter drift, got %+v", drifts)
	}
}

// Regression: only a genuinely missing row maps to NotFound; storage
// failures keep their own error so callers can distinguish 404 from 500.
func TestGetTicket_StorageFailureIsNotNotFound(t *testing.T) {
	ctx := setupIntegration(t)
	db := config.GetDB()

	ticket, err := models.CreateTicket(ctx, &models.NewTicket{
		ClientName: "Walk-in",
		BudgetLines: []models.NewBudgetLine{
			{Description: "Screen X", Qty: decimal.NewFromInt(1)},
		},
	})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}

	if _, err := models.GetTicket(ctx, ticket.ID+1000); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected ErrorRecordNotFound for missing ticket, got %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	_, err = models.GetTicket(ctx, ticket.ID)
	if err == nil {
		t.Fatal("expected an error from a closed connection pool")
	}
	if errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("storage failure must not be reported as not-found: %v", err)
	}
}

// Regression: while one worker holds the ticket lock, a concurrent consume
// must fail fast with a retryable error and leave stock untouched.
func TestConsumeTicket_ConcurrentAttemptFailsFast(t *testing.T) {
	ctx := setupIntegration(t)

	screen, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:     "Screen X",
		Kind:     models.ProductKindPhysical,
		StockQty: decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	ticket, err := models.CreateTicket(ctx, &models.NewTicket{
		ClientName: "Walk-in",
		BudgetLines: []models.NewBudgetLine{
			{Description: "Screen X", Qty: decimal.NewFromInt(2)},
		},
	})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}

	release, err := utils.TicketLock(ctx, ticket.ID, "models_test", "TestConsumeTicket_ConcurrentAttemptFailsFast")
	if err != nil {
		t.Fatalf("TicketLock: %v", err)
	}

	_, err = workflow.ConsumeTicket(ctx, ticket.ID, 1)
	if !errors.Is(err, workflow.ErrTicketLockHeld) {
		release()
		t.Fatalf("expected ErrTicketLockHeld while lock is held, got %v", err)
	}

	stock, err := models.CurrentStock(ctx, screen.ID)
	if err != nil {
		release()
		t.Fatalf("CurrentStock: %v", err)
	}
	if !stock.Equal(decimal.NewFromInt(5)) {
		release()
		t.Fatalf("expected stock untouched at 5, got %s", stock)
	}

	// The loser retries after the winner releases; this attempt must post.
	release()
	result, err := workflow.ConsumeTicket(ctx, ticket.ID, 1)
	if err != nil {
		t.Fatalf("ConsumeTicket after release: %v", err)
	}
	if len(result.Consumed) != 1 || result.Consumed[0].ProductId != screen.ID {
		t.Fatalf("expected consumption after lock release, got %+v", result)
	}
}

// Regression: when another poster already recorded the (ticket, product)
// consumption, a later consume reports it as already consumed and never
// decrements twice.
func TestConsumeTicket_ExistingPostingCountsAsAlreadyConsumed(t *testing.T) {
	ctx := setupIntegration(t)
	db := config.GetDB()

	screen, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:     "Screen X",
		Kind:     models.ProductKindPhysical,
		StockQty: decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	ticket, err := models.CreateTicket(ctx, &models.NewTicket{
		ClientName: "Walk-in",
		BudgetLines: []models.NewBudgetLine{
			{Description: "Screen X", Qty: decimal.NewFromInt(2)},
		},
	})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}

	// Competing worker posts the consumption first.
	tx := db.Begin()
	competing := models.NewConsumptionMovement(ctx, ticket.ID, screen.ID, decimal.NewFromInt(2), 2)
	if err := models.PostMovement(tx, models.DefaultCatalog(), competing, true); err != nil {
		tx.Rollback()
		t.Fatalf("competing PostMovement: %v", err)
	}
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("commit competing posting: %v", err)
	}

	result, err := workflow.ConsumeTicket(ctx, ticket.ID, 1)
	if err != nil {
		t.Fatalf("ConsumeTicket: %v", err)
	}
	if len(result.Consumed) != 0 {
		t.Fatalf("expected no new postings, got %+v", result.Consumed)
	}
	if len(result.AlreadyConsumed) != 1 || result.AlreadyConsumed[0] != screen.ID {
		t.Fatalf("expected product %d already consumed, got %+v", screen.ID, result.AlreadyConsumed)
	}

	stock, err := models.CurrentStock(ctx, screen.ID)
	if err != nil {
		t.Fatalf("CurrentStock: %v", err)
	}
	if !stock.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected stock 3 (single decrement), got %s", stock)
	}
	movements, err := models.MovementsForTicket(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("MovementsForTicket: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected a single ledger entry, got %d", len(movements))
	}
}

// Regression: a duplicate reference key must reject the insert before the
// counter is touched, so a lost insert race can be skipped safely.
func TestPostMovement_DuplicateReferenceLeavesCounterUntouched(t *testing.T) {
	ctx := setupIntegration(t)
	db := config.GetDB()

	screen, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:     "Screen X",
		Kind:     models.ProductKindPhysical,
		StockQty: decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	tx := db.Begin()
	first := models.NewConsumptionMovement(ctx, 77, screen.ID, decimal.NewFromInt(2), 1)
	if err := models.PostMovement(tx, models.DefaultCatalog(), first, true); err != nil {
		tx.Rollback()
		t.Fatalf("first PostMovement: %v", err)
	}
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("commit first posting: %v", err)
	}

	tx = db.Begin()
	duplicate := models.NewConsumptionMovement(ctx, 77, screen.ID, decimal.NewFromInt(2), 1)
	err = models.PostMovement(tx, models.DefaultCatalog(), duplicate, true)
	if !errors.Is(err, models.ErrDuplicateReference) {
		tx.Rollback()
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}
	tx.Rollback()

	stock, err := models.CurrentStock(ctx, screen.ID)
	if err != nil {
		t.Fatalf("CurrentStock: %v", err)
	}
	if !stock.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected stock 3 after one posting, got %s", stock)
	}
}

// Regression: a ticket that cannot be fully satisfied must consume nothing,
// even for the products that do have stock.
func TestConsumeTicket_ShortfallIsAllOrNothing(t *testing.T) {
	ctx := setupIntegration(t)

	stocked, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:     "Back Glass",
		Kind:     models.ProductKindPhysical,
		StockQty: decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("CreateProduct stocked: %v", err)
	}
	scarce, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:     "Camera Lens",
		Kind:     models.ProductKindPhysical,
		StockQty: decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("CreateProduct scarce: %v", err)
	}

	ticket, err := models.CreateTicket(ctx, &models.NewTicket{
		ClientName: "Acme Corp",
		BudgetLines: []models.NewBudgetLine{
			{Description: "Back Glass", Qty: decimal.NewFromInt(1)},
			{Description: "Camera Lens", Qty: decimal.NewFromInt(2)},
		},
	})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}

	report, err := workflow.ValidateTicket(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("ValidateTicket: %v", err)
	}
	if report.OK {
		t.Fatal("expected shortfall")
	}
	if len(report.Items) != 1 {
		t.Fatalf("expected 1 shortfall item, got %+v", report.Items)
	}
	item := report.Items[0]
	if item.ProductId != scarce.ID || !item.Needed.Equal(decimal.NewFromInt(2)) || !item.Available.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("unexpected shortfall item %+v", item)
	}

	_, err = workflow.ConsumeTicket(ctx, ticket.ID, 1)
	if !errors.Is(err, models.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	for _, p := range []struct {
		id   int
		want int64
	}{{stocked.ID, 10}, {scarce.ID, 1}} {
		stock, serr := models.CurrentStock(ctx, p.id)
		if serr != nil {
			t.Fatalf("CurrentStock(%d): %v", p.id, serr)
		}
		if !stock.Equal(decimal.NewFromInt(p.want)) {
			t.Fatalf("expected product %d untouched at %d, got %s", p.id, p.want, stock)
		}
	}

	movements, err := models.MovementsForTicket(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("MovementsForTicket: %v", err)
	}
	if len(movements) != 0 {
		t.Fatalf("expected zero ledger entries after aborted consumption, got %d", len(movements))
	}
}

// Regression: legacy-schema parts resolve and consume through the same
// facade and ledger as current-schema products.
func TestConsumeTicket_LegacySchemaPart(t *testing.T) {
	ctx := setupIntegration(t)
	db := config.GetDB()

	part := models.LegacyPart{
		ID:        models.LegacyIdFloor + 1,
		Label:     "Rear Camera Module A51",
		Units:     3,
		IsService: utils.NewFalse(),
		Retired:   utils.NewFalse(),
		UnitPrice: 30,
	}
	if err := db.Create(&part).Error; err != nil {
		t.Fatalf("create legacy part: %v", err)
	}
	opening := models.NewOpeningMovement(ctx, part.ID, decimal.NewFromInt(3))
	if err := db.Create(opening).Error; err != nil {
		t.Fatalf("create opening movement: %v", err)
	}

	ticket, err := models.CreateTicket(ctx, &models.NewTicket{
		ClientName: "Walk-in",
		BudgetLines: []models.NewBudgetLine{
			{Description: "rear camera module a51", Qty: decimal.NewFromInt(1)},
		},
	})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}

	resolution, err := workflow.ResolveTicketParts(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("ResolveTicketParts: %v", err)
	}
	if len(resolution.Parts) != 1 || resolution.Parts[0].Product.ID != part.ID {
		t.Fatalf("expected legacy part resolved, got %+v", resolution.Parts)
	}
	if resolution.Parts[0].Tier != models.ResolutionTierExact {
		t.Fatalf("expected exact tier, got %s", resolution.Parts[0].Tier)
	}

	result, err := workflow.ConsumeTicket(ctx, ticket.ID, 1)
	if err != nil {
		t.Fatalf("ConsumeTicket: %v", err)
	}
	if len(result.Consumed) != 1 || result.Consumed[0].ProductId != part.ID {
		t.Fatalf("expected legacy part consumed, got %+v", result.Consumed)
	}

	stock, err := models.CurrentStock(ctx, part.ID)
	if err != nil {
		t.Fatalf("CurrentStock: %v", err)
	}
	if !stock.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected legacy units 2, got %s", stock)
	}

	drifts, err := models.AuditStockCounters(db)
	if err != nil {
		t.Fatalf("AuditStockCounters: %v", err)
	}
	if len(drifts) != 0 {
		t.Fatalf("expected no counter drift, got %+v", drifts)
	}
}
