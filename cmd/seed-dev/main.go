package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/fixpoint/repairs_backend/config"
	"bitbucket.org/fixpoint/repairs_backend/models"
	"bitbucket.org/fixpoint/repairs_backend/utils"
	"github.com/shopspring/decimal"
)

// seed-dev loads a small repair-shop catalog (both schemas) and a couple of
// approved tickets for local development.
func main() {
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	models.MigrateTable()
	if err := models.EnsureLedgerSchema(); err != nil {
		fmt.Fprintf(os.Stderr, "ledger schema: %v\n", err)
		os.Exit(1)
	}

	ctx := utils.SetUserIdInContext(context.Background(), 1)
	ctx = utils.SetUserNameInContext(ctx, "seed")

	products := []models.NewProduct{
		{Name: "Screen iPhone 12", Kind: models.ProductKindPhysical, Brand: "Apple", Model: "iPhone 12", SalesPrice: decimal.NewFromInt(120), StockQty: decimal.NewFromInt(5)},
		{Name: "Battery Galaxy S21", Kind: models.ProductKindPhysical, Brand: "Samsung", Model: "Galaxy S21", SalesPrice: decimal.NewFromInt(45), StockQty: decimal.NewFromInt(8)},
		{Name: "Charging Port Flex", Kind: models.ProductKindPhysical, SalesPrice: decimal.NewFromInt(15), StockQty: decimal.NewFromInt(12)},
		{Name: "Diagnostic Fee", Kind: models.ProductKindService, SalesPrice: decimal.NewFromInt(25)},
	}
	for i := range products {
		if _, err := models.CreateProduct(ctx, &products[i]); err != nil {
			fmt.Fprintf(os.Stderr, "create product %q: %v\n", products[i].Name, err)
			os.Exit(1)
		}
	}

	legacy := []models.LegacyPart{
		{ID: models.LegacyIdFloor + 1, Label: "Rear Camera Module A51", Units: 3, IsService: utils.NewFalse(), Retired: utils.NewFalse(), BrandTag: "Samsung", ModelTag: "A51", UnitPrice: 30},
		{ID: models.LegacyIdFloor + 2, Label: "Earpiece Speaker", Units: 6, IsService: utils.NewFalse(), Retired: utils.NewFalse(), UnitPrice: 8},
	}
	for i := range legacy {
		if err := db.Create(&legacy[i]).Error; err != nil {
			fmt.Fprintf(os.Stderr, "create legacy part %q: %v\n", legacy[i].Label, err)
			os.Exit(1)
		}
		movement := models.NewOpeningMovement(ctx, legacy[i].ID, decimal.NewFromInt(int64(legacy[i].Units)))
		if err := db.Create(movement).Error; err != nil {
			fmt.Fprintf(os.Stderr, "opening movement for legacy part %d: %v\n", legacy[i].ID, err)
			os.Exit(1)
		}
	}

	tickets := []models.NewTicket{
		{
			ClientName:  "Walk-in",
			DeviceBrand: "Apple",
			DeviceModel: "iPhone 12",
			BudgetLines: []models.NewBudgetLine{
				{Description: "Screen iPhone 12", Qty: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(120)},
				{Description: "Labor", Qty: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(20)},
			},
		},
		{
			ClientName:  "Acme Corp",
			DeviceBrand: "Samsung",
			DeviceModel: "A51",
			BudgetLines: []models.NewBudgetLine{
				{Description: "rear camera A51", Qty: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(35)},
				{Description: "Diagnostic", Qty: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(25)},
			},
		},
	}
	for i := range tickets {
		ticket, err := models.CreateTicket(ctx, &tickets[i])
		if err != nil {
			fmt.Fprintf(os.Stderr, "create ticket for %q: %v\n", tickets[i].ClientName, err)
			os.Exit(1)
		}
		fmt.Printf("seeded ticket %d (%s)\n", ticket.ID, ticket.ClientName)
	}

	fmt.Println("seed complete")
}
