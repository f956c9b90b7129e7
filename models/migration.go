package models

import (
	"log"

	"bitbucket.org/fixpoint/repairs_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Product{}, &LegacyPart{},
		&Ticket{}, &BudgetLine{},
		&StockMovement{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
