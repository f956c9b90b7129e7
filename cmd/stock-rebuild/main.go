package main

import (
	"flag"
	"fmt"
	"os"

	"bitbucket.org/fixpoint/repairs_backend/config"
	"bitbucket.org/fixpoint/repairs_backend/models"
	"github.com/sirupsen/logrus"
)

// stock-rebuild audits every product's stock counter against its movement
// ledger and, with --fix, resets drifted counters to the ledger sum.
func main() {
	fix := flag.Bool("fix", false, "Rewrite drifted counters from the ledger (default: report only)")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()

	var (
		drifts []models.StockDrift
		err    error
	)
	if *fix {
		drifts, err = models.RebuildStockCounters(db, logger)
	} else {
		drifts, err = models.AuditStockCounters(db)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "stock rebuild failed: %v\n", err)
		os.Exit(1)
	}

	if len(drifts) == 0 {
		fmt.Println("all stock counters match the ledger")
		return
	}
	for _, d := range drifts {
		fmt.Printf("product=%d schema=%s counter=%s ledger=%s diff=%s\n",
			d.ProductId, d.Schema, d.Counter, d.LedgerQty, d.Difference)
	}
	if !*fix {
		fmt.Printf("%d drifted counters found; rerun with --fix to repair\n", len(drifts))
		os.Exit(2)
	}
	fmt.Printf("%d drifted counters rebuilt from the ledger\n", len(drifts))
}
