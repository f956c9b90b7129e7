package workflow

import (
	"context"
	"sort"

	"bitbucket.org/fixpoint/repairs_backend/models"
	"github.com/shopspring/decimal"
)

// StockReader is the read-side stock contract the validator checks against.
type StockReader interface {
	CurrentStock(ctx context.Context, productId int) (decimal.Decimal, error)
}

type ledgerStockReader struct{}

func (ledgerStockReader) CurrentStock(ctx context.Context, productId int) (decimal.Decimal, error) {
	return models.CurrentStock(ctx, productId)
}

// ShortfallItem is one part that cannot be satisfied, with the exact numbers
// the completion UI should show.
type ShortfallItem struct {
	ProductId   int             `json:"product_id"`
	ProductName string          `json:"product_name"`
	Needed      decimal.Decimal `json:"needed"`
	Available   decimal.Decimal `json:"available"`
}

// ShortfallReport is the validation output. OK is true only when every
// aggregated need is satisfiable. Transient; never persisted.
type ShortfallReport struct {
	TicketId int             `json:"ticket_id"`
	OK       bool            `json:"ok"`
	Items    []ShortfallItem `json:"items"`
}

type productNeed struct {
	ProductId   int
	ProductName string
	Qty         decimal.Decimal
}

// aggregateNeeds sums quantities per product across all resolved lines.
// Multiple lines resolving to the same product must be checked (and consumed)
// as one total, never independently. Output is ordered by product id so
// consumption touches rows in a deterministic order.
func aggregateNeeds(parts []*ResolvedPart) []productNeed {
	byProduct := make(map[int]*productNeed)
	for _, part := range parts {
		need, ok := byProduct[part.Product.ID]
		if !ok {
			need = &productNeed{ProductId: part.Product.ID, ProductName: part.Product.Name}
			byProduct[part.Product.ID] = need
		}
		need.Qty = need.Qty.Add(part.Line.Qty)
	}
	needs := make([]productNeed, 0, len(byProduct))
	for _, need := range byProduct {
		needs = append(needs, *need)
	}
	sort.Slice(needs, func(i, j int) bool { return needs[i].ProductId < needs[j].ProductId })
	return needs
}

func validateParts(ctx context.Context, stocks StockReader, ticketId int, parts []*ResolvedPart) (*ShortfallReport, error) {
	report := &ShortfallReport{TicketId: ticketId, OK: true, Items: make([]ShortfallItem, 0)}
	for _, need := range aggregateNeeds(parts) {
		available, err := stocks.CurrentStock(ctx, need.ProductId)
		if err != nil {
			return nil, err
		}
		if available.LessThan(need.Qty) {
			report.OK = false
			report.Items = append(report.Items, ShortfallItem{
				ProductId:   need.ProductId,
				ProductName: need.ProductName,
				Needed:      need.Qty,
				Available:   available,
			})
		}
	}
	return report, nil
}

// ValidateTicket reports whether every resolved part of the ticket has
// sufficient available stock. Read-only and lock-free: it tolerates slightly
// stale reads, may be called repeatedly, and never blocks a concurrent
// consumption.
func ValidateTicket(ctx context.Context, ticketId int) (*ShortfallReport, error) {
	resolution, err := ResolveTicketParts(ctx, ticketId)
	if err != nil {
		return nil, err
	}
	return validateParts(ctx, ledgerStockReader{}, ticketId, resolution.Parts)
}
