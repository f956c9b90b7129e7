package workflow

import (
	"context"
	"strings"

	"bitbucket.org/fixpoint/repairs_backend/config"
	"bitbucket.org/fixpoint/repairs_backend/models"
)

// CatalogLookup is the read-side catalog contract the resolver matches
// against. models.Catalog implements it; tests use in-memory fakes.
type CatalogLookup interface {
	FindById(ctx context.Context, id int) (*models.Product, error)
	FindByName(ctx context.Context, query string, precision models.MatchPrecision, kind *models.ProductKind) ([]*models.Product, error)
}

// ResolvedPart maps one budget line onto a physical catalog product.
// Transient; never persisted.
type ResolvedPart struct {
	Line    *models.BudgetLine    `json:"line"`
	Product *models.Product       `json:"product"`
	Tier    models.ResolutionTier `json:"tier"`
}

// Resolution is the full outcome of materializing a ticket's budget.
// Unresolved lines are not an error: they are assumed to be non-inventoried
// items and are excluded from validation and consumption. They are surfaced
// here so calling code can decide whether to warn.
type Resolution struct {
	TicketId        int                  `json:"ticket_id"`
	Parts           []*ResolvedPart      `json:"parts"`
	SkippedServices []*models.BudgetLine `json:"skipped_services"`
	Unresolved      []*models.BudgetLine `json:"unresolved"`
}

type matcher struct {
	tier  models.ResolutionTier
	match func(ctx context.Context, catalog CatalogLookup, description string) (*models.Product, error)
}

// matcherChain is the ordered name-matching cascade; first success wins.
var matcherChain = []matcher{
	{models.ResolutionTierExact, exactMatch},
	{models.ResolutionTierPartial, substringMatch},
	{models.ResolutionTierKeyword, tokenMatch},
}

func exactMatch(ctx context.Context, catalog CatalogLookup, description string) (*models.Product, error) {
	candidates, err := catalog.FindByName(ctx, description, models.MatchExact, nil)
	if err != nil {
		return nil, err
	}
	return firstPhysical(candidates), nil
}

func substringMatch(ctx context.Context, catalog CatalogLookup, description string) (*models.Product, error) {
	candidates, err := catalog.FindByName(ctx, description, models.MatchSubstring, nil)
	if err != nil {
		return nil, err
	}
	return firstPhysical(candidates), nil
}

func tokenMatch(ctx context.Context, catalog CatalogLookup, description string) (*models.Product, error) {
	for _, token := range models.TokenizeQuery(description) {
		candidates, err := catalog.FindByName(ctx, token, models.MatchSubstring, nil)
		if err != nil {
			return nil, err
		}
		if product := firstPhysical(candidates); product != nil {
			return product, nil
		}
	}
	return nil, nil
}

// firstPhysical discards services at every tier. A SERVICE sharing a part's
// name must never be accepted as a resolved part.
func firstPhysical(candidates []*models.Product) *models.Product {
	for _, candidate := range candidates {
		if candidate.Kind == models.ProductKindPhysical {
			return candidate
		}
	}
	return nil
}

// isServiceLine reports whether the description names billable work rather
// than a part. The keyword filter runs before any catalog lookup: a line
// marked as service never touches inventory, even when a same-named physical
// product exists.
func isServiceLine(description string, keywords []string) bool {
	lowered := strings.ToLower(description)
	for _, keyword := range keywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

func resolveLine(ctx context.Context, catalog CatalogLookup, line *models.BudgetLine, keywords []string) (*ResolvedPart, bool, error) {
	description := strings.TrimSpace(line.Description)
	if isServiceLine(description, keywords) {
		return nil, true, nil
	}
	for _, m := range matcherChain {
		product, err := m.match(ctx, catalog, description)
		if err != nil {
			return nil, false, err
		}
		if product != nil {
			return &ResolvedPart{Line: line, Product: product, Tier: m.tier}, false, nil
		}
	}
	return nil, false, nil
}

func resolveLines(ctx context.Context, catalog CatalogLookup, ticketId int, lines []*models.BudgetLine, keywords []string) (*Resolution, error) {
	resolution := &Resolution{
		TicketId:        ticketId,
		Parts:           make([]*ResolvedPart, 0, len(lines)),
		SkippedServices: make([]*models.BudgetLine, 0),
		Unresolved:      make([]*models.BudgetLine, 0),
	}
	for _, line := range lines {
		part, skippedService, err := resolveLine(ctx, catalog, line, keywords)
		if err != nil {
			return nil, err
		}
		switch {
		case skippedService:
			resolution.SkippedServices = append(resolution.SkippedServices, line)
		case part != nil:
			resolution.Parts = append(resolution.Parts, part)
		default:
			resolution.Unresolved = append(resolution.Unresolved, line)
		}
	}
	return resolution, nil
}

// ResolveTicketParts materializes a ticket's approved budget lines into
// resolved parts. Returns utils.ErrorRecordNotFound only when the ticket
// itself does not exist.
func ResolveTicketParts(ctx context.Context, ticketId int) (*Resolution, error) {
	lines, err := models.BudgetLinesForTicket(ctx, ticketId)
	if err != nil {
		return nil, err
	}
	return resolveLines(ctx, models.DefaultCatalog(), ticketId, lines, config.ServiceKeywords())
}
