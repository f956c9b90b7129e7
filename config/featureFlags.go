package config

import (
	"os"
	"strings"
)

// defaultServiceKeywords are budget-line markers for billable work that must
// never touch inventory. Overridable via SERVICE_KEYWORDS (comma separated).
var defaultServiceKeywords = []string{
	"labor",
	"labour",
	"service",
	"diagnostic",
	"diagnosis",
	"installation",
	"cleaning",
	"calibration",
}

// ServiceKeywords returns the configured service-keyword list, lowercased.
//
// Set via env:
// - SERVICE_KEYWORDS="labor,diagnostic,flash"
func ServiceKeywords() []string {
	raw := strings.TrimSpace(os.Getenv("SERVICE_KEYWORDS"))
	if raw == "" {
		return defaultServiceKeywords
	}
	parts := strings.Split(raw, ",")
	keywords := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			keywords = append(keywords, p)
		}
	}
	if len(keywords) == 0 {
		return defaultServiceKeywords
	}
	return keywords
}

// StrictLedgerSchema enforces the reference-key uniqueness index and legacy
// id-range checks at startup. Intended for clean-start environments.
//
// Set via env:
// - LEDGER_STRICT_SCHEMA=false to disable (default enabled)
func StrictLedgerSchema() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("LEDGER_STRICT_SCHEMA")))
	return v != "false" && v != "0" && v != "no"
}

// CatalogNameCache enables redis caching of name-lookup candidate id lists.
// Only ids are cached; product rows (and stock) are always re-read from the DB.
// Trades resolution freshness for reads: a rename or deactivation can keep
// matching stale candidates for up to the cache TTL.
//
// Set via env:
// - CATALOG_NAME_CACHE=true
func CatalogNameCache() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("CATALOG_NAME_CACHE")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
