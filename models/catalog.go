package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/fixpoint/repairs_backend/config"
	"bitbucket.org/fixpoint/repairs_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrDBNotInitialized is returned when the DB connection has not been established.
	ErrDBNotInitialized = fmt.Errorf("database not initialized")
	// ErrInsufficientStock is returned when a decrement would drive stock below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// catalogSource is one storage shape for catalog entries. The current-schema
// and legacy-schema sources both normalize their rows into Product at this
// boundary, so nothing above the catalog ever branches on schema age.
type catalogSource interface {
	findById(ctx context.Context, id int) (*Product, error)
	findByName(ctx context.Context, query string, precision MatchPrecision, kind *ProductKind) ([]*Product, error)
	owns(tx *gorm.DB, id int) (bool, error)
	applyStockDelta(tx *gorm.DB, id int, delta decimal.Decimal, enforceFloor bool) error
}

// Catalog merges the catalog sources behind one lookup facade.
type Catalog struct {
	sources []catalogSource
}

var defaultCatalog = &Catalog{sources: []catalogSource{currentSource{}, legacySource{}}}

func DefaultCatalog() *Catalog {
	return defaultCatalog
}

// FindById resolves a product by id from any schema.
// Returns utils.ErrorRecordNotFound when no schema knows the id.
func (c *Catalog) FindById(ctx context.Context, id int) (*Product, error) {
	for _, source := range c.sources {
		product, err := source.findById(ctx, id)
		if err == nil {
			return product, nil
		}
		if !errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, err
		}
	}
	return nil, utils.ErrorRecordNotFound
}

// FindByName returns candidate products for a free-text query, merged across
// schemas (current schema first). Matching is case-insensitive. Zero matches
// yield an empty list, never an error.
//
// MatchToken splits the query into whitespace tokens longer than two
// characters and returns the candidates of the first token that matches
// anything, preserving token order.
func (c *Catalog) FindByName(ctx context.Context, query string, precision MatchPrecision, kind *ProductKind) ([]*Product, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*Product{}, nil
	}

	if precision == MatchToken {
		for _, token := range TokenizeQuery(query) {
			candidates, err := c.FindByName(ctx, token, MatchSubstring, kind)
			if err != nil {
				return nil, err
			}
			if len(candidates) > 0 {
				return candidates, nil
			}
		}
		return []*Product{}, nil
	}

	if ids, ok := c.cachedNameLookup(ctx, query, precision, kind); ok {
		return c.productsByIds(ctx, ids)
	}

	merged := make([]*Product, 0, config.SearchLimit)
	for _, source := range c.sources {
		if len(merged) >= config.SearchLimit {
			break
		}
		candidates, err := source.findByName(ctx, query, precision, kind)
		if err != nil {
			return nil, err
		}
		merged = append(merged, candidates...)
	}
	if len(merged) > config.SearchLimit {
		merged = merged[:config.SearchLimit]
	}

	c.storeNameLookup(query, precision, kind, merged)
	return merged, nil
}

// TokenizeQuery splits a description into whitespace-delimited tokens longer
// than two characters, preserving order.
func TokenizeQuery(query string) []string {
	fields := strings.Fields(query)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) > 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// ApplyStockDelta adjusts the owning schema's stock counter inside the
// caller's transaction. With enforceFloor, the counter update is guarded so
// stock can never go below zero; two concurrent decrements against the same
// row serialize on the row lock instead of both reading a stale value.
func (c *Catalog) ApplyStockDelta(tx *gorm.DB, productId int, delta decimal.Decimal, enforceFloor bool) error {
	for _, source := range c.sources {
		owned, err := source.owns(tx, productId)
		if err != nil {
			return err
		}
		if owned {
			return source.applyStockDelta(tx, productId, delta, enforceFloor)
		}
	}
	return utils.ErrorRecordNotFound
}

/* name-lookup cache (ids only; rows and stock are always re-read) */

const nameCacheTTL = 5 * time.Minute

func nameCacheKey(query string, precision MatchPrecision, kind *ProductKind) string {
	k := "*"
	if kind != nil {
		k = string(*kind)
	}
	return fmt.Sprintf("catalog:name:%s:%s:%s", precision, k, strings.ToLower(query))
}

func (c *Catalog) cachedNameLookup(ctx context.Context, query string, precision MatchPrecision, kind *ProductKind) ([]int, bool) {
	if !config.CatalogNameCache() {
		return nil, false
	}
	var ids []int
	found, err := config.GetRedisObject(nameCacheKey(query, precision, kind), &ids)
	if err != nil || !found {
		return nil, false
	}
	return ids, true
}

func (c *Catalog) storeNameLookup(query string, precision MatchPrecision, kind *ProductKind, products []*Product) {
	if !config.CatalogNameCache() {
		return
	}
	ids := make([]int, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	_ = config.SetRedisObject(nameCacheKey(query, precision, kind), ids, nameCacheTTL)
}

func (c *Catalog) productsByIds(ctx context.Context, ids []int) ([]*Product, error) {
	products := make([]*Product, 0, len(ids))
	for _, id := range ids {
		product, err := c.FindById(ctx, id)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				continue
			}
			return nil, err
		}
		products = append(products, product)
	}
	return products, nil
}

/* current schema */

type currentSource struct{}

func (currentSource) findById(ctx context.Context, id int) (*Product, error) {
	db := config.GetDB()
	if db == nil {
		return nil, ErrDBNotInitialized
	}
	var product Product
	err := db.WithContext(ctx).Where("id = ?", id).First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	product.SchemaOrigin = SchemaOriginCurrent
	return &product, nil
}

func (currentSource) findByName(ctx context.Context, query string, precision MatchPrecision, kind *ProductKind) ([]*Product, error) {
	db := config.GetDB()
	if db == nil {
		return nil, ErrDBNotInitialized
	}
	dbCtx := db.WithContext(ctx).Model(&Product{}).Where("is_active = ?", true)
	if kind != nil {
		dbCtx = dbCtx.Where("kind = ?", *kind)
	}
	switch precision {
	case MatchExact:
		dbCtx = dbCtx.Where("LOWER(name) = ?", strings.ToLower(query)).Order("id")
	case MatchSubstring:
		dbCtx = dbCtx.Where("LOWER(name) LIKE ?", "%"+escapeLike(strings.ToLower(query))+"%").
			Order("CHAR_LENGTH(name), id")
	default:
		return nil, fmt.Errorf("unsupported match precision %s", precision)
	}
	var products []*Product
	if err := dbCtx.Limit(config.SearchLimit).Find(&products).Error; err != nil {
		return nil, err
	}
	for _, p := range products {
		p.SchemaOrigin = SchemaOriginCurrent
	}
	return products, nil
}

func (currentSource) owns(tx *gorm.DB, id int) (bool, error) {
	var count int64
	if err := tx.Model(&Product{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (currentSource) applyStockDelta(tx *gorm.DB, id int, delta decimal.Decimal, enforceFloor bool) error {
	query := tx.Model(&Product{}).Where("id = ?", id)
	if enforceFloor && delta.IsNegative() {
		query = query.Where("stock_qty >= ?", delta.Neg())
	}
	result := query.Update("stock_qty", gorm.Expr("stock_qty + ?", delta))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInsufficientStock
	}
	return nil
}

/* legacy schema */

type legacySource struct{}

func (legacySource) findById(ctx context.Context, id int) (*Product, error) {
	db := config.GetDB()
	if db == nil {
		return nil, ErrDBNotInitialized
	}
	var part LegacyPart
	err := db.WithContext(ctx).Where("id = ?", id).First(&part).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return part.toProduct(), nil
}

func (legacySource) findByName(ctx context.Context, query string, precision MatchPrecision, kind *ProductKind) ([]*Product, error) {
	db := config.GetDB()
	if db == nil {
		return nil, ErrDBNotInitialized
	}
	dbCtx := db.WithContext(ctx).Model(&LegacyPart{}).Where("retired = ?", false)
	if kind != nil {
		dbCtx = dbCtx.Where("is_service = ?", *kind == ProductKindService)
	}
	switch precision {
	case MatchExact:
		dbCtx = dbCtx.Where("LOWER(label) = ?", strings.ToLower(query)).Order("id")
	case MatchSubstring:
		dbCtx = dbCtx.Where("LOWER(label) LIKE ?", "%"+escapeLike(strings.ToLower(query))+"%").
			Order("CHAR_LENGTH(label), id")
	default:
		return nil, fmt.Errorf("unsupported match precision %s", precision)
	}
	var parts []*LegacyPart
	if err := dbCtx.Limit(config.SearchLimit).Find(&parts).Error; err != nil {
		return nil, err
	}
	products := make([]*Product, 0, len(parts))
	for _, part := range parts {
		products = append(products, part.toProduct())
	}
	return products, nil
}

func (legacySource) owns(tx *gorm.DB, id int) (bool, error) {
	var count int64
	if err := tx.Model(&LegacyPart{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (legacySource) applyStockDelta(tx *gorm.DB, id int, delta decimal.Decimal, enforceFloor bool) error {
	query := tx.Model(&LegacyPart{}).Where("id = ?", id)
	if enforceFloor && delta.IsNegative() {
		query = query.Where("units >= ?", delta.Neg())
	}
	result := query.Update("units", gorm.Expr("units + ?", delta))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInsufficientStock
	}
	return nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}
