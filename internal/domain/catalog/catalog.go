// Package catalog holds the store-configuration entities the ordering core
// reads: goods, cuts and size variants.
package catalog

import (
	"context"
	"maps"
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrGoodNotFound is returned when a requested good does not exist.
	ErrGoodNotFound = errors.New("good not found")
	// ErrCutNotEnabled is returned when a cut is unknown, inactive, or not
	// enabled for the good it was requested with.
	ErrCutNotEnabled = errors.New("cut not enabled for good")
)

// PricingMode tells how a good is sold to the customer.
type PricingMode string

const (
	// ByWeight goods are ordered in kilograms.
	ByWeight PricingMode = "by_weight"
	// ByUnit goods are ordered as a whole number of pieces.
	ByUnit PricingMode = "by_unit"
)

// Valid reports whether m is a known pricing mode.
func (m PricingMode) Valid() bool {
	return m == ByWeight || m == ByUnit
}

// Good is a sellable fish or product. Stock is always kept in kilograms,
// including for goods sold by unit.
type Good struct {
	ID          string
	Name        string
	PricingMode PricingMode
	PricePerKg  decimal.Decimal
	AvailableKg decimal.Decimal
	// AverageWeightKg is the expected weight of one piece when no size
	// specific value exists. Only meaningful for ByUnit goods.
	AverageWeightKg decimal.Decimal
	Active          bool
}

// Cut is a preparation option (whole, fillet, steaks...) whose price
// addition is added to the good's per-kg price.
type Cut struct {
	ID            string
	Name          string
	PriceAddition decimal.Decimal
	Active        bool
}

// SizeVariant maps a good and a size tag to the average weight of one piece.
type SizeVariant struct {
	GoodID          string
	Size            string
	AverageWeightKg decimal.Decimal
}

// Repository defines read operations over the catalog.
type Repository interface {
	ListGoods(ctx context.Context) ([]Good, error)
	GoodsByIDs(ctx context.Context, ids []string) ([]Good, error)
	// EnabledCut returns the cut when it is active and enabled for the good.
	// It returns ErrCutNotEnabled otherwise.
	EnabledCut(ctx context.Context, goodID, cutID string) (*Cut, error)
	CutsForGood(ctx context.Context, goodID string) ([]Cut, error)
	SizeVariants(ctx context.Context, goodIDs []string) ([]SizeVariant, error)
}

// Sizes indexes size variants by good and size tag.
type Sizes map[string]map[string]decimal.Decimal

// IndexSizes builds a Sizes lookup from a flat variant list.
func IndexSizes(variants []SizeVariant) Sizes {
	idx := make(Sizes, len(variants))
	for _, v := range variants {
		bySize, ok := idx[v.GoodID]
		if !ok {
			bySize = make(map[string]decimal.Decimal)
			idx[v.GoodID] = bySize
		}
		bySize[v.Size] = v.AverageWeightKg
	}
	return idx
}

// Lookup returns the average weight for a good's size tag, if one is defined.
func (s Sizes) Lookup(goodID, size string) (decimal.Decimal, bool) {
	if size == "" {
		return decimal.Zero, false
	}
	w, ok := s[goodID][size]
	return w, ok
}

// Tags returns the size tags defined for a good in lexical order.
func (s Sizes) Tags(goodID string) []string {
	return slices.Sorted(maps.Keys(s[goodID]))
}
