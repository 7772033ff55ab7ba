// Package quantity converts between a good's display unit and canonical
// kilograms.
//
// A good is either sold by weight, in which case the customer enters
// kilograms directly, or by unit, in which case the customer enters a piece
// count and every piece weighs the good's (optionally size specific) average
// weight. The distinction is resolved once into a Measure so callers never
// branch on pricing mode themselves.
package quantity

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/fresh-pickup/internal/domain/catalog"
)

// WeightPlaces is the number of decimal places weights are stored with.
const WeightPlaces = 3

var (
	// ErrNotPositive is returned for zero or negative quantities.
	ErrNotPositive = errors.New("quantity must be greater than 0")
	// ErrFractionalUnits is returned when a by-unit quantity is not a whole number.
	ErrFractionalUnits = errors.New("unit quantity must be a whole number")
	// ErrBelowMinimumWeight is returned when a by-weight quantity is below the
	// minimum orderable weight.
	ErrBelowMinimumWeight = errors.New("weight below minimum increment")
	// ErrTooPrecise is returned when a by-weight quantity is finer than a gram.
	ErrTooPrecise = errors.New("weight has more than 3 decimal places")
	// ErrExceedsAvailable is returned when a quantity is above the orderable
	// ceiling derived from current stock.
	ErrExceedsAvailable = errors.New("quantity exceeds available stock")
	// ErrNoAverageWeight is returned when a by-unit good has no usable
	// average weight for the requested size.
	ErrNoAverageWeight = errors.New("average weight not configured")
	// ErrUnknownPricingMode is returned for goods with an unrecognised mode.
	ErrUnknownPricingMode = errors.New("unknown pricing mode")
)

// DefaultMinWeightKg is the smallest weight accepted for by-weight goods.
var DefaultMinWeightKg = decimal.RequireFromString("0.5")

// Measure is a good's display unit, resolved for a specific size.
type Measure interface {
	// Mode reports the pricing mode this measure was resolved for.
	Mode() catalog.PricingMode
	// Validate checks the requested quantity is well formed. It does not
	// look at stock.
	Validate(q decimal.Decimal) error
	// WeightKg returns the canonical weight debit for q.
	WeightKg(q decimal.Decimal) decimal.Decimal
	// MaxOrderable returns the largest quantity, in display units, that the
	// given stock can cover.
	MaxOrderable(availableKg decimal.Decimal) decimal.Decimal
}

// Model resolves measures for goods.
type Model struct {
	minWeightKg decimal.Decimal
}

// NewModel returns a Model enforcing the given minimum weight for by-weight
// goods. A non-positive minimum selects DefaultMinWeightKg.
func NewModel(minWeightKg decimal.Decimal) Model {
	if !minWeightKg.IsPositive() {
		minWeightKg = DefaultMinWeightKg
	}
	return Model{minWeightKg: minWeightKg}
}

// MinWeightKg returns the configured minimum weight.
func (m Model) MinWeightKg() decimal.Decimal {
	return m.minWeightKg
}

// For resolves the measure of good g for the given size tag.
func (m Model) For(g catalog.Good, size string, sizes catalog.Sizes) (Measure, error) {
	switch g.PricingMode {
	case catalog.ByWeight:
		return byWeight{min: m.minWeightKg}, nil
	case catalog.ByUnit:
		avg, err := AverageWeightKg(g, size, sizes)
		if err != nil {
			return nil, err
		}
		return byUnit{avg: avg}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownPricingMode, "good %s: %q", g.ID, g.PricingMode)
	}
}

// Check validates q against m and against the ceiling derived from
// availableKg.
func Check(m Measure, q, availableKg decimal.Decimal) error {
	if err := m.Validate(q); err != nil {
		return err
	}
	if q.GreaterThan(m.MaxOrderable(availableKg)) {
		return ErrExceedsAvailable
	}
	return nil
}

// IsByWeight reports whether the customer orders g in kilograms.
func IsByWeight(g catalog.Good) bool {
	return g.PricingMode == catalog.ByWeight
}

// AverageWeightKg returns the expected weight of one piece of g. A size
// specific value wins over the good-level default.
func AverageWeightKg(g catalog.Good, size string, sizes catalog.Sizes) (decimal.Decimal, error) {
	avg := g.AverageWeightKg
	if w, ok := sizes.Lookup(g.ID, size); ok {
		avg = w
	}
	if !avg.IsPositive() {
		return decimal.Zero, errors.Wrapf(ErrNoAverageWeight, "good %s size %q", g.ID, size)
	}
	return avg, nil
}

// MaxOrderableUnits returns floor(availableKg / avgKg), or zero when either
// input is not positive.
func MaxOrderableUnits(availableKg, avgKg decimal.Decimal) int64 {
	if !availableKg.IsPositive() || !avgKg.IsPositive() {
		return 0
	}
	q, _ := availableKg.QuoRem(avgKg, 0)
	return q.IntPart()
}

// WeightDebit returns the kilograms to debit from stock for q of good g.
func WeightDebit(g catalog.Good, q decimal.Decimal, size string, sizes catalog.Sizes) (decimal.Decimal, error) {
	if IsByWeight(g) {
		return q, nil
	}
	avg, err := AverageWeightKg(g, size, sizes)
	if err != nil {
		return decimal.Zero, err
	}
	return q.Mul(avg), nil
}

type byWeight struct {
	min decimal.Decimal
}

func (byWeight) Mode() catalog.PricingMode { return catalog.ByWeight }

func (w byWeight) Validate(q decimal.Decimal) error {
	if !q.IsPositive() {
		return ErrNotPositive
	}
	if q.LessThan(w.min) {
		return ErrBelowMinimumWeight
	}
	if !q.Equal(q.Truncate(WeightPlaces)) {
		return ErrTooPrecise
	}
	return nil
}

func (byWeight) WeightKg(q decimal.Decimal) decimal.Decimal { return q }

func (byWeight) MaxOrderable(availableKg decimal.Decimal) decimal.Decimal {
	if availableKg.IsNegative() {
		return decimal.Zero
	}
	return availableKg
}

type byUnit struct {
	avg decimal.Decimal
}

func (byUnit) Mode() catalog.PricingMode { return catalog.ByUnit }

func (byUnit) Validate(q decimal.Decimal) error {
	if !q.IsPositive() {
		return ErrNotPositive
	}
	if !q.Equal(q.Truncate(0)) {
		return ErrFractionalUnits
	}
	return nil
}

func (u byUnit) WeightKg(q decimal.Decimal) decimal.Decimal { return q.Mul(u.avg) }

func (u byUnit) MaxOrderable(availableKg decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(MaxOrderableUnits(availableKg, u.avg))
}
