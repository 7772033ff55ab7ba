// Package stock implements the Stock Ledger: batched debits of canonical
// weight against per-good availability.
package stock

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrInsufficientStock is returned under PolicyStrict when a debit exceeds
// the good's available weight.
var ErrInsufficientStock = errors.New("insufficient stock")

// Policy decides what happens when a debit exceeds available stock.
type Policy string

const (
	// PolicyFloor floors the stored value at zero and lets the order proceed,
	// reporting a Shortfall.
	PolicyFloor Policy = "floor"
	// PolicyStrict rejects the order with ErrInsufficientStock.
	PolicyStrict Policy = "strict"
)

// ParsePolicy maps a configuration value onto a Policy. An empty value
// selects PolicyFloor.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyFloor:
		return PolicyFloor, nil
	case PolicyStrict:
		return PolicyStrict, nil
	default:
		return "", errors.Errorf("unknown stock policy %q", s)
	}
}

// Debit is a request to take WeightKg from a good.
type Debit struct {
	GoodID   string
	WeightKg decimal.Decimal
}

// Shortfall records a debit that could not be covered by available stock.
type Shortfall struct {
	GoodID      string
	RequestedKg decimal.Decimal
	AvailableKg decimal.Decimal
	MissingKg   decimal.Decimal
}

// Batch merges debits for the same good, keeping the order in which goods
// first appear. Lines that share a good (two cuts of the same fish) are
// checked against stock once with their combined weight.
func Batch(debits []Debit) []Debit {
	idx := make(map[string]int, len(debits))
	out := make([]Debit, 0, len(debits))
	for _, d := range debits {
		if i, ok := idx[d.GoodID]; ok {
			out[i].WeightKg = out[i].WeightKg.Add(d.WeightKg)
			continue
		}
		idx[d.GoodID] = len(out)
		out = append(out, d)
	}
	return out
}

// Apply debits requested from available and returns the value to store.
// The result is never negative. Under PolicyFloor an uncovered debit yields
// zero remaining stock and a non-nil Shortfall; under PolicyStrict it yields
// ErrInsufficientStock and available is left as is.
func Apply(goodID string, available, requested decimal.Decimal, policy Policy) (decimal.Decimal, *Shortfall, error) {
	if available.IsNegative() {
		available = decimal.Zero
	}
	remaining := available.Sub(requested)
	if !remaining.IsNegative() {
		return remaining, nil, nil
	}
	if policy == PolicyStrict {
		return available, nil, errors.Wrapf(ErrInsufficientStock,
			"good %s: requested %s kg, available %s kg", goodID, requested, available)
	}
	return decimal.Zero, &Shortfall{
		GoodID:      goodID,
		RequestedKg: requested,
		AvailableKg: available,
		MissingKg:   remaining.Neg(),
	}, nil
}

// Plan runs Apply over a batch against a snapshot of availability keyed by
// good id. It returns the new per-good values and every shortfall, or the
// first strict-policy error.
func Plan(batch []Debit, available map[string]decimal.Decimal, policy Policy) (map[string]decimal.Decimal, []Shortfall, error) {
	next := make(map[string]decimal.Decimal, len(batch))
	var shortfalls []Shortfall
	for _, d := range batch {
		remaining, sf, err := Apply(d.GoodID, available[d.GoodID], d.WeightKg, policy)
		if err != nil {
			return nil, nil, err
		}
		next[d.GoodID] = remaining
		if sf != nil {
			shortfalls = append(shortfalls, *sf)
		}
	}
	return next, shortfalls, nil
}
