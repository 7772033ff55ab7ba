package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes value percent off the subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount off, capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixed
}

// Rejections, listed in the order Check evaluates them after lookup.
var (
	// ErrInvalidCode is returned when no coupon matches the code.
	ErrInvalidCode = errors.New("invalid coupon code")
	// ErrInactive is returned for disabled coupons and for coupons whose
	// validity window has not opened yet.
	ErrInactive = errors.New("coupon inactive")
	// ErrExpired is returned when valid_until lies in the past.
	ErrExpired = errors.New("coupon expired")
	// ErrBelowMinimum is returned when the subtotal is below min_order_amount.
	ErrBelowMinimum = errors.New("order below coupon minimum")
	// ErrUsesExhausted is returned when current_uses has reached max_uses.
	ErrUsesExhausted = errors.New("coupon usage limit reached")
)

// Coupon is a discount code configured by the store.
type Coupon struct {
	ID             int64
	Code           string
	DiscountType   DiscountType
	Value          decimal.Decimal
	MinOrderAmount decimal.Decimal
	// MaxUses is nil for unlimited coupons.
	MaxUses     *int
	CurrentUses int
	ValidFrom   time.Time
	ValidUntil  *time.Time
	Active      bool
}

// Exhausted reports whether the coupon has no uses left.
func (c *Coupon) Exhausted() bool {
	return c.MaxUses != nil && c.CurrentUses >= *c.MaxUses
}

// Discount holds the outcome of a successful validation.
type Discount struct {
	CouponID int64
	Code     string
	Amount   decimal.Decimal
	Total    decimal.Decimal
}

// Repository provides coupon lookup.
type Repository interface {
	// FindByCode matches code case-insensitively and returns ErrInvalidCode
	// when nothing matches.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
}

// NormalizeCode canonicalises a customer-entered code for lookup and storage.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Check applies the eligibility rules to c for the given subtotal at now.
func Check(c *Coupon, subtotal decimal.Decimal, now time.Time) error {
	if !c.Active || now.Before(c.ValidFrom) {
		return ErrInactive
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return ErrExpired
	}
	if subtotal.LessThan(c.MinOrderAmount) {
		return ErrBelowMinimum
	}
	if c.Exhausted() {
		return ErrUsesExhausted
	}
	return nil
}

// Amount computes the discount c grants on subtotal. Percentage discounts
// are exact; fixed discounts never exceed the subtotal.
func Amount(c *Coupon, subtotal decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		d = subtotal.Mul(c.Value).Div(decimal.NewFromInt(100))
	case DiscountFixed:
		d = decimal.Min(c.Value, subtotal)
	}
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Total returns subtotal minus discount, floored at zero.
func Total(subtotal, discount decimal.Decimal) decimal.Decimal {
	return decimal.Max(decimal.Zero, subtotal.Sub(discount))
}
