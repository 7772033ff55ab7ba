package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/fresh-pickup/internal/domain/slot"
	"github.com/xenking/fresh-pickup/internal/domain/stock"
)

var (
	// ErrNotFound is returned when an order id is unknown.
	ErrNotFound = errors.New("order not found")
	// ErrStatusChanged is returned by a conditional status update when the
	// order is no longer in the expected status.
	ErrStatusChanged = errors.New("order status changed concurrently")
)

// Status is the fulfilment state of an order. Only StatusPending is set by
// the reservation pipeline; later transitions belong to the kitchen.
type Status string

const (
	StatusPending   Status = "pending"
	StatusWeighing  Status = "weighing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	// StatusCancelled orders do not count against slot capacity.
	StatusCancelled Status = "cancelled"
)

// Customer holds the contact details captured at checkout.
type Customer struct {
	Name  string
	Phone string
	Email string
	Notes string
}

// Line is a normalised order line.
type Line struct {
	GoodID   string
	GoodName string
	CutID    string
	CutName  string
	// Quantity is expressed in the good's display unit: kilograms for goods
	// sold by weight, pieces for goods sold by unit.
	Quantity decimal.Decimal
	Size     string
	// WeightKg is the canonical stock debit for this line.
	WeightKg decimal.Decimal
	// UnitPrice is the per-kg price including the cut's addition.
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
	// ActualWeightKg is recorded after weighing and is nil until then.
	ActualWeightKg *decimal.Decimal
}

// Order is a committed pickup order.
type Order struct {
	ID             string
	Customer       Customer
	DeliveryDate   time.Time
	DeliveryTime   string
	Lines          []Line
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	TotalPrice     decimal.Decimal
	CouponID       *int64
	CouponCode     string
	Status         Status
	// StockShortfall is set when at least one good could not fully cover
	// its debit and was floored at zero.
	StockShortfall bool
	CreatedAt      time.Time
}

// Immediate reports whether the order is a walk-in pickup.
func (o *Order) Immediate() bool {
	return o.DeliveryTime == slot.Immediate
}

// ProposedLine is a line as entered by the customer.
type ProposedLine struct {
	GoodID   string
	CutID    string
	Quantity decimal.Decimal
	Size     string
}

// Proposal is the pipeline input.
type Proposal struct {
	Customer     Customer
	DeliveryDate time.Time
	// DeliveryTime is a rendered slot range such as "09:00-10:00", or
	// slot.Immediate.
	DeliveryTime string
	Lines        []ProposedLine
	CouponCode   string
}

// CommitPlan carries everything a Store needs to commit an order atomically.
type CommitPlan struct {
	// Bucket is nil for immediate pickups.
	Bucket *slot.Bucket
	// Debits is already batched per good.
	Debits []stock.Debit
	Policy stock.Policy
	// CouponID is set when a coupon use must be consumed.
	CouponID *int64
}

// CommitReceipt reports side effects of a successful commit.
type CommitReceipt struct {
	Shortfalls []stock.Shortfall
}

// Store persists orders.
type Store interface {
	// Commit atomically re-checks slot capacity for plan.Bucket, applies the
	// stock debits under plan.Policy, inserts o and consumes one use of
	// plan.CouponID. Either all of it happens or none of it does. Commit sets
	// o.StockShortfall before the order is written.
	//
	// Errors wrapping slot.ErrSlotFull, slot.ErrSlotUnavailable,
	// coupon.ErrUsesExhausted or stock.ErrInsufficientStock are rejections;
	// anything else is a persistence failure.
	Commit(ctx context.Context, o *Order, plan CommitPlan) (*CommitReceipt, error)
	// Get returns the order with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*Order, error)
}

// Notifier receives committed orders. Notify must not block on delivery.
type Notifier interface {
	Notify(ctx context.Context, o *Order)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, *Order) {}
