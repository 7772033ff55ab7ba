package order

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/fresh-pickup/internal/domain/coupon"
	"github.com/xenking/fresh-pickup/internal/domain/slot"
	"github.com/xenking/fresh-pickup/internal/domain/stock"
)

// Reason classifies why a proposal was not committed.
type Reason string

const (
	ReasonInvalidRequest        Reason = "InvalidRequest"
	ReasonInvalidLine           Reason = "InvalidLine"
	ReasonCouponInvalidCode     Reason = "CouponInvalidCode"
	ReasonCouponInactive        Reason = "CouponInactive"
	ReasonCouponExpired         Reason = "CouponExpired"
	ReasonCouponBelowMinimum    Reason = "CouponBelowMinimum"
	ReasonCouponUsesExhausted   Reason = "CouponUsesExhausted"
	ReasonSlotFull              Reason = "SlotFull"
	ReasonSlotInactiveOrUnknown Reason = "SlotInactiveOrUnknown"
	ReasonInsufficientStock     Reason = "InsufficientStock"
	ReasonCommitFailed          Reason = "CommitFailed"
)

// Coupon reports whether the rejection concerns the coupon only, in which
// case the customer may retry without it.
func (r Reason) Coupon() bool {
	switch r {
	case ReasonCouponInvalidCode, ReasonCouponInactive, ReasonCouponExpired,
		ReasonCouponBelowMinimum, ReasonCouponUsesExhausted:
		return true
	}
	return false
}

// Sentinel errors for proposal validation.
var (
	ErrEmptyLines      = errors.New("at least one line is required")
	ErrMissingCustomer = errors.New("customer name and phone are required")
	ErrPastDate        = errors.New("delivery date is in the past")
)

// RejectedError is returned by PlaceOrder for every outcome other than a
// committed order, except unexpected read failures.
type RejectedError struct {
	Reason Reason
	Err    error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("order rejected (%s): %v", e.Reason, e.Err)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the rejection is a persistence failure rather than
// a problem with the proposal.
func (e *RejectedError) Fatal() bool {
	return e.Reason == ReasonCommitFailed
}

// ReasonOf extracts the rejection reason from err.
func ReasonOf(err error) (Reason, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}

// LineError points at the offending proposal line.
type LineError struct {
	Index  int
	GoodID string
	Err    error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d (good %s): %v", e.Index, e.GoodID, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

func reject(r Reason, err error) error {
	return &RejectedError{Reason: r, Err: err}
}

// couponReason maps validator errors onto reasons. ok is false for errors
// that are not rejections.
func couponReason(err error) (Reason, bool) {
	switch {
	case errors.Is(err, coupon.ErrInvalidCode):
		return ReasonCouponInvalidCode, true
	case errors.Is(err, coupon.ErrInactive):
		return ReasonCouponInactive, true
	case errors.Is(err, coupon.ErrExpired):
		return ReasonCouponExpired, true
	case errors.Is(err, coupon.ErrBelowMinimum):
		return ReasonCouponBelowMinimum, true
	case errors.Is(err, coupon.ErrUsesExhausted):
		return ReasonCouponUsesExhausted, true
	}
	return "", false
}

// commitReason maps Store.Commit errors onto reasons.
func commitReason(err error) Reason {
	switch {
	case errors.Is(err, slot.ErrSlotFull):
		return ReasonSlotFull
	case errors.Is(err, slot.ErrSlotUnavailable):
		return ReasonSlotInactiveOrUnknown
	case errors.Is(err, coupon.ErrUsesExhausted):
		return ReasonCouponUsesExhausted
	case errors.Is(err, stock.ErrInsufficientStock):
		return ReasonInsufficientStock
	}
	return ReasonCommitFailed
}
