// Package slot models recurring weekly pickup slots and admission control
// over the (date, time range) buckets they produce.
package slot

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Immediate is the delivery time sentinel for walk-in pickups. Immediate
// orders bypass slot lookup and never consume slot capacity.
const Immediate = "immediate"

// DateLayout is the wire and storage layout of delivery dates.
const DateLayout = "2006-01-02"

var (
	// ErrSlotFull is returned when a bucket already holds max_orders orders.
	ErrSlotFull = errors.New("pickup slot is full")
	// ErrSlotUnavailable is returned when no active slot matches the
	// requested date and time range.
	ErrSlotUnavailable = errors.New("pickup slot inactive or unknown")
)

// Slot is one entry of the weekly availability template.
type Slot struct {
	ID        int64
	DayOfWeek time.Weekday
	// Start and End are wall-clock times formatted as HH:MM.
	Start     string
	End       string
	MaxOrders int
	Active    bool
}

// Range renders the slot as stored on orders, e.g. "09:00-10:00".
func (s Slot) Range() string {
	return s.Start + "-" + s.End
}

// Bucket is a slot projected onto a calendar date. Capacity is enforced per
// bucket.
type Bucket struct {
	SlotID    int64
	Date      time.Time
	Range     string
	MaxOrders int
}

// Key identifies the bucket for locking.
func (b Bucket) Key() string {
	return "slot:" + b.Date.Format(DateLayout) + "|" + b.Range
}

// Opening reports the occupancy of one slot on a given date.
type Opening struct {
	Slot      Slot
	Booked    int
	Remaining int
}

// Repository provides read access to the weekly template and to booked
// order counts.
type Repository interface {
	// ListByWeekday returns every slot, active or not, defined for day.
	ListByWeekday(ctx context.Context, day time.Weekday) ([]Slot, error)
	// CountBooked returns the number of non-cancelled orders for the bucket.
	CountBooked(ctx context.Context, date time.Time, timeRange string) (int, error)
	// CountBookedByRange returns non-cancelled order counts for date keyed by
	// delivery time range.
	CountBookedByRange(ctx context.Context, date time.Time) (map[string]int, error)
}

// ParseDate parses a YYYY-MM-DD delivery date into midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse delivery date %q", s)
	}
	return t, nil
}

// Day truncates t to its calendar date in t's location and returns it as
// midnight UTC, the representation used for buckets.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NormalizeRange canonicalises a rendered time range: surrounding blanks are
// dropped and typographic dashes become "-".
func NormalizeRange(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, Immediate) {
		return Immediate
	}
	return strings.NewReplacer("–", "-", "—", "-", " ", "").Replace(s)
}

// Admit reports whether a bucket with booked orders can take one more.
func Admit(booked int, b Bucket) error {
	if booked >= b.MaxOrders {
		return ErrSlotFull
	}
	return nil
}
