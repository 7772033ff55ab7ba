package slot

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Resolver maps a requested date and time range onto a bucket.
type Resolver struct {
	repo Repository
}

// NewResolver creates a Resolver backed by the given Repository.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve finds the active slot covering date's weekday whose range matches
// timeRange. It returns a nil bucket for immediate pickups and
// ErrSlotUnavailable when no active slot matches.
func (r *Resolver) Resolve(ctx context.Context, date time.Time, timeRange string) (*Bucket, error) {
	timeRange = NormalizeRange(timeRange)
	if timeRange == Immediate {
		return nil, nil
	}

	day := Day(date)
	slots, err := r.repo.ListByWeekday(ctx, day.Weekday())
	if err != nil {
		return nil, errors.Wrap(err, "list slots")
	}

	for _, s := range slots {
		if s.Range() != timeRange || !s.Active || s.MaxOrders <= 0 {
			continue
		}
		return &Bucket{
			SlotID:    s.ID,
			Date:      day,
			Range:     s.Range(),
			MaxOrders: s.MaxOrders,
		}, nil
	}
	return nil, ErrSlotUnavailable
}

// Precheck counts the bucket's current bookings and rejects with ErrSlotFull
// when it is already at capacity. It is an early, non-binding check: the
// authoritative recount happens inside the commit.
func (r *Resolver) Precheck(ctx context.Context, b *Bucket) error {
	if b == nil {
		return nil
	}
	booked, err := r.repo.CountBooked(ctx, b.Date, b.Range)
	if err != nil {
		return errors.Wrap(err, "count booked orders")
	}
	return Admit(booked, *b)
}

// Availability lists the active slots for date with their occupancy, in the
// order returned by the repository.
func (r *Resolver) Availability(ctx context.Context, date time.Time) ([]Opening, error) {
	day := Day(date)
	slots, err := r.repo.ListByWeekday(ctx, day.Weekday())
	if err != nil {
		return nil, errors.Wrap(err, "list slots")
	}
	booked, err := r.repo.CountBookedByRange(ctx, day)
	if err != nil {
		return nil, errors.Wrap(err, "count booked orders")
	}

	openings := make([]Opening, 0, len(slots))
	for _, s := range slots {
		if !s.Active {
			continue
		}
		n := booked[s.Range()]
		openings = append(openings, Opening{
			Slot:      s,
			Booked:    n,
			Remaining: max(s.MaxOrders-n, 0),
		})
	}
	return openings, nil
}
