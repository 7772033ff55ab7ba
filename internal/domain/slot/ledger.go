package slot

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/fresh-pickup/pkg/keylock"
)

// CountFunc returns the number of orders currently booked in a bucket.
type CountFunc func(ctx context.Context, b Bucket) (int, error)

// Ledger is the in-process Slot Capacity Ledger. Callers targeting the same
// bucket are serialised; the booked count is taken after the lock is held,
// so two callers can never both observe the last free seat.
type Ledger struct {
	locks keylock.Map
}

// NewLedger returns an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// CheckAndReserve recounts the bucket under its lock and runs reserve only
// when a seat is free. reserve must make the booking visible to count before
// it returns. A nil bucket (immediate pickup) is always admitted.
func (l *Ledger) CheckAndReserve(ctx context.Context, b *Bucket, count CountFunc, reserve func() error) error {
	if b == nil {
		return reserve()
	}

	unlock := l.locks.Lock(b.Key())
	defer unlock()

	booked, err := count(ctx, *b)
	if err != nil {
		return errors.Wrap(err, "count booked orders")
	}
	if err := Admit(booked, *b); err != nil {
		return err
	}
	return reserve()
}
