package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/fresh-pickup/internal/domain/slot"
)

const (
	listSlotsByWeekdaySQL = `SELECT id, day_of_week, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
		max_orders, active
	FROM availability_slots WHERE day_of_week = $1 ORDER BY start_time`

	countBookedSQL = `SELECT COUNT(*) FROM orders
	WHERE delivery_date = $1 AND delivery_time = $2 AND status <> 'cancelled'`

	countBookedByRangeSQL = `SELECT delivery_time, COUNT(*) FROM orders
	WHERE delivery_date = $1 AND delivery_time <> $2 AND status <> 'cancelled'
	GROUP BY delivery_time`

	upsertSlotSQL = `INSERT INTO availability_slots (day_of_week, start_time, end_time, max_orders, active)
	VALUES ($1, $2::time, $3::time, $4, $5)
	ON CONFLICT (day_of_week, start_time, end_time)
	DO UPDATE SET max_orders = EXCLUDED.max_orders, active = EXCLUDED.active
	RETURNING id`
)

var _ slot.Repository = (*SlotRepository)(nil)

// SlotRepository implements slot.Repository backed by PostgreSQL.
type SlotRepository struct {
	pool *pgxpool.Pool
}

// NewSlotRepository returns a SlotRepository that uses the given pool.
func NewSlotRepository(pool *pgxpool.Pool) *SlotRepository {
	return &SlotRepository{pool: pool}
}

// ListByWeekday returns all slots of the weekly template for day.
func (r *SlotRepository) ListByWeekday(ctx context.Context, day time.Weekday) ([]slot.Slot, error) {
	rows, err := r.pool.Query(ctx, listSlotsByWeekdaySQL, int16(day))
	if err != nil {
		return nil, fmt.Errorf("listing slots for %s: %w", day, err)
	}
	return pgx.CollectRows(rows, scanSlot)
}

// CountBooked counts non-cancelled orders in a bucket.
func (r *SlotRepository) CountBooked(ctx context.Context, date time.Time, timeRange string) (int, error) {
	return countBooked(ctx, r.pool, date, timeRange)
}

// CountBookedByRange counts non-cancelled orders on date per time range.
func (r *SlotRepository) CountBookedByRange(ctx context.Context, date time.Time) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, countBookedByRangeSQL, slot.Day(date), slot.Immediate)
	if err != nil {
		return nil, fmt.Errorf("counting booked orders: %w", err)
	}
	out := make(map[string]int)
	var (
		timeRange string
		n         int
	)
	_, err = pgx.ForEachRow(rows, []any{&timeRange, &n}, func() error {
		out[timeRange] = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("counting booked orders: %w", err)
	}
	return out, nil
}

// Upsert inserts or updates a slot of the weekly template and returns its id.
func (r *SlotRepository) Upsert(ctx context.Context, s slot.Slot) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, upsertSlotSQL, int16(s.DayOfWeek), s.Start, s.End, s.MaxOrders, s.Active).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting slot %s %s: %w", s.DayOfWeek, s.Range(), err)
	}
	return id, nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func countBooked(ctx context.Context, q querier, date time.Time, timeRange string) (int, error) {
	var n int
	if err := q.QueryRow(ctx, countBookedSQL, slot.Day(date), timeRange).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting booked orders: %w", err)
	}
	return n, nil
}

func scanSlot(row pgx.CollectableRow) (slot.Slot, error) {
	var (
		s   slot.Slot
		dow int16
	)
	err := row.Scan(&s.ID, &dow, &s.Start, &s.End, &s.MaxOrders, &s.Active)
	s.DayOfWeek = time.Weekday(dow)
	return s, err
}
