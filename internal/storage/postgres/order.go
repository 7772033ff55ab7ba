package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/fresh-pickup/internal/domain/coupon"
	"github.com/xenking/fresh-pickup/internal/domain/order"
	"github.com/xenking/fresh-pickup/internal/domain/slot"
	"github.com/xenking/fresh-pickup/internal/domain/stock"
)

const (
	// lockBucketSQL serialises commits targeting the same bucket until the
	// transaction ends.
	lockBucketSQL = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

	getSlotForCommitSQL = `SELECT max_orders, active FROM availability_slots WHERE id = $1`

	lockGoodsSQL = `SELECT id, available_kg FROM goods WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	setAvailableSQL = `UPDATE goods SET available_kg = $2 WHERE id = $1`

	insertOrderSQL = `INSERT INTO orders (id, customer_name, customer_phone, customer_email, notes,
		delivery_date, delivery_time, subtotal, discount_amount, total_price,
		coupon_id, coupon_code, status, stock_shortfall, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	getOrderSQL = `SELECT id::text, customer_name, customer_phone, customer_email, notes,
		delivery_date, delivery_time, subtotal, discount_amount, total_price,
		coupon_id, coupon_code, status, stock_shortfall, created_at
	FROM orders WHERE id = $1`

	getOrderLinesSQL = `SELECT good_id, good_name, cut_id, cut_name, quantity, size,
		weight_kg, unit_price, line_total, actual_weight_kg
	FROM order_lines WHERE order_id = $1 ORDER BY position`

	updateOrderStatusSQL = `UPDATE orders SET status = $3 WHERE id = $1 AND status = $2`
	orderExistsSQL       = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)

var orderLineColumns = []string{
	"order_id", "position", "good_id", "good_name", "cut_id", "cut_name",
	"quantity", "size", "weight_kg", "unit_price", "line_total",
}

var _ order.Store = (*OrderRepository)(nil)

// OrderRepository implements order.Store backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Commit writes the order and advances every counter in one transaction.
//
// Lock order is fixed: bucket advisory lock, goods rows by id, coupon row.
// Commits therefore cannot deadlock against each other.
func (r *OrderRepository) Commit(ctx context.Context, o *order.Order, plan order.CommitPlan) (*order.CommitReceipt, error) {
	var receipt order.CommitReceipt
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if plan.Bucket != nil {
			if err := admit(ctx, tx, *plan.Bucket); err != nil {
				return err
			}
		}

		shortfalls, err := debit(ctx, tx, plan.Debits, plan.Policy)
		if err != nil {
			return err
		}
		receipt.Shortfalls = shortfalls

		if plan.CouponID != nil {
			tag, err := tx.Exec(ctx, incrementCouponUsesSQL, *plan.CouponID)
			if err != nil {
				return fmt.Errorf("incrementing coupon %d: %w", *plan.CouponID, err)
			}
			if tag.RowsAffected() == 0 {
				return errors.Wrapf(coupon.ErrUsesExhausted, "coupon %d", *plan.CouponID)
			}
		}

		o.StockShortfall = len(shortfalls) > 0
		return insertOrder(ctx, tx, o)
	})
	if err != nil {
		o.StockShortfall = false
		return nil, err
	}
	return &receipt, nil
}

// admit takes the bucket lock and recounts bookings under it. The slot row
// is re-read so that a capacity change made after resolution is honoured.
func admit(ctx context.Context, tx pgx.Tx, b slot.Bucket) error {
	if _, err := tx.Exec(ctx, lockBucketSQL, b.Key()); err != nil {
		return fmt.Errorf("locking bucket %s: %w", b.Key(), err)
	}

	var active bool
	err := tx.QueryRow(ctx, getSlotForCommitSQL, b.SlotID).Scan(&b.MaxOrders, &active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return slot.ErrSlotUnavailable
		}
		return fmt.Errorf("reading slot %d: %w", b.SlotID, err)
	}
	if !active || b.MaxOrders <= 0 {
		return slot.ErrSlotUnavailable
	}

	booked, err := countBooked(ctx, tx, b.Date, b.Range)
	if err != nil {
		return err
	}
	return slot.Admit(booked, b)
}

func debit(ctx context.Context, tx pgx.Tx, debits []stock.Debit, policy stock.Policy) ([]stock.Shortfall, error) {
	if len(debits) == 0 {
		return nil, nil
	}
	ids := make([]string, len(debits))
	for i, d := range debits {
		ids[i] = d.GoodID
	}

	rows, err := tx.Query(ctx, lockGoodsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("locking goods: %w", err)
	}
	available := make(map[string]decimal.Decimal, len(ids))
	var (
		id string
		kg decimal.Decimal
	)
	if _, err := pgx.ForEachRow(rows, []any{&id, &kg}, func() error {
		available[id] = kg
		return nil
	}); err != nil {
		return nil, fmt.Errorf("locking goods: %w", err)
	}

	next, shortfalls, err := stock.Plan(debits, available, policy)
	if err != nil {
		return nil, err
	}
	for _, d := range debits {
		if _, err := tx.Exec(ctx, setAvailableSQL, d.GoodID, next[d.GoodID]); err != nil {
			return nil, fmt.Errorf("debiting good %q: %w", d.GoodID, err)
		}
	}
	return shortfalls, nil
}

func insertOrder(ctx context.Context, tx pgx.Tx, o *order.Order) error {
	id, err := uuid.Parse(o.ID)
	if err != nil {
		return fmt.Errorf("order id %q: %w", o.ID, err)
	}
	_, err = tx.Exec(ctx, insertOrderSQL,
		id, o.Customer.Name, o.Customer.Phone, o.Customer.Email, o.Customer.Notes,
		o.DeliveryDate, o.DeliveryTime, o.Subtotal, o.DiscountAmount, o.TotalPrice,
		o.CouponID, o.CouponCode, string(o.Status), o.StockShortfall, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting order %q: %w", o.ID, err)
	}

	lines := make([][]any, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = []any{
			id, i, l.GoodID, l.GoodName, l.CutID, l.CutName,
			l.Quantity, l.Size, l.WeightKg, l.UnitPrice, l.LineTotal,
		}
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"order_lines"}, orderLineColumns, pgx.CopyFromRows(lines)); err != nil {
		return fmt.Errorf("inserting lines of order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns an order with its lines.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	key, err := uuid.Parse(id)
	if err != nil {
		return nil, order.ErrNotFound
	}
	rows, err := r.pool.Query(ctx, getOrderSQL, key)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	rows, err = r.pool.Query(ctx, getOrderLinesSQL, key)
	if err != nil {
		return nil, fmt.Errorf("getting lines of order %q: %w", id, err)
	}
	o.Lines, err = pgx.CollectRows(rows, scanLine)
	if err != nil {
		return nil, fmt.Errorf("getting lines of order %q: %w", id, err)
	}
	return o, nil
}

// UpdateStatus moves an order from one fulfilment status to another. It
// returns order.ErrStatusChanged when the order is no longer in from.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status) error {
	key, err := uuid.Parse(id)
	if err != nil {
		return order.ErrNotFound
	}
	tag, err := r.pool.Exec(ctx, updateOrderStatusSQL, key, string(from), string(to))
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, key).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrStatusChanged
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	var (
		o      order.Order
		status string
		date   time.Time
	)
	err := row.Scan(
		&o.ID, &o.Customer.Name, &o.Customer.Phone, &o.Customer.Email, &o.Customer.Notes,
		&date, &o.DeliveryTime, &o.Subtotal, &o.DiscountAmount, &o.TotalPrice,
		&o.CouponID, &o.CouponCode, &status, &o.StockShortfall, &o.CreatedAt,
	)
	o.Status = order.Status(status)
	o.DeliveryDate = slot.Day(date)
	return &o, err
}

func scanLine(row pgx.CollectableRow) (order.Line, error) {
	var l order.Line
	err := row.Scan(
		&l.GoodID, &l.GoodName, &l.CutID, &l.CutName, &l.Quantity, &l.Size,
		&l.WeightKg, &l.UnitPrice, &l.LineTotal, &l.ActualWeightKg,
	)
	return l, err
}
