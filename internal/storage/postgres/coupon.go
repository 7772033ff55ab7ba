package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/fresh-pickup/internal/domain/coupon"
)

const (
	couponColumns = `id, code, discount_type, discount_value, min_order_amount,
		max_uses, current_uses, valid_from, valid_until, active`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE UPPER(code) = UPPER($1)`

	// incrementCouponUsesSQL affects no row once the quota is reached.
	incrementCouponUsesSQL = `UPDATE coupons SET current_uses = current_uses + 1
	WHERE id = $1 AND (max_uses IS NULL OR current_uses < max_uses)`

	upsertCouponSQL = `INSERT INTO coupons (code, discount_type, discount_value, min_order_amount,
		max_uses, valid_from, valid_until, active)
	VALUES (UPPER($1), $2, $3, $4, $5, COALESCE($6, NOW()), $7, $8)
	ON CONFLICT ((UPPER(code))) DO UPDATE SET discount_type = EXCLUDED.discount_type,
		discount_value = EXCLUDED.discount_value, min_order_amount = EXCLUDED.min_order_amount,
		max_uses = EXCLUDED.max_uses, valid_until = EXCLUDED.valid_until, active = EXCLUDED.active
	RETURNING id`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive), active or
// not, so that the validator can tell inactive codes from unknown ones.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCode
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// Upsert inserts a coupon or updates the one with the same code. A zero
// ValidFrom defaults to now. It returns the coupon id.
func (r *CouponRepository) Upsert(ctx context.Context, c coupon.Coupon) (int64, error) {
	var validFrom any
	if !c.ValidFrom.IsZero() {
		validFrom = c.ValidFrom
	}
	var id int64
	err := r.pool.QueryRow(ctx, upsertCouponSQL,
		c.Code, string(c.DiscountType), c.Value, c.MinOrderAmount,
		c.MaxUses, validFrom, c.ValidUntil, c.Active,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return id, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
	)
	err := row.Scan(
		&c.ID, &c.Code, &discountType, &c.Value, &c.MinOrderAmount,
		&c.MaxUses, &c.CurrentUses, &c.ValidFrom, &c.ValidUntil, &c.Active,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	return c, err
}
