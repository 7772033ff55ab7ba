package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/fresh-pickup/internal/domain/catalog"
)

const (
	goodColumns = `id, name, pricing_mode, price_per_kg, available_kg, average_weight_kg, active`

	listGoodsSQL = `SELECT ` + goodColumns + ` FROM goods ORDER BY name, id`

	getGoodsByIDsSQL = `SELECT ` + goodColumns + ` FROM goods WHERE id = ANY($1)`

	getEnabledCutSQL = `SELECT c.id, c.name, c.price_addition, c.active
	FROM cuts c JOIN good_cuts gc ON gc.cut_id = c.id
	WHERE gc.good_id = $1 AND c.id = $2 AND c.active = TRUE`

	listCutsForGoodSQL = `SELECT c.id, c.name, c.price_addition, c.active
	FROM cuts c JOIN good_cuts gc ON gc.cut_id = c.id
	WHERE gc.good_id = $1 AND c.active = TRUE
	ORDER BY c.price_addition, c.name`

	listSizeVariantsSQL = `SELECT good_id, size, average_weight_kg
	FROM size_variants WHERE good_id = ANY($1) ORDER BY good_id, average_weight_kg`

	upsertGoodSQL = `INSERT INTO goods (` + goodColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, pricing_mode = EXCLUDED.pricing_mode,
		price_per_kg = EXCLUDED.price_per_kg, available_kg = EXCLUDED.available_kg,
		average_weight_kg = EXCLUDED.average_weight_kg, active = EXCLUDED.active`

	upsertCutSQL = `INSERT INTO cuts (id, name, price_addition, active) VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price_addition = EXCLUDED.price_addition,
		active = EXCLUDED.active`

	enableCutSQL = `INSERT INTO good_cuts (good_id, cut_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`

	upsertSizeVariantSQL = `INSERT INTO size_variants (good_id, size, average_weight_kg) VALUES ($1, $2, $3)
	ON CONFLICT (good_id, size) DO UPDATE SET average_weight_kg = EXCLUDED.average_weight_kg`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// ListGoods returns every good ordered by name.
func (r *CatalogRepository) ListGoods(ctx context.Context) ([]catalog.Good, error) {
	rows, err := r.pool.Query(ctx, listGoodsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing goods: %w", err)
	}
	return pgx.CollectRows(rows, scanGood)
}

// GoodsByIDs returns goods matching any of the given IDs.
func (r *CatalogRepository) GoodsByIDs(ctx context.Context, ids []string) ([]catalog.Good, error) {
	rows, err := r.pool.Query(ctx, getGoodsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting goods by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanGood)
}

// EnabledCut returns the cut when it is active and enabled for the good.
func (r *CatalogRepository) EnabledCut(ctx context.Context, goodID, cutID string) (*catalog.Cut, error) {
	rows, err := r.pool.Query(ctx, getEnabledCutSQL, goodID, cutID)
	if err != nil {
		return nil, fmt.Errorf("getting cut %q for good %q: %w", cutID, goodID, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCut)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrCutNotEnabled
		}
		return nil, fmt.Errorf("getting cut %q for good %q: %w", cutID, goodID, err)
	}
	return &c, nil
}

// CutsForGood returns the active cuts enabled for a good.
func (r *CatalogRepository) CutsForGood(ctx context.Context, goodID string) ([]catalog.Cut, error) {
	rows, err := r.pool.Query(ctx, listCutsForGoodSQL, goodID)
	if err != nil {
		return nil, fmt.Errorf("listing cuts for good %q: %w", goodID, err)
	}
	return pgx.CollectRows(rows, scanCut)
}

// SizeVariants returns the size variants of the given goods.
func (r *CatalogRepository) SizeVariants(ctx context.Context, goodIDs []string) ([]catalog.SizeVariant, error) {
	rows, err := r.pool.Query(ctx, listSizeVariantsSQL, goodIDs)
	if err != nil {
		return nil, fmt.Errorf("listing size variants: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.SizeVariant, error) {
		var v catalog.SizeVariant
		err := row.Scan(&v.GoodID, &v.Size, &v.AverageWeightKg)
		return v, err
	})
}

// UpsertGood inserts or replaces a good.
func (r *CatalogRepository) UpsertGood(ctx context.Context, g catalog.Good) error {
	_, err := r.pool.Exec(ctx, upsertGoodSQL,
		g.ID, g.Name, string(g.PricingMode), g.PricePerKg, g.AvailableKg, g.AverageWeightKg, g.Active,
	)
	if err != nil {
		return fmt.Errorf("upserting good %q: %w", g.ID, err)
	}
	return nil
}

// UpsertCut inserts or replaces a cut and enables it for the given goods.
func (r *CatalogRepository) UpsertCut(ctx context.Context, c catalog.Cut, goodIDs ...string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertCutSQL, c.ID, c.Name, c.PriceAddition, c.Active); err != nil {
			return fmt.Errorf("upserting cut %q: %w", c.ID, err)
		}
		for _, id := range goodIDs {
			if _, err := tx.Exec(ctx, enableCutSQL, id, c.ID); err != nil {
				return fmt.Errorf("enabling cut %q for good %q: %w", c.ID, id, err)
			}
		}
		return nil
	})
}

// UpsertSizeVariant inserts or replaces a size variant.
func (r *CatalogRepository) UpsertSizeVariant(ctx context.Context, v catalog.SizeVariant) error {
	if _, err := r.pool.Exec(ctx, upsertSizeVariantSQL, v.GoodID, v.Size, v.AverageWeightKg); err != nil {
		return fmt.Errorf("upserting size %q of good %q: %w", v.Size, v.GoodID, err)
	}
	return nil
}

func scanGood(row pgx.CollectableRow) (catalog.Good, error) {
	var (
		g    catalog.Good
		mode string
	)
	err := row.Scan(&g.ID, &g.Name, &mode, &g.PricePerKg, &g.AvailableKg, &g.AverageWeightKg, &g.Active)
	g.PricingMode = catalog.PricingMode(mode)
	return g, err
}

func scanCut(row pgx.CollectableRow) (catalog.Cut, error) {
	var c catalog.Cut
	err := row.Scan(&c.ID, &c.Name, &c.PriceAddition, &c.Active)
	return c, err
}
