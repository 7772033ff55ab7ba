// Command seed-db loads the demo catalog, pickup slots, coupons and a
// storefront API key into PostgreSQL. Every write is an upsert, so the
// command can be re-run safely.
package main

import (
	"context"
	"os"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xenking/fresh-pickup/internal/cli"
	"github.com/xenking/fresh-pickup/internal/domain/auth"
	"github.com/xenking/fresh-pickup/internal/storage/postgres"
)

type options struct {
	databaseURL string
	seedFile    string
	apiKey      string
	pepper      string
	verbose     bool
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:   "seed-db",
		Short: "Seed the pickup database with demo data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cli.DatabaseFlag(cmd, &opts.databaseURL)
	cmd.Flags().StringVar(&opts.seedFile, "seed-file", "db/seed/catalog.json", "path to the catalog seed file")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "storefront API key to seed (or PICKUP_SEED_API_KEY)")
	cmd.Flags().StringVar(&opts.pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or PICKUP_API_KEY_PEPPER)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every upserted row")

	cli.Execute(cmd)
}

func run(ctx context.Context, opts options) error {
	lg, err := cli.Logger(opts.verbose)
	if err != nil {
		return errors.Wrap(err, "create logger")
	}
	defer func() { _ = lg.Sync() }()

	databaseURL, err := cli.DatabaseURL(opts.databaseURL)
	if err != nil {
		return err
	}
	if opts.apiKey == "" {
		opts.apiKey = os.Getenv("PICKUP_SEED_API_KEY")
	}
	if opts.apiKey == "" {
		return errors.New("API key is required: set --api-key or PICKUP_SEED_API_KEY")
	}
	if opts.pepper == "" {
		opts.pepper = os.Getenv("PICKUP_API_KEY_PEPPER")
	}

	data, err := os.ReadFile(opts.seedFile)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	seed, err := decodeSeed(data)
	if err != nil {
		return err
	}

	pool, err := cli.Connect(ctx, lg, databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := seedCatalog(ctx, lg, pool, seed); err != nil {
		return errors.Wrap(err, "seed catalog")
	}
	if err := seedSlots(ctx, lg, pool, seed); err != nil {
		return errors.Wrap(err, "seed slots")
	}
	if err := seedCoupons(ctx, lg, pool, seed); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	if err := seedAPIKey(ctx, lg, pool, opts.apiKey, opts.pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	lg.Info("Seed completed",
		zap.Int("goods", len(seed.Goods)),
		zap.Int("cuts", len(seed.Cuts)),
		zap.Int("slots", len(seed.Slots)),
		zap.Int("coupons", len(seed.Coupons)),
	)
	return nil
}

func seedCatalog(ctx context.Context, lg *zap.Logger, pool *pgxpool.Pool, seed *seedFile) error {
	repo := postgres.NewCatalogRepository(pool)
	for _, g := range seed.Goods {
		if err := repo.UpsertGood(ctx, g); err != nil {
			return err
		}
		lg.Debug("Upserted good", zap.String("id", g.ID), zap.String("mode", string(g.PricingMode)))
	}
	for _, v := range seed.Sizes {
		if err := repo.UpsertSizeVariant(ctx, v); err != nil {
			return err
		}
		lg.Debug("Upserted size", zap.String("good", v.GoodID), zap.String("size", v.Size))
	}
	for _, c := range seed.Cuts {
		if err := repo.UpsertCut(ctx, c.Cut, c.Goods...); err != nil {
			return err
		}
		lg.Debug("Upserted cut", zap.String("id", c.Cut.ID), zap.Strings("goods", c.Goods))
	}
	return nil
}

func seedSlots(ctx context.Context, lg *zap.Logger, pool *pgxpool.Pool, seed *seedFile) error {
	repo := postgres.NewSlotRepository(pool)
	for _, s := range seed.Slots {
		id, err := repo.Upsert(ctx, s)
		if err != nil {
			return err
		}
		lg.Debug("Upserted slot", zap.Int64("id", id), zap.Stringer("day", s.DayOfWeek), zap.String("range", s.Range()))
	}
	return nil
}

func seedCoupons(ctx context.Context, lg *zap.Logger, pool *pgxpool.Pool, seed *seedFile) error {
	repo := postgres.NewCouponRepository(pool)
	for _, c := range seed.Coupons {
		id, err := repo.Upsert(ctx, c)
		if err != nil {
			return err
		}
		lg.Debug("Upserted coupon", zap.Int64("id", id), zap.String("code", c.Code))
	}
	return nil
}

func seedAPIKey(ctx context.Context, lg *zap.Logger, pool *pgxpool.Pool, key, pepper string) error {
	info := auth.APIKeyInfo{
		ID:      "storefront",
		KeyHash: auth.HashKey([]byte(pepper), key),
		Name:    "Storefront",
		Scopes:  []string{"create_order"},
	}
	if err := postgres.NewAPIKeyRepository(pool).Upsert(ctx, info); err != nil {
		return err
	}
	lg.Info("Upserted API key", zap.String("id", info.ID))
	return nil
}
