// Command storectl inspects and manages a running pickup store from the
// counter: slot occupancy for a day, orderable stock, and order status.
package main

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xenking/fresh-pickup/internal/cli"
	"github.com/xenking/fresh-pickup/internal/domain/catalog"
	"github.com/xenking/fresh-pickup/internal/domain/coupon"
	"github.com/xenking/fresh-pickup/internal/domain/order"
	"github.com/xenking/fresh-pickup/internal/domain/quantity"
	"github.com/xenking/fresh-pickup/internal/domain/slot"
	"github.com/xenking/fresh-pickup/internal/storage/postgres"
)

type options struct {
	databaseURL string
	minWeightKg string
	timezone    string
	verbose     bool
}

// orderStore is the order persistence storectl reads and updates.
type orderStore interface {
	order.Store
	UpdateStatus(ctx context.Context, id string, from, to order.Status) error
}

type stores struct {
	Catalog catalog.Repository
	Slots   slot.Repository
	Coupons coupon.Repository
	Orders  orderStore
}

// backend is what every subcommand works against.
type backend struct {
	Service *order.Service
	Slots   *slot.Resolver
	Orders  orderStore
	Loc     *time.Location
	Now     func() time.Time
	Log     *zap.Logger
	Close   func()
}

// opener connects a backend for one command invocation.
type opener func(ctx context.Context, opts *options) (*backend, error)

func main() {
	cli.Execute(newRootCmd(openPostgres))
}

func newRootCmd(open opener) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "storectl",
		Short: "Inspect slots, stock and orders of the pickup store",
	}
	cli.DatabaseFlag(root, &opts.databaseURL)
	pf := root.PersistentFlags()
	pf.StringVar(&opts.minWeightKg, "min-weight-kg", "0.5", "minimum orderable weight for goods sold by weight")
	pf.StringVar(&opts.timezone, "timezone", "UTC", "store time zone")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		slotsCmd(opts, open),
		goodsCmd(opts, open),
		orderCmd(opts, open),
		statusCmd(opts, open),
		cancelCmd(opts, open),
	)
	return root
}

// withBackend opens a backend, runs fn and closes the backend.
func withBackend(cmd *cobra.Command, opts *options, open opener, fn func(b *backend) error) error {
	b, err := open(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(b)
}

func openPostgres(ctx context.Context, opts *options) (*backend, error) {
	lg, err := cli.Logger(opts.verbose)
	if err != nil {
		return nil, errors.Wrap(err, "create logger")
	}
	databaseURL, err := cli.DatabaseURL(opts.databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := cli.Connect(ctx, lg, databaseURL)
	if err != nil {
		return nil, err
	}

	b, err := newBackend(opts, lg, stores{
		Catalog: postgres.NewCatalogRepository(pool),
		Slots:   postgres.NewSlotRepository(pool),
		Coupons: postgres.NewCouponRepository(pool),
		Orders:  postgres.NewOrderRepository(pool),
	})
	if err != nil {
		pool.Close()
		return nil, err
	}
	b.Close = func() {
		pool.Close()
		_ = lg.Sync()
	}
	return b, nil
}

// newBackend builds the domain services over s.
func newBackend(opts *options, lg *zap.Logger, s stores) (*backend, error) {
	loc, err := time.LoadLocation(opts.timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "load timezone %q", opts.timezone)
	}
	minKg, err := decimal.NewFromString(opts.minWeightKg)
	if err != nil || !minKg.IsPositive() {
		return nil, errors.Errorf("invalid minimum weight %q", opts.minWeightKg)
	}

	resolver := slot.NewResolver(s.Slots)
	svc, err := order.NewService(order.Deps{
		Catalog:  s.Catalog,
		Quantity: quantity.NewModel(minKg),
		Coupons:  coupon.NewRepoValidator(s.Coupons),
		Slots:    resolver,
		Store:    s.Orders,
		Location: loc,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create order service")
	}
	return &backend{
		Service: svc,
		Slots:   resolver,
		Orders:  s.Orders,
		Loc:     loc,
		Now:     time.Now,
		Log:     lg,
		Close:   func() {},
	}, nil
}
