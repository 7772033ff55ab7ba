// Command coupon-ingest imports campaign coupon codes from gzip files.
//
// Each line holds a code, optionally followed by its own discount:
//
//	SPRING24
//	FRESHFIVE,fixed,5
//	TUNA-WEEK,percentage,15
//
// Codes repeated within or across files are imported once; the first
// occurrence wins.
package main

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/fresh-pickup/internal/cli"
	"github.com/xenking/fresh-pickup/internal/domain/coupon"
	"github.com/xenking/fresh-pickup/internal/domain/slot"
	"github.com/xenking/fresh-pickup/internal/storage/postgres"
)

const progressEvery = 1000

type options struct {
	databaseURL  string
	discountType string
	value        string
	minOrder     string
	maxUses      int
	validUntil   string
	expected     uint
	fpr          float64
	writers      int
	dryRun       bool
	verbose      bool
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:   "coupon-ingest FILE.gz...",
		Short: "Import campaign coupon codes from gzip files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args)
		},
	}
	cli.DatabaseFlag(cmd, &opts.databaseURL)
	f := cmd.Flags()
	f.StringVar(&opts.discountType, "type", string(coupon.DiscountPercentage), "default discount type: percentage or fixed")
	f.StringVar(&opts.value, "value", "10", "default discount value")
	f.StringVar(&opts.minOrder, "min-order", "0", "minimum order subtotal for every imported coupon")
	f.IntVar(&opts.maxUses, "max-uses", 1, "uses per coupon, 0 for unlimited")
	f.StringVar(&opts.validUntil, "valid-until", "", "last valid day (YYYY-MM-DD), empty for no expiry")
	f.UintVar(&opts.expected, "expected", 1_000_000, "expected number of codes, sizes the bloom filter")
	f.Float64Var(&opts.fpr, "fpr", 0.001, "bloom filter false positive rate")
	f.IntVar(&opts.writers, "writers", 4, "concurrent database writers")
	f.BoolVar(&opts.dryRun, "dry-run", false, "scan and report without writing")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log duplicates")

	cli.Execute(cmd)
}

// template builds the coupon fields shared by every imported code.
func (o options) template() (rule, coupon.Coupon, error) {
	def := rule{Type: coupon.DiscountType(o.discountType)}
	if !def.Type.Valid() {
		return rule{}, coupon.Coupon{}, errors.Errorf("unknown discount type %q", o.discountType)
	}
	v, err := decimal.NewFromString(o.value)
	if err != nil || !v.IsPositive() {
		return rule{}, coupon.Coupon{}, errors.Errorf("invalid discount value %q", o.value)
	}
	def.Value = v

	minOrder, err := decimal.NewFromString(o.minOrder)
	if err != nil || minOrder.IsNegative() {
		return rule{}, coupon.Coupon{}, errors.Errorf("invalid minimum order %q", o.minOrder)
	}
	if o.maxUses < 0 {
		return rule{}, coupon.Coupon{}, errors.New("max uses must not be negative")
	}

	tmpl := coupon.Coupon{MinOrderAmount: minOrder, Active: true}
	if o.maxUses > 0 {
		n := o.maxUses
		tmpl.MaxUses = &n
	}
	if o.validUntil != "" {
		day, err := slot.ParseDate(o.validUntil)
		if err != nil {
			return rule{}, coupon.Coupon{}, err
		}
		end := day.Add(24*time.Hour - time.Nanosecond)
		tmpl.ValidUntil = &end
	}
	return def, tmpl, nil
}

func run(ctx context.Context, opts options, files []string) error {
	lg, err := cli.Logger(opts.verbose)
	if err != nil {
		return errors.Wrap(err, "create logger")
	}
	defer func() { _ = lg.Sync() }()

	def, tmpl, err := opts.template()
	if err != nil {
		return err
	}

	start := time.Now()
	entries, st, err := collect(ctx, lg, files, def, opts.expected, opts.fpr)
	if err != nil {
		return errors.Wrap(err, "scan files")
	}
	lg.Info("Scan complete",
		zap.Int("files", len(files)),
		zap.Int("lines", st.Lines),
		zap.Int("unique", len(entries)),
		zap.Int("duplicates", st.Duplicates),
		zap.Int("malformed", st.Malformed),
		zap.Duration("took", time.Since(start)),
	)
	if opts.dryRun || len(entries) == 0 {
		return nil
	}

	databaseURL, err := cli.DatabaseURL(opts.databaseURL)
	if err != nil {
		return err
	}
	pool, err := cli.Connect(ctx, lg, databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	return write(ctx, lg, postgres.NewCouponRepository(pool), entries, tmpl, opts.writers)
}

// upserter is the part of the coupon repository the import needs.
type upserter interface {
	Upsert(ctx context.Context, c coupon.Coupon) (int64, error)
}

func write(ctx context.Context, lg *zap.Logger, repo upserter, entries []entry, tmpl coupon.Coupon, writers int) error {
	lg.Info("Writing coupons", zap.Int("count", len(entries)), zap.Int("writers", writers))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(writers, 1))
	for i, e := range entries {
		c := tmpl
		c.Code = e.Code
		c.DiscountType = e.Rule.Type
		c.Value = e.Rule.Value

		g.Go(func() error {
			if _, err := repo.Upsert(ctx, c); err != nil {
				return errors.Wrapf(err, "upsert coupon %s", c.Code)
			}
			return nil
		})
		if (i+1)%progressEvery == 0 {
			lg.Info("Write progress", zap.Int("queued", i+1), zap.Int("total", len(entries)))
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	lg.Info("Coupons written", zap.Int("count", len(entries)))
	return nil
}
