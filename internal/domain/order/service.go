package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/fresh-pickup/internal/domain/catalog"
	"github.com/xenking/fresh-pickup/internal/domain/coupon"
	"github.com/xenking/fresh-pickup/internal/domain/quantity"
	"github.com/xenking/fresh-pickup/internal/domain/slot"
	"github.com/xenking/fresh-pickup/internal/domain/stock"
)

// SlotResolver maps a requested pickup time onto a capacity bucket.
type SlotResolver interface {
	Resolve(ctx context.Context, date time.Time, timeRange string) (*slot.Bucket, error)
	Precheck(ctx context.Context, b *slot.Bucket) error
}

var _ SlotResolver = (*slot.Resolver)(nil)

// Deps lists the collaborators of Service. Notifier, Location and the
// telemetry providers are optional.
type Deps struct {
	Catalog  catalog.Repository
	Quantity quantity.Model
	Coupons  coupon.Validator
	Slots    SlotResolver
	Store    Store
	Notifier Notifier
	Policy   stock.Policy
	// Location is the store's local time zone, used to decide which
	// delivery dates are in the past.
	Location       *time.Location
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Service is the order reservation pipeline.
type Service struct {
	catalog  catalog.Repository
	quantity quantity.Model
	coupons  coupon.Validator
	slots    SlotResolver
	store    Store
	notifier Notifier
	policy   stock.Policy
	loc      *time.Location
	now      func() time.Time

	tracer      trace.Tracer
	committed   metric.Int64Counter
	rejected    metric.Int64Counter
	shortfallKg metric.Float64Counter
}

// NewService creates the pipeline from its collaborators.
func NewService(d Deps) (*Service, error) {
	if d.Notifier == nil {
		d.Notifier = NopNotifier{}
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Policy == "" {
		d.Policy = stock.PolicyFloor
	}
	if d.MeterProvider == nil {
		d.MeterProvider = metricnoop.NewMeterProvider()
	}
	if d.TracerProvider == nil {
		d.TracerProvider = tracenoop.NewTracerProvider()
	}

	s := &Service{
		catalog:  d.Catalog,
		quantity: d.Quantity,
		coupons:  d.Coupons,
		slots:    d.Slots,
		store:    d.Store,
		notifier: d.Notifier,
		policy:   d.Policy,
		loc:      d.Location,
		now:      time.Now,
		tracer:   d.TracerProvider.Tracer("github.com/xenking/fresh-pickup/internal/domain/order"),
	}

	meter := d.MeterProvider.Meter("github.com/xenking/fresh-pickup/internal/domain/order")
	var err error
	if s.committed, err = meter.Int64Counter("pickup.orders.committed",
		metric.WithDescription("Orders committed by the reservation pipeline"),
	); err != nil {
		return nil, errors.Wrap(err, "committed counter")
	}
	if s.rejected, err = meter.Int64Counter("pickup.orders.rejected",
		metric.WithDescription("Proposals rejected by the reservation pipeline"),
	); err != nil {
		return nil, errors.Wrap(err, "rejected counter")
	}
	if s.shortfallKg, err = meter.Float64Counter("pickup.stock.shortfall_kg",
		metric.WithDescription("Kilograms ordered beyond available stock"),
		metric.WithUnit("kg"),
	); err != nil {
		return nil, errors.Wrap(err, "shortfall counter")
	}
	return s, nil
}

// PlaceOrder runs a proposal through the pipeline. On success the order is
// committed and handed to the notifier. Every rejection is a
// *RejectedError; other errors come from failed catalog or coupon reads
// before anything was written.
func (s *Service) PlaceOrder(ctx context.Context, p Proposal) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder",
		trace.WithAttributes(
			attribute.Int("order.lines", len(p.Lines)),
			attribute.String("order.delivery_time", p.DeliveryTime),
		),
	)
	defer span.End()

	o, err := s.placeOrder(ctx, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if reason, ok := ReasonOf(err); ok {
			s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
			span.SetAttributes(attribute.String("order.rejection", string(reason)))
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", o.ID))
	return o, nil
}

func (s *Service) placeOrder(ctx context.Context, p Proposal) (*Order, error) {
	lg := zctx.From(ctx)

	customer := Customer{
		Name:  strings.TrimSpace(p.Customer.Name),
		Phone: strings.TrimSpace(p.Customer.Phone),
		Email: strings.TrimSpace(p.Customer.Email),
		Notes: strings.TrimSpace(p.Customer.Notes),
	}
	if customer.Name == "" || customer.Phone == "" {
		return nil, reject(ReasonInvalidRequest, ErrMissingCustomer)
	}

	// Steps 1 and 2: normalise lines and price them.
	lines, debits, err := s.normalize(ctx, p.Lines)
	if err != nil {
		if _, ok := ReasonOf(err); ok {
			lg.Info("Order rejected", zap.Error(err))
		}
		return nil, err
	}
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.LineTotal)
	}

	// Step 3: coupon, read only.
	var (
		discount = decimal.Zero
		couponID *int64
		code     string
	)
	if c := strings.TrimSpace(p.CouponCode); c != "" {
		d, err := s.coupons.Validate(ctx, c, subtotal)
		if err != nil {
			reason, ok := couponReason(err)
			if !ok {
				return nil, errors.Wrap(err, "validate coupon")
			}
			lg.Info("Order rejected", zap.String("reason", string(reason)), zap.String("coupon", c))
			return nil, reject(reason, err)
		}
		discount = d.Amount
		couponID = &d.CouponID
		code = d.Code
	}

	// Step 4: slot resolution and an early capacity check.
	date := slot.Day(p.DeliveryDate)
	if date.Before(slot.Day(s.now().In(s.loc))) {
		return nil, reject(ReasonSlotInactiveOrUnknown, ErrPastDate)
	}
	bucket, err := s.slots.Resolve(ctx, date, p.DeliveryTime)
	if err != nil {
		if errors.Is(err, slot.ErrSlotUnavailable) {
			lg.Info("Order rejected", zap.String("reason", string(ReasonSlotInactiveOrUnknown)),
				zap.Time("date", date), zap.String("time", p.DeliveryTime))
			return nil, reject(ReasonSlotInactiveOrUnknown, err)
		}
		return nil, errors.Wrap(err, "resolve slot")
	}
	if err := s.slots.Precheck(ctx, bucket); err != nil {
		if errors.Is(err, slot.ErrSlotFull) {
			lg.Info("Order rejected", zap.String("reason", string(ReasonSlotFull)), zap.String("bucket", bucket.Key()))
			return nil, reject(ReasonSlotFull, err)
		}
		return nil, errors.Wrap(err, "precheck slot")
	}

	deliveryTime := slot.Immediate
	if bucket != nil {
		deliveryTime = bucket.Range
	}

	o := &Order{
		ID:             uuid.New().String(),
		Customer:       customer,
		DeliveryDate:   date,
		DeliveryTime:   deliveryTime,
		Lines:          lines,
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TotalPrice:     coupon.Total(subtotal, discount),
		CouponID:       couponID,
		CouponCode:     code,
		Status:         StatusPending,
		CreatedAt:      s.now().UTC(),
	}

	// Steps 5 and 6: the commit boundary.
	receipt, err := s.store.Commit(ctx, o, CommitPlan{
		Bucket:   bucket,
		Debits:   stock.Batch(debits),
		Policy:   s.policy,
		CouponID: couponID,
	})
	if err != nil {
		reason := commitReason(err)
		if reason == ReasonCommitFailed {
			lg.Error("Order commit failed", zap.String("order_id", o.ID), zap.Error(err))
		} else {
			lg.Info("Order rejected at commit", zap.String("reason", string(reason)), zap.Error(err))
		}
		return nil, reject(reason, err)
	}

	for _, sf := range receipt.Shortfalls {
		missing := sf.MissingKg.InexactFloat64()
		lg.Warn("Stock shortfall",
			zap.String("order_id", o.ID),
			zap.String("good_id", sf.GoodID),
			zap.String("requested_kg", sf.RequestedKg.String()),
			zap.String("available_kg", sf.AvailableKg.String()),
			zap.String("missing_kg", sf.MissingKg.String()),
		)
		s.shortfallKg.Add(ctx, missing, metric.WithAttributes(attribute.String("good_id", sf.GoodID)))
	}
	s.committed.Add(ctx, 1)

	lg.Info("Order committed",
		zap.String("order_id", o.ID),
		zap.String("delivery_time", o.DeliveryTime),
		zap.String("total", o.TotalPrice.String()),
		zap.Bool("stock_shortfall", o.StockShortfall),
	)

	// Step 7.
	s.notifier.Notify(ctx, o)
	return o, nil
}

// normalize resolves every line against the catalog, validates quantities
// against the Quantity Model and prices the line.
func (s *Service) normalize(ctx context.Context, proposed []ProposedLine) ([]Line, []stock.Debit, error) {
	if len(proposed) == 0 {
		return nil, nil, reject(ReasonInvalidLine, ErrEmptyLines)
	}

	ids := make([]string, 0, len(proposed))
	seen := make(map[string]struct{}, len(proposed))
	for _, pl := range proposed {
		if _, ok := seen[pl.GoodID]; ok {
			continue
		}
		seen[pl.GoodID] = struct{}{}
		ids = append(ids, pl.GoodID)
	}

	goods, err := s.catalog.GoodsByIDs(ctx, ids)
	if err != nil {
		return nil, nil, errors.Wrap(err, "get goods")
	}
	byID := make(map[string]catalog.Good, len(goods))
	for _, g := range goods {
		byID[g.ID] = g
	}
	variants, err := s.catalog.SizeVariants(ctx, ids)
	if err != nil {
		return nil, nil, errors.Wrap(err, "get size variants")
	}
	sizes := catalog.IndexSizes(variants)

	lines := make([]Line, 0, len(proposed))
	debits := make([]stock.Debit, 0, len(proposed))
	for i, pl := range proposed {
		invalid := func(err error) error {
			return reject(ReasonInvalidLine, &LineError{Index: i, GoodID: pl.GoodID, Err: err})
		}

		g, ok := byID[pl.GoodID]
		if !ok || !g.Active {
			return nil, nil, invalid(catalog.ErrGoodNotFound)
		}
		cut, err := s.catalog.EnabledCut(ctx, g.ID, pl.CutID)
		if err != nil {
			if errors.Is(err, catalog.ErrCutNotEnabled) {
				return nil, nil, invalid(err)
			}
			return nil, nil, errors.Wrap(err, "get cut")
		}

		size := strings.TrimSpace(pl.Size)
		if quantity.IsByWeight(g) {
			size = ""
		}
		m, err := s.quantity.For(g, size, sizes)
		if err != nil {
			return nil, nil, invalid(err)
		}
		if err := quantity.Check(m, pl.Quantity, g.AvailableKg); err != nil {
			return nil, nil, invalid(err)
		}

		weight := m.WeightKg(pl.Quantity)
		unitPrice := g.PricePerKg.Add(cut.PriceAddition)
		lines = append(lines, Line{
			GoodID:    g.ID,
			GoodName:  g.Name,
			CutID:     cut.ID,
			CutName:   cut.Name,
			Quantity:  pl.Quantity,
			Size:      size,
			WeightKg:  weight,
			UnitPrice: unitPrice,
			LineTotal: unitPrice.Mul(weight).Round(2),
		})
		debits = append(debits, stock.Debit{GoodID: g.ID, WeightKg: weight})
	}
	return lines, debits, nil
}

// Get returns a committed order.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}
