package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/fresh-pickup/internal/domain/catalog"
	"github.com/xenking/fresh-pickup/internal/domain/coupon"
	"github.com/xenking/fresh-pickup/internal/domain/quantity"
	"github.com/xenking/fresh-pickup/internal/domain/slot"
	"github.com/xenking/fresh-pickup/internal/domain/stock"
)

// --- Mock implementations ---

type mockCatalog struct {
	goods    map[string]catalog.Good
	cuts     map[string]catalog.Cut // keyed by goodID+"/"+cutID
	variants []catalog.SizeVariant
	goodsErr error
}

func (m *mockCatalog) ListGoods(_ context.Context) ([]catalog.Good, error) {
	out := make([]catalog.Good, 0, len(m.goods))
	for _, g := range m.goods {
		out = append(out, g)
	}
	return out, nil
}

func (m *mockCatalog) GoodsByIDs(_ context.Context, ids []string) ([]catalog.Good, error) {
	if m.goodsErr != nil {
		return nil, m.goodsErr
	}
	var out []catalog.Good
	for _, id := range ids {
		if g, ok := m.goods[id]; ok {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *mockCatalog) EnabledCut(_ context.Context, goodID, cutID string) (*catalog.Cut, error) {
	c, ok := m.cuts[goodID+"/"+cutID]
	if !ok || !c.Active {
		return nil, catalog.ErrCutNotEnabled
	}
	return &c, nil
}

func (m *mockCatalog) CutsForGood(_ context.Context, goodID string) ([]catalog.Cut, error) {
	var out []catalog.Cut
	for k, c := range m.cuts {
		if len(k) > len(goodID) && k[:len(goodID)+1] == goodID+"/" {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockCatalog) SizeVariants(_ context.Context, _ []string) ([]catalog.SizeVariant, error) {
	return m.variants, nil
}

type mockCouponValidator struct {
	discount *coupon.Discount
	err      error
	calls    int
}

func (m *mockCouponValidator) Validate(_ context.Context, _ string, _ decimal.Decimal) (*coupon.Discount, error) {
	m.calls++
	return m.discount, m.err
}

type mockSlots struct {
	bucket     *slot.Bucket
	resolveErr error
	precheck   error
}

func (m *mockSlots) Resolve(_ context.Context, _ time.Time, timeRange string) (*slot.Bucket, error) {
	if slot.NormalizeRange(timeRange) == slot.Immediate {
		return nil, nil
	}
	return m.bucket, m.resolveErr
}

func (m *mockSlots) Precheck(_ context.Context, _ *slot.Bucket) error {
	return m.precheck
}

type mockStore struct {
	lastOrder *Order
	lastPlan  CommitPlan
	receipt   *CommitReceipt
	err       error
	calls     int
}

func (m *mockStore) Commit(_ context.Context, o *Order, plan CommitPlan) (*CommitReceipt, error) {
	m.calls++
	m.lastOrder = o
	m.lastPlan = plan
	if m.err != nil {
		return nil, m.err
	}
	if m.receipt == nil {
		return &CommitReceipt{}, nil
	}
	o.StockShortfall = len(m.receipt.Shortfalls) > 0
	return m.receipt, nil
}

func (m *mockStore) Get(_ context.Context, id string) (*Order, error) {
	if m.lastOrder != nil && m.lastOrder.ID == id {
		return m.lastOrder, nil
	}
	return nil, ErrNotFound
}

type recordingNotifier struct {
	mu     sync.Mutex
	orders []*Order
}

func (n *recordingNotifier) Notify(_ context.Context, o *Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, o)
}

// --- Helpers ---

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

var testNow = time.Date(2025, 6, 13, 10, 0, 0, 0, time.UTC)

func newCatalog() *mockCatalog {
	return &mockCatalog{
		goods: map[string]catalog.Good{
			"salmon": {ID: "salmon", Name: "Salmon", PricingMode: catalog.ByWeight, PricePerKg: d("20"), AvailableKg: d("10"), Active: true},
			"bream":  {ID: "bream", Name: "Sea bream", PricingMode: catalog.ByUnit, PricePerKg: d("12"), AvailableKg: d("2.0"), AverageWeightKg: d("0.5"), Active: true},
			"hake":   {ID: "hake", Name: "Hake", PricingMode: catalog.ByWeight, PricePerKg: d("9"), AvailableKg: d("4"), Active: false},
		},
		cuts: map[string]catalog.Cut{
			"salmon/whole":  {ID: "whole", Name: "Whole", Active: true},
			"salmon/fillet": {ID: "fillet", Name: "Fillet", PriceAddition: d("3.50"), Active: true},
			"salmon/steaks": {ID: "steaks", Name: "Steaks", PriceAddition: d("2"), Active: false},
			"bream/whole":   {ID: "whole", Name: "Whole", Active: true},
			"hake/whole":    {ID: "whole", Name: "Whole", Active: true},
		},
		variants: []catalog.SizeVariant{
			{GoodID: "bream", Size: "large", AverageWeightKg: d("0.8")},
		},
	}
}

type fixture struct {
	catalog  *mockCatalog
	coupons  *mockCouponValidator
	slots    *mockSlots
	store    *mockStore
	notifier *recordingNotifier
	svc      *Service
}

func newFixture(t *testing.T, policy stock.Policy) *fixture {
	t.Helper()
	f := &fixture{
		catalog: newCatalog(),
		coupons: &mockCouponValidator{},
		slots: &mockSlots{bucket: &slot.Bucket{
			SlotID: 1, Date: slot.Day(testNow), Range: "09:00-10:00", MaxOrders: 5,
		}},
		store:    &mockStore{},
		notifier: &recordingNotifier{},
	}
	svc, err := NewService(Deps{
		Catalog:  f.catalog,
		Quantity: quantity.NewModel(decimal.Zero),
		Coupons:  f.coupons,
		Slots:    f.slots,
		Store:    f.store,
		Notifier: f.notifier,
		Policy:   policy,
	})
	require.NoError(t, err)
	svc.now = func() time.Time { return testNow }
	f.svc = svc
	return f
}

func proposal(lines ...ProposedLine) Proposal {
	return Proposal{
		Customer:     Customer{Name: "Ana", Phone: "+34600000000"},
		DeliveryDate: testNow,
		DeliveryTime: "09:00-10:00",
		Lines:        lines,
	}
}

func requireReason(t *testing.T, err error, want Reason) {
	t.Helper()
	require.Error(t, err)
	got, ok := ReasonOf(err)
	require.True(t, ok, "expected RejectedError, got %v", err)
	assert.Equal(t, want, got)
}

// --- Tests ---

func TestPlaceOrder_Committed(t *testing.T) {
	f := newFixture(t, stock.PolicyFloor)

	o, err := f.svc.PlaceOrder(context.Background(), proposal(
		ProposedLine{GoodID: "salmon", CutID: "fillet", Quantity: d("1.5")},
		ProposedLine{GoodID: "bream", CutID: "whole", Quantity: d("2")},
		ProposedLine{GoodID: "salmon", CutID: "whole", Quantity: d("0.5")},
	))
	require.NoError(t, err)

	require.Len(t, o.Lines, 3)
	// 1.5 kg * (20 + 3.50)
	assert.True(t, d("35.25").Equal(o.Lines[0].LineTotal), "line 0 %s", o.Lines[0].LineTotal)
	assert.True(t, d("23.50").Equal(o.Lines[0].UnitPrice))
	// 2 pieces * 0.5 kg * 12
	assert.True(t, d("1").Equal(o.Lines[1].WeightKg))
	assert.True(t, d("12").Equal(o.Lines[1].LineTotal))
	assert.True(t, d("10").Equal(o.Lines[2].LineTotal))

	assert.True(t, d("57.25").Equal(o.Subtotal))
	assert.True(t, d("57.25").Equal(o.TotalPrice))
	assert.True(t, o.DiscountAmount.IsZero())
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, "09:00-10:00", o.DeliveryTime)
	assert.NotEmpty(t, o.ID)
	assert.Nil(t, o.CouponID)

	// Debits are batched per good in first-seen order.
	require.Len(t, f.store.lastPlan.Debits, 2)
	assert.Equal(t, "salmon", f.store.lastPlan.Debits[0].GoodID)
	assert.True(t, d("2").Equal(f.store.lastPlan.Debits[0].WeightKg))
	assert.Equal(t, "bream", f.store.lastPlan.Debits[1].GoodID)
	assert.Equal(t, stock.PolicyFloor, f.store.lastPlan.Policy)
	require.NotNil(t, f.store.lastPlan.Bucket)

	require.Len(t, f.notifier.orders, 1)
	assert.Same(t, o, f.notifier.orders[0])
}

func TestPlaceOrder_InvalidLines(t *testing.T) {
	tests := []struct {
		name    string
		line    ProposedLine
		wantErr error
	}{
		{name: "unknown good", line: ProposedLine{GoodID: "tuna", CutID: "whole", Quantity: d("1")}, wantErr: catalog.ErrGoodNotFound},
		{name: "inactive good", line: ProposedLine{GoodID: "hake", CutID: "whole", Quantity: d("1")}, wantErr: catalog.ErrGoodNotFound},
		{name: "cut not enabled", line: ProposedLine{GoodID: "bream", CutID: "fillet", Quantity: d("1")}, wantErr: catalog.ErrCutNotEnabled},
		{name: "inactive cut", line: ProposedLine{GoodID: "salmon", CutID: "steaks", Quantity: d("1")}, wantErr: catalog.ErrCutNotEnabled},
		{name: "below minimum weight", line: ProposedLine{GoodID: "salmon", CutID: "whole", Quantity: d("0.3")}, wantErr: quantity.ErrBelowMinimumWeight},
		{name: "weight finer than a gram", line: ProposedLine{GoodID: "salmon", CutID: "whole", Quantity: d("0.5555")}, wantErr: quantity.ErrTooPrecise},
		{name: "fractional units", line: ProposedLine{GoodID: "bream", CutID: "whole", Quantity: d("1.5")}, wantErr: quantity.ErrFractionalUnits},
		{name: "zero quantity", line: ProposedLine{GoodID: "bream", CutID: "whole", Quantity: decimal.Zero}, wantErr: quantity.ErrNotPositive},
		{name: "weight above stock", line: ProposedLine{GoodID: "salmon", CutID: "whole", Quantity: d("10.5")}, wantErr: quantity.ErrExceedsAvailable},
		{name: "units above ceiling", line: ProposedLine{GoodID: "bream", CutID: "whole", Quantity: d("5")}, wantErr: quantity.ErrExceedsAvailable},
		{name: "large size lowers ceiling", line: ProposedLine{GoodID: "bream", CutID: "whole", Quantity: d("3"), Size: "large"}, wantErr: quantity.ErrExceedsAvailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, stock.PolicyFloor)

			_, err := f.svc.PlaceOrder(context.Background(), proposal(
				ProposedLine{GoodID: "salmon", CutID: "whole", Quantity: d("1")},
				tt.line,
			))
			requireReason(t, err, ReasonInvalidLine)
			require.ErrorIs(t, err, tt.wantErr)

			var lineErr *LineError
			require.ErrorAs(t, err, &lineErr)
			assert.Equal(t, 1, lineErr.Index)
			assert.Equal(t, 0, f.store.calls, "nothing may be committed")
			assert.Empty(t, f.notifier.orders)
		})
	}
}

func TestPlaceOrder_SizeVariantWeight(t *testing.T) {
	f := newFixture(t, stock.PolicyFloor)

	o, err := f.svc.PlaceOrder(context.Background(), proposal(
		ProposedLine{GoodID: "bream", CutID: "whole", Quantity: d("2"), Size: "large"},
		ProposedLine{GoodID: "salmon", CutID: "whole", Quantity: d("1"), Size: "large"},
	))
	require.NoError(t, err)
	assert.True(t, d("1.6").Equal(o.Lines[0].WeightKg))
	assert.Equal(t, "large", o.Lines[0].Size)
	assert.Empty(t, o.Lines[1].Size, "size is ignored for goods sold by weight")
}

func TestPlaceOrder_EmptyLines(t *testing.T) {
	f := newFixture(t, stock.PolicyFloor)

	_, err := f.svc.PlaceOrder(context.Background(), proposal())
	requireReason(t, err, ReasonInvalidLine)
	require.ErrorIs(t, err, ErrEmptyLines)
}

func TestPlaceOrder_MissingCustomer(t *testing.T) {
	f := newFixture(t, stock.PolicyFloor)
	p := proposal(ProposedLine{GoodID: "salmon", CutID: "whole", Quantity: d("1")})
	p.Customer.Phone = "  "

	_, err := f.svc.PlaceOrder(context.Background(), p)
	requireReason(t, err, ReasonInvalidRequest)
}

func TestPlaceOrder_CatalogError(t *testing.T) {
	f := newFixture(t, stock.PolicyFloor)
	f.catalog.goodsErr = errors.New("db down")

	_, err := f.svc.PlaceOrder(context.Background(), proposal(
		ProposedLine{GoodID: "salmon", CutID: "whole", Quantity: d("1")},
	))
	require.Error(t, err)
	_, ok := ReasonOf(err)
	assert.False(t, ok, "read failures are not rejections")
	assert.Contains(t, err.Error(), "get goods")
}

func TestPlaceOrder_Coupon(t *testing.T) {
	f := newFixture(t, stock.PolicyFloor)
	f.coupons.discount = &coupon.Discount{CouponID: 7, Code: "SPRING", Amount: d("5")}

	p := proposal(ProposedLine{GoodID: "salmon", CutID: "whole", Quantity: d("1")})
	p.CouponCode = "spring"
	o, err := f.svc.PlaceOrder(context.Background(), p)
	require.NoError(t, err)

	assert.True(t, d("20").Equal(o.Subtotal))
	assert.True(t, d("5").Equal(o.DiscountAmount))
	assert.True(t, d("15").Equal(o.TotalPrice))
	require.NotNil(t, o.CouponID)
	assert.Equal(t, int64(7), *o.CouponID)
	assert.Equal(t, "SPRING", o.CouponCode)
	require.NotNil(t, f.store.lastPlan.CouponID)
	assert.Equal(t, int64(7), *f.store.lastPlan.CouponID)
}

func TestPlaceOrder_DiscountFlooredAtZero(t *testing.T) {
	f := newFixture(t, stock.PolicyFloor)
	f.coupons.discount = &coupon.Discount{CouponID: 1, Code: "HUGE", Amount: d("999")}

	p := proposal(ProposedLine{GoodID: "salmon", CutID: "whole", Quantity: d("1")})
	p.CouponCode = "HUGE"
	o, err := f.svc.PlaceOrder(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, o.TotalPrice.IsZero())
}

func TestPlaceOrder_CouponRejections(t *testing.T) {
	tests := []struct {
		err  error
		want Reason
	}{
		{err: coupon.ErrInvalidCode, want: ReasonCouponInvalidCode},
		{err: coupon.ErrInactive, want: ReasonCouponInactive},
		{err: coupon.ErrExpired, want: ReasonCouponExpired},
		{err: coupon.ErrBelowMinimum, want: ReasonCouponBelowMinimum},
		{err: coupon.ErrUsesExhausted, want: ReasonCouponUsesExhausted},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			f := newFixture(t, stock.PolicyFloor)
			f.coupons.err = tt.err

			p := proposal(ProposedLine{GoodID: "salmon", CutID: "whole", Quantity: d("1")})
			p.CouponCode = "X"
			_, err := f.svc.PlaceOrder(context.Background(), p)
			requireReason(t, err, tt.want)
			require.ErrorIs(t, err, tt.err)
			assert.True(t, tt.want.Coupon())
			assert.Equal(t, 0, f.store.calls)
		})
	}
}

func TestPlaceOrder_CouponSkippedWithoutCode(t *testing.T) {
	f := newFixture(t, stock.PolicyFloor)
	f.coupons.err = errors.New("must not be called")

	p := proposal(ProposedLine{GoodID: "salmon", CutID: "whole", Quantity: d("1")})
	p.CouponCode = "   "
	_, err := f.svc.PlaceOrder(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 0, f.coupons.calls)
}

func TestPlaceOrder_SlotRejections(t *testing.T) {
	t.Run("unknown slot", func(t *testing.T) {
		f := newFixture(t, stock.PolicyFloor)
		f.slots.bucket = nil
		f.slots.resolveErr = slot.ErrSlotUnavailable

		_, err := f.svc.PlaceOrder(context.Background(), proposal(
			ProposedLine{GoodID: "salmon", CutID: "whole", Quantity: d("1")},
		))
		requireReason(t, err, ReasonSlotInactiveOrUnknown)
		assert.Equal(t, 0, f.store.calls)
	})
	t.Run("precheck full", func(t *testing.T) {
		f := newFixture(t, stock.PolicyFloor)
		f.slots.precheck = slot.ErrSlotFull

		_, err := f.svc.PlaceOrder(context.Background(), proposal(
			ProposedLine{GoodID: "salmon", CutID: "whole", Quantity: d("1")},
		))
		requireReason(t, err, ReasonSlotFull)
		assert.Equal(t, 0, f.store.calls)
	})
	t.Run("past date", func(t *testing.T) {
		f := newFixture(t, stock.PolicyFloor)
		p := proposal(ProposedLine{GoodID: "salmon", CutID: "whole", Quantity: d("1")})
		p.DeliveryDate = testNow.AddDate(0, 0, -1)

		_, err := f.svc.PlaceOrder(context.Background(), p)
		requireReason(t, err, ReasonSlotInactiveOrUnknown)
		require.ErrorIs(t, err, ErrPastDate)
	})
}

func TestPlaceOrder_ImmediatePickup(t *testing.T) {
	f := newFixture(t, stock.PolicyFloor)
	f.slots.precheck = slot.ErrSlotFull // only consulted for a bucket

	p := proposal(ProposedLine{GoodID: "salmon", CutID: "whole", Quantity: d("1")})
	p.DeliveryTime = " Immediate "
	o, err := f.svc.PlaceOrder(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, o.Immediate())
	assert.Nil(t, f.store.lastPlan.Bucket)
}

func TestPlaceOrder_CommitErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Reason
	}{
		{name: "slot filled concurrently", err: slot.ErrSlotFull, want: ReasonSlotFull},
		{name: "coupon consumed concurrently", err: errors.Wrap(coupon.ErrUsesExhausted, "increment"), want: ReasonCouponUsesExhausted},
		{name: "strict stock", err: stock.ErrInsufficientStock, want: ReasonInsufficientStock},
		{name: "database failure", err: errors.New("connection reset"), want: ReasonCommitFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, stock.PolicyFloor)
			f.store.err = tt.err

			_, err := f.svc.PlaceOrder(context.Background(), proposal(
				ProposedLine{GoodID: "salmon", CutID: "whole", Quantity: d("1")},
			))
			requireReason(t, err, tt.want)
			require.ErrorIs(t, err, tt.err)

			var rej *RejectedError
			require.ErrorAs(t, err, &rej)
			assert.Equal(t, tt.want == ReasonCommitFailed, rej.Fatal())
			assert.Empty(t, f.notifier.orders, "failed commits are never notified")
		})
	}
}

func TestPlaceOrder_Shortfall(t *testing.T) {
	f := newFixture(t, stock.PolicyFloor)
	f.store.receipt = &CommitReceipt{Shortfalls: []stock.Shortfall{{
		GoodID: "salmon", RequestedKg: d("1"), AvailableKg: d("0.4"), MissingKg: d("0.6"),
	}}}

	o, err := f.svc.PlaceOrder(context.Background(), proposal(
		ProposedLine{GoodID: "salmon", CutID: "whole", Quantity: d("1")},
	))
	require.NoError(t, err)
	assert.True(t, o.StockShortfall)
	require.Len(t, f.notifier.orders, 1)
}

func TestGet(t *testing.T) {
	f := newFixture(t, stock.PolicyFloor)
	o, err := f.svc.PlaceOrder(context.Background(), proposal(
		ProposedLine{GoodID: "salmon", CutID: "whole", Quantity: d("1")},
	))
	require.NoError(t, err)

	got, err := f.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = f.svc.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOffers(t *testing.T) {
	f := newFixture(t, stock.PolicyFloor)

	offers, err := f.svc.Offers(context.Background())
	require.NoError(t, err)

	byID := make(map[string]Offer, len(offers))
	for _, o := range offers {
		byID[o.Good.ID] = o
	}
	require.Len(t, byID, 2, "inactive goods are hidden")

	bream := byID["bream"]
	assert.True(t, d("4").Equal(bream.MaxOrderable))
	require.Len(t, bream.Sizes, 1)
	assert.Equal(t, "large", bream.Sizes[0].Size)
	assert.True(t, d("2").Equal(bream.Sizes[0].MaxOrderable))

	salmon := byID["salmon"]
	assert.True(t, d("10").Equal(salmon.MaxOrderable))
	assert.True(t, d("0.5").Equal(salmon.MinWeightKg))
	assert.Len(t, salmon.Cuts, 3)
}
