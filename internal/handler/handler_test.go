package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/fresh-pickup/internal/domain/auth"
	"github.com/xenking/fresh-pickup/internal/domain/catalog"
	"github.com/xenking/fresh-pickup/internal/domain/coupon"
	"github.com/xenking/fresh-pickup/internal/domain/order"
	"github.com/xenking/fresh-pickup/internal/domain/slot"
	"github.com/xenking/fresh-pickup/pkg/httpmiddleware"
)

// --- Mock implementations ---

type mockOrders struct {
	placed   *order.Proposal
	placeErr error
	byID     map[string]*order.Order
	getErr   error
	offers   []order.Offer
	offerErr error
}

func (m *mockOrders) PlaceOrder(_ context.Context, p order.Proposal) (*order.Order, error) {
	m.placed = &p
	if m.placeErr != nil {
		return nil, m.placeErr
	}
	return testOrder(), nil
}

func (m *mockOrders) Get(_ context.Context, id string) (*order.Order, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	o, ok := m.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (m *mockOrders) Offers(context.Context) ([]order.Offer, error) {
	return m.offers, m.offerErr
}

type mockSlots struct {
	date     time.Time
	openings []slot.Opening
	err      error
}

func (m *mockSlots) Availability(_ context.Context, date time.Time) ([]slot.Opening, error) {
	m.date = date
	return m.openings, m.err
}

type mockCoupons struct {
	discount *coupon.Discount
	err      error
}

func (m *mockCoupons) Validate(_ context.Context, _ string, _ decimal.Decimal) (*coupon.Discount, error) {
	return m.discount, m.err
}

type mockKeys struct{}

func (mockKeys) Authenticate(_ context.Context, key string) (*auth.APIKeyInfo, error) {
	if key != "test-key" {
		return nil, auth.ErrUnauthorized
	}
	return &auth.APIKeyInfo{ID: "storefront", Name: "Storefront"}, nil
}

// --- Helpers ---

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testOrder() *order.Order {
	return &order.Order{
		ID:       "0b8f6a4e-1c2d-4e5f-8a9b-0c1d2e3f4a5b",
		Customer: order.Customer{Name: "Ana", Phone: "+34600000000"},
		DeliveryDate: time.Date(2099, 6, 13, 0, 0, 0, 0, time.UTC),
		DeliveryTime: "09:00-10:00",
		Lines: []order.Line{{
			GoodID: "salmon", GoodName: "Salmon", CutID: "fillet", CutName: "Fillet",
			Quantity: dec("1.5"), WeightKg: dec("1.5"), UnitPrice: dec("22"), LineTotal: dec("33"),
		}},
		Subtotal:       dec("33"),
		DiscountAmount: dec("3.3"),
		TotalPrice:     dec("29.7"),
		CouponCode:     "SPRING",
		Status:         order.StatusPending,
		CreatedAt:      time.Date(2099, 6, 1, 10, 0, 0, 0, time.UTC),
	}
}

type fixture struct {
	orders  *mockOrders
	slots   *mockSlots
	coupons *mockCoupons
	mux     *http.ServeMux
	h       *Handler
}

func newFixture() *fixture {
	f := &fixture{
		orders:  &mockOrders{byID: map[string]*order.Order{}},
		slots:   &mockSlots{},
		coupons: &mockCoupons{},
		mux:     http.NewServeMux(),
	}
	f.h = New(Config{}, f.orders, f.slots, f.coupons, mockKeys{})
	f.h.Register(f.mux)
	return f
}

func (f *fixture) do(method, target, body string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if authed {
		req.Header.Set(httpmiddleware.APIKeyHeader, "test-key")
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

const validOrder = `{
	"customer": {"name": "Ana", "phone": "+34600000000", "email": "ana@example.com"},
	"delivery_date": "2099-06-13",
	"delivery_time": "09:00-10:00",
	"items": [
		{"good_id": "salmon", "cut_id": "fillet", "quantity": 1.5},
		{"good_id": "bream", "cut_id": "whole", "quantity": "2", "size": "large"}
	],
	"coupon_code": "SPRING"
}`

// --- Tests ---

func TestPlaceOrder_Created(t *testing.T) {
	f := newFixture()
	w := f.do(http.MethodPost, "/api/orders", validOrder, true)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "/api/orders/0b8f6a4e-1c2d-4e5f-8a9b-0c1d2e3f4a5b", w.Header().Get("Location"))

	p := f.orders.placed
	require.NotNil(t, p)
	assert.Equal(t, "Ana", p.Customer.Name)
	assert.Equal(t, "ana@example.com", p.Customer.Email)
	assert.Equal(t, time.Date(2099, 6, 13, 0, 0, 0, 0, time.UTC), p.DeliveryDate)
	assert.Equal(t, "09:00-10:00", p.DeliveryTime)
	assert.Equal(t, "SPRING", p.CouponCode)
	require.Len(t, p.Lines, 2)
	assert.True(t, dec("1.5").Equal(p.Lines[0].Quantity))
	assert.True(t, dec("2").Equal(p.Lines[1].Quantity))
	assert.Equal(t, "large", p.Lines[1].Size)

	var got struct {
		id, total, discount string
		items             int
	}
	d := jx.DecodeStr(w.Body.String())
	require.NoError(t, d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			got.id, err = d.Str()
		case "total":
			got.total, err = d.Str()
		case "discount":
			got.discount, err = d.Str()
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				got.items++
				return d.Skip()
			})
		default:
			err = d.Skip()
		}
		return err
	}))
	assert.Equal(t, "0b8f6a4e-1c2d-4e5f-8a9b-0c1d2e3f4a5b", got.id)
	assert.Equal(t, "29.70", got.total)
	assert.Equal(t, "3.30", got.discount)
	assert.Equal(t, 1, got.items)
}

func TestPlaceOrder_RequiresAPIKey(t *testing.T) {
	f := newFixture()
	w := f.do(http.MethodPost, "/api/orders", validOrder, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Nil(t, f.orders.placed)
}

func TestPlaceOrder_MalformedBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `nope`},
		{name: "quantity not a number", body: `{"delivery_date":"2099-06-13","items":[{"good_id":"a","quantity":"lots"}]}`},
		{name: "missing date", body: `{"items":[]}`},
		{name: "bad date", body: `{"delivery_date":"13/06/2099"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			w := f.do(http.MethodPost, "/api/orders", tt.body, true)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Nil(t, f.orders.placed)
		})
	}
}

func TestPlaceOrder_BodyTooLarge(t *testing.T) {
	f := newFixture()
	f.h.maxBody = 16
	w := f.do(http.MethodPost, "/api/orders", validOrder, true)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestPlaceOrder_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{
			name:   "missing customer",
			err:    &order.RejectedError{Reason: order.ReasonInvalidRequest, Err: order.ErrMissingCustomer},
			status: http.StatusUnprocessableEntity,
			body:   `{"code":422,"reason":"InvalidRequest","message":"order rejected (InvalidRequest): customer name and phone are required"}`,
		},
		{
			name: "invalid line",
			err: &order.RejectedError{Reason: order.ReasonInvalidLine, Err: &order.LineError{
				Index: 1, GoodID: "bream", Err: errors.New("quantity must be a whole number"),
			}},
			status: http.StatusUnprocessableEntity,
			body:   `{"code":422,"reason":"InvalidLine","message":"line 1 (good bream): quantity must be a whole number","line":1}`,
		},
		{
			name:   "coupon expired",
			err:    &order.RejectedError{Reason: order.ReasonCouponExpired, Err: coupon.ErrExpired},
			status: http.StatusUnprocessableEntity,
			body:   `{"code":422,"reason":"CouponExpired","message":"order rejected (CouponExpired): coupon expired"}`,
		},
		{
			name:   "slot full",
			err:    &order.RejectedError{Reason: order.ReasonSlotFull, Err: slot.ErrSlotFull},
			status: http.StatusConflict,
		},
		{
			name:   "slot unknown",
			err:    &order.RejectedError{Reason: order.ReasonSlotInactiveOrUnknown, Err: slot.ErrSlotUnavailable},
			status: http.StatusConflict,
		},
		{
			name:   "insufficient stock",
			err:    &order.RejectedError{Reason: order.ReasonInsufficientStock, Err: errors.New("insufficient stock")},
			status: http.StatusConflict,
		},
		{
			name:   "commit failed",
			err:    &order.RejectedError{Reason: order.ReasonCommitFailed, Err: errors.New("connection reset")},
			status: http.StatusInternalServerError,
			body:   `{"code":500,"reason":"CommitFailed","message":"order could not be saved, please retry"}`,
		},
		{
			name:   "catalog read failed",
			err:    errors.New("connection refused"),
			status: http.StatusInternalServerError,
			body:   `{"code":500,"message":"internal error"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.orders.placeErr = tt.err
			w := f.do(http.MethodPost, "/api/orders", validOrder, true)

			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.JSONEq(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		reason order.Reason
		want   int
	}{
		{order.ReasonInvalidRequest, http.StatusUnprocessableEntity},
		{order.ReasonInvalidLine, http.StatusUnprocessableEntity},
		{order.ReasonCouponInvalidCode, http.StatusUnprocessableEntity},
		{order.ReasonCouponInactive, http.StatusUnprocessableEntity},
		{order.ReasonCouponBelowMinimum, http.StatusUnprocessableEntity},
		{order.ReasonCouponUsesExhausted, http.StatusUnprocessableEntity},
		{order.ReasonSlotFull, http.StatusConflict},
		{order.ReasonSlotInactiveOrUnknown, http.StatusConflict},
		{order.ReasonInsufficientStock, http.StatusConflict},
		{order.ReasonCommitFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			assert.Equal(t, tt.want, statusOf(tt.reason))
		})
	}
}

func TestGetOrder(t *testing.T) {
	f := newFixture()
	o := testOrder()
	f.orders.byID[o.ID] = o

	w := f.do(http.MethodGet, "/api/orders/"+o.ID, "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"delivery_time":"09:00-10:00"`)
	assert.Contains(t, w.Body.String(), `"coupon_code":"SPRING"`)
	assert.Contains(t, w.Body.String(), `"stock_shortfall":false`)

	w = f.do(http.MethodGet, "/api/orders/missing", "", false)
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.orders.getErr = errors.New("db down")
	w = f.do(http.MethodGet, "/api/orders/"+o.ID, "", false)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestListGoods(t *testing.T) {
	f := newFixture()
	f.orders.offers = []order.Offer{
		{
			Good: catalog.Good{
				ID: "salmon", Name: "Salmon", PricingMode: catalog.ByWeight,
				PricePerKg: dec("20"), AvailableKg: dec("3.2"),
			},
			Cuts:         []catalog.Cut{{ID: "fillet", Name: "Fillet", PriceAddition: dec("2")}},
			MaxOrderable: dec("3.2"),
			MinWeightKg:  dec("0.5"),
		},
		{
			Good: catalog.Good{
				ID: "bream", Name: "Bream", PricingMode: catalog.ByUnit,
				PricePerKg: dec("12"), AvailableKg: dec("2"), AverageWeightKg: dec("0.5"),
			},
			MaxOrderable: dec("4"),
			Sizes:        []order.SizeOffer{{Size: "large", AverageWeightKg: dec("0.8"), MaxOrderable: dec("2")}},
			MinWeightKg:  dec("0.5"),
		},
	}

	w := f.do(http.MethodGet, "/api/goods", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[
		{
			"id":"salmon","name":"Salmon","pricing_mode":"by_weight",
			"price_per_kg":"20.00","available_kg":"3.2","max_orderable":"3.2","min_weight_kg":"0.5",
			"cuts":[{"id":"fillet","name":"Fillet","price_addition":"2.00"}]
		},
		{
			"id":"bream","name":"Bream","pricing_mode":"by_unit",
			"price_per_kg":"12.00","available_kg":"2","max_orderable":"4","min_weight_kg":"0.5",
			"average_weight_kg":"0.5","cuts":[],
			"sizes":[{"size":"large","average_weight_kg":"0.8","max_orderable":"2"}]
		}
	]`, w.Body.String())

	f.orders.offerErr = errors.New("db down")
	w = f.do(http.MethodGet, "/api/goods", "", false)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestListSlots(t *testing.T) {
	f := newFixture()
	f.slots.openings = []slot.Opening{{
		Slot:      slot.Slot{ID: 7, DayOfWeek: time.Saturday, Start: "09:00", End: "10:00", MaxOrders: 3, Active: true},
		Booked:    1,
		Remaining: 2,
	}}

	w := f.do(http.MethodGet, "/api/slots?date=2099-06-13", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"date":"2099-06-13","slots":[
		{"id":7,"start":"09:00","end":"10:00","range":"09:00-10:00","max_orders":3,"booked":1,"remaining":2}
	]}`, w.Body.String())
	assert.Equal(t, time.Date(2099, 6, 13, 0, 0, 0, 0, time.UTC), f.slots.date)

	w = f.do(http.MethodGet, "/api/slots?date=tomorrow", "", false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListSlots_DefaultsToStoreToday(t *testing.T) {
	f := newFixture()
	loc := time.FixedZone("UTC+3", 3*60*60)
	f.h.loc = loc
	// 22:30 UTC on the 12th is already the 13th in the store's zone.
	f.h.now = func() time.Time { return time.Date(2099, 6, 12, 22, 30, 0, 0, time.UTC) }

	w := f.do(http.MethodGet, "/api/slots", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Date(2099, 6, 13, 0, 0, 0, 0, time.UTC), f.slots.date)
}

func TestValidateCoupon(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		discount *coupon.Discount
		err      error
		status   int
		want     string
	}{
		{
			name:     "valid",
			body:     `{"code":"spring","subtotal":33}`,
			discount: &coupon.Discount{CouponID: 1, Code: "SPRING", Amount: dec("3.3"), Total: dec("29.7")},
			status:   http.StatusOK,
			want:     `{"valid":true,"code":"SPRING","discount":"3.30","total":"29.70"}`,
		},
		{
			name:   "below minimum",
			body:   `{"code":"spring","subtotal":"5"}`,
			err:    coupon.ErrBelowMinimum,
			status: http.StatusUnprocessableEntity,
			want:   `{"code":422,"reason":"CouponBelowMinimum","message":"order below coupon minimum"}`,
		},
		{
			name:   "unknown code",
			body:   `{"code":"nope","subtotal":5}`,
			err:    errors.Wrap(coupon.ErrInvalidCode, "lookup"),
			status: http.StatusUnprocessableEntity,
			want:   `{"code":422,"reason":"CouponInvalidCode","message":"lookup: invalid coupon code"}`,
		},
		{name: "missing code", body: `{"subtotal":5}`, status: http.StatusBadRequest},
		{name: "negative subtotal", body: `{"code":"x","subtotal":-1}`, status: http.StatusBadRequest},
		{name: "missing subtotal", body: `{"code":"x"}`, status: http.StatusBadRequest},
		{name: "store failure", body: `{"code":"x","subtotal":5}`, err: errors.New("db down"), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.coupons.discount = tt.discount
			f.coupons.err = tt.err

			w := f.do(http.MethodPost, "/api/coupons/validate", tt.body, false)
			assert.Equal(t, tt.status, w.Code)
			if tt.want != "" {
				assert.JSONEq(t, tt.want, w.Body.String())
			}
		})
	}
}

func TestUnknownMethod(t *testing.T) {
	f := newFixture()
	w := f.do(http.MethodDelete, "/api/goods", "", false)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
