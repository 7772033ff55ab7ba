// Package handler exposes the ordering core over HTTP with JSON bodies.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/fresh-pickup/internal/domain/coupon"
	"github.com/xenking/fresh-pickup/internal/domain/order"
	"github.com/xenking/fresh-pickup/internal/domain/slot"
	"github.com/xenking/fresh-pickup/pkg/httpmiddleware"
)

// OrderService is the part of the reservation pipeline the API uses.
type OrderService interface {
	PlaceOrder(ctx context.Context, p order.Proposal) (*order.Order, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	Offers(ctx context.Context) ([]order.Offer, error)
}

// SlotService reports pickup slot occupancy.
type SlotService interface {
	Availability(ctx context.Context, date time.Time) ([]slot.Opening, error)
}

var (
	_ OrderService = (*order.Service)(nil)
	_ SlotService  = (*slot.Resolver)(nil)
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// Location is the store time zone. It decides "today" when the slots
	// endpoint is called without a date.
	Location *time.Location
	// MaxBodyBytes caps request bodies. Defaults to 64 KiB.
	MaxBodyBytes int64
}

// Handler serves the storefront API.
type Handler struct {
	orders  OrderService
	slots   SlotService
	coupons coupon.Validator
	keys    httpmiddleware.KeyAuthenticator
	loc     *time.Location
	maxBody int64
	now     func() time.Time
}

// New creates a Handler.
func New(cfg Config, orders OrderService, slots SlotService, coupons coupon.Validator, keys httpmiddleware.KeyAuthenticator) *Handler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	return &Handler{
		orders:  orders,
		slots:   slots,
		coupons: coupons,
		keys:    keys,
		loc:     cfg.Location,
		maxBody: cfg.MaxBodyBytes,
		now:     time.Now,
	}
}

// Register mounts the API routes on mux. Placing an order requires an API
// key; catalog reads are public.
func (h *Handler) Register(mux *http.ServeMux) {
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, httpmiddleware.Route(pattern, fn))
	}
	route("GET /api/goods", h.ListGoods)
	route("GET /api/slots", h.ListSlots)
	route("POST /api/coupons/validate", h.ValidateCoupon)
	route("GET /api/orders/{id}", h.GetOrder)
	mux.Handle("POST /api/orders", httpmiddleware.Route("POST /api/orders",
		httpmiddleware.RequireAPIKey(h.keys, http.HandlerFunc(h.PlaceOrder))))
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// apiError is the error body of every non-2xx response.
type apiError struct {
	Status  int
	Reason  string
	Message string
	// Line is the offending proposal line, or -1.
	Line int
}

func (a apiError) encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("code")
	e.Int(a.Status)
	if a.Reason != "" {
		e.FieldStart("reason")
		e.Str(a.Reason)
	}
	e.FieldStart("message")
	e.Str(a.Message)
	if a.Line >= 0 {
		e.FieldStart("line")
		e.Int(a.Line)
	}
	e.ObjEnd()
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Status: status, Message: message, Line: -1}.encode)
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	zctx.From(r.Context()).Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
