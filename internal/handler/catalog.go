package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/fresh-pickup/internal/domain/coupon"
	"github.com/xenking/fresh-pickup/internal/domain/order"
	"github.com/xenking/fresh-pickup/internal/domain/slot"
)

// ListGoods handles GET /api/goods.
func (h *Handler) ListGoods(w http.ResponseWriter, r *http.Request) {
	offers, err := h.orders.Offers(r.Context())
	if err != nil {
		h.internalError(w, r, "List offers", err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, o := range offers {
			encodeOffer(e, o)
		}
		e.ArrEnd()
	})
}

// ListSlots handles GET /api/slots?date=YYYY-MM-DD. Without a date the
// current day in the store's time zone is used.
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	var date time.Time
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := slot.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = d
	} else {
		date = slot.Day(h.now().In(h.loc))
	}

	openings, err := h.slots.Availability(r.Context(), date)
	if err != nil {
		h.internalError(w, r, "Slot availability", err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("date")
		e.Str(date.Format(slot.DateLayout))
		e.FieldStart("slots")
		e.ArrStart()
		for _, o := range openings {
			encodeOpening(e, o)
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// couponRejection maps validator errors to reasons shared with the order
// endpoint.
func couponRejection(err error) (order.Reason, bool) {
	switch {
	case errors.Is(err, coupon.ErrInvalidCode):
		return order.ReasonCouponInvalidCode, true
	case errors.Is(err, coupon.ErrInactive):
		return order.ReasonCouponInactive, true
	case errors.Is(err, coupon.ErrExpired):
		return order.ReasonCouponExpired, true
	case errors.Is(err, coupon.ErrBelowMinimum):
		return order.ReasonCouponBelowMinimum, true
	case errors.Is(err, coupon.ErrUsesExhausted):
		return order.ReasonCouponUsesExhausted, true
	}
	return "", false
}

// ValidateCoupon handles POST /api/coupons/validate. It previews the
// discount without consuming a use.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := decodeCouponRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}

	d, err := h.coupons.Validate(r.Context(), req.Code, req.Subtotal)
	if err != nil {
		reason, ok := couponRejection(err)
		if !ok {
			h.internalError(w, r, "Validate coupon", err)
			return
		}
		writeJSON(w, http.StatusUnprocessableEntity, apiError{
			Status:  http.StatusUnprocessableEntity,
			Reason:  string(reason),
			Message: err.Error(),
			Line:    -1,
		}.encode)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeDiscount(e, d) })
}
