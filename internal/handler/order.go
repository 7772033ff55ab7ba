package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/fresh-pickup/internal/domain/order"
	"github.com/xenking/fresh-pickup/pkg/httpmiddleware"
)

// PlaceOrder handles POST /api/orders.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := decodeProposal(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed order: "+err.Error())
		return
	}

	ctx := r.Context()
	if info, ok := httpmiddleware.APIKeyFromContext(ctx); ok {
		ctx = zctx.With(ctx, zap.String("api_key", info.ID))
	}

	o, err := h.orders.PlaceOrder(ctx, p)
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/orders/"+o.ID)
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// GetOrder handles GET /api/orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "order id is required")
		return
	}
	o, err := h.orders.Get(r.Context(), id)
	switch {
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
		return
	case err != nil:
		h.internalError(w, r, "Get order", err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// statusOf maps a rejection reason to its HTTP status. Problems with the
// proposal itself are 422, contention on shared capacity is 409.
func statusOf(r order.Reason) int {
	switch {
	case r == order.ReasonInvalidRequest, r == order.ReasonInvalidLine, r.Coupon():
		return http.StatusUnprocessableEntity
	case r == order.ReasonSlotFull, r == order.ReasonSlotInactiveOrUnknown, r == order.ReasonInsufficientStock:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeOrderError(w http.ResponseWriter, r *http.Request, err error) {
	reason, ok := order.ReasonOf(err)
	if !ok {
		h.internalError(w, r, "Place order", err)
		return
	}

	status := statusOf(reason)
	body := apiError{Status: status, Reason: string(reason), Message: err.Error(), Line: -1}
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Order commit failed", zap.Error(err))
		body.Message = "order could not be saved, please retry"
	}
	var lineErr *order.LineError
	if errors.As(err, &lineErr) {
		body.Line = lineErr.Index
		body.Message = lineErr.Error()
	}
	writeJSON(w, status, body.encode)
}
