package handler

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/fresh-pickup/internal/domain/coupon"
	"github.com/xenking/fresh-pickup/internal/domain/order"
	"github.com/xenking/fresh-pickup/internal/domain/slot"
)

// Amounts are written as strings to keep decimal precision on the wire.
func decimalField(e *jx.Encoder, name string, d decimal.Decimal) {
	e.FieldStart(name)
	e.Str(d.String())
}

func moneyField(e *jx.Encoder, name string, d decimal.Decimal) {
	e.FieldStart(name)
	e.Str(d.StringFixed(2))
}

func encodeOffer(e *jx.Encoder, o order.Offer) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.Good.ID)
	e.FieldStart("name")
	e.Str(o.Good.Name)
	e.FieldStart("pricing_mode")
	e.Str(string(o.Good.PricingMode))
	moneyField(e, "price_per_kg", o.Good.PricePerKg)
	decimalField(e, "available_kg", o.Good.AvailableKg)
	decimalField(e, "max_orderable", o.MaxOrderable)
	decimalField(e, "min_weight_kg", o.MinWeightKg)
	if !o.Good.AverageWeightKg.IsZero() {
		decimalField(e, "average_weight_kg", o.Good.AverageWeightKg)
	}

	e.FieldStart("cuts")
	e.ArrStart()
	for _, c := range o.Cuts {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(c.ID)
		e.FieldStart("name")
		e.Str(c.Name)
		moneyField(e, "price_addition", c.PriceAddition)
		e.ObjEnd()
	}
	e.ArrEnd()

	if len(o.Sizes) > 0 {
		e.FieldStart("sizes")
		e.ArrStart()
		for _, s := range o.Sizes {
			e.ObjStart()
			e.FieldStart("size")
			e.Str(s.Size)
			decimalField(e, "average_weight_kg", s.AverageWeightKg)
			decimalField(e, "max_orderable", s.MaxOrderable)
			e.ObjEnd()
		}
		e.ArrEnd()
	}
	e.ObjEnd()
}

func encodeOpening(e *jx.Encoder, o slot.Opening) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(o.Slot.ID)
	e.FieldStart("start")
	e.Str(o.Slot.Start)
	e.FieldStart("end")
	e.Str(o.Slot.End)
	e.FieldStart("range")
	e.Str(o.Slot.Range())
	e.FieldStart("max_orders")
	e.Int(o.Slot.MaxOrders)
	e.FieldStart("booked")
	e.Int(o.Booked)
	e.FieldStart("remaining")
	e.Int(o.Remaining)
	e.ObjEnd()
}

func encodeDiscount(e *jx.Encoder, d *coupon.Discount) {
	e.ObjStart()
	e.FieldStart("valid")
	e.Bool(true)
	e.FieldStart("code")
	e.Str(d.Code)
	moneyField(e, "discount", d.Amount)
	moneyField(e, "total", d.Total)
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("status")
	e.Str(string(o.Status))

	e.FieldStart("customer")
	e.ObjStart()
	e.FieldStart("name")
	e.Str(o.Customer.Name)
	e.FieldStart("phone")
	e.Str(o.Customer.Phone)
	if o.Customer.Email != "" {
		e.FieldStart("email")
		e.Str(o.Customer.Email)
	}
	if o.Customer.Notes != "" {
		e.FieldStart("notes")
		e.Str(o.Customer.Notes)
	}
	e.ObjEnd()

	e.FieldStart("delivery_date")
	e.Str(o.DeliveryDate.Format(slot.DateLayout))
	e.FieldStart("delivery_time")
	e.Str(o.DeliveryTime)

	e.FieldStart("items")
	e.ArrStart()
	for _, l := range o.Lines {
		e.ObjStart()
		e.FieldStart("good_id")
		e.Str(l.GoodID)
		e.FieldStart("good_name")
		e.Str(l.GoodName)
		e.FieldStart("cut_id")
		e.Str(l.CutID)
		e.FieldStart("cut_name")
		e.Str(l.CutName)
		decimalField(e, "quantity", l.Quantity)
		if l.Size != "" {
			e.FieldStart("size")
			e.Str(l.Size)
		}
		decimalField(e, "weight_kg", l.WeightKg)
		moneyField(e, "unit_price", l.UnitPrice)
		moneyField(e, "line_total", l.LineTotal)
		if l.ActualWeightKg != nil {
			decimalField(e, "actual_weight_kg", *l.ActualWeightKg)
		}
		e.ObjEnd()
	}
	e.ArrEnd()

	moneyField(e, "subtotal", o.Subtotal)
	moneyField(e, "discount", o.DiscountAmount)
	moneyField(e, "total", o.TotalPrice)
	if o.CouponCode != "" {
		e.FieldStart("coupon_code")
		e.Str(o.CouponCode)
	}
	e.FieldStart("stock_shortfall")
	e.Bool(o.StockShortfall)
	e.FieldStart("created_at")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
}
