// Package notify delivers post-commit notifications for pickup orders.
//
// Committed orders are snapshotted into a Job, pushed onto a Queue and
// delivered by background workers to every configured Channel.
package notify

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/fresh-pickup/internal/domain/order"
	"github.com/xenking/fresh-pickup/internal/domain/slot"
)

// JobLine is one line of the order as shown in messages.
type JobLine struct {
	GoodName  string
	CutName   string
	Quantity  string
	Size      string
	WeightKg  string
	LineTotal string
}

// Job is the queued snapshot of a committed order. Amounts are kept as
// decimal strings.
type Job struct {
	OrderID        string
	CustomerName   string
	CustomerPhone  string
	CustomerEmail  string
	Notes          string
	DeliveryDate   string
	DeliveryTime   string
	Lines          []JobLine
	Subtotal       string
	DiscountAmount string
	Total          string
	CouponCode     string
	StockShortfall bool
	CreatedAt      time.Time
}

// NewJob snapshots o.
func NewJob(o *order.Order) Job {
	j := Job{
		OrderID:        o.ID,
		CustomerName:   o.Customer.Name,
		CustomerPhone:  o.Customer.Phone,
		CustomerEmail:  o.Customer.Email,
		Notes:          o.Customer.Notes,
		DeliveryDate:   o.DeliveryDate.Format(slot.DateLayout),
		DeliveryTime:   o.DeliveryTime,
		Subtotal:       o.Subtotal.StringFixed(2),
		DiscountAmount: o.DiscountAmount.StringFixed(2),
		Total:          o.TotalPrice.StringFixed(2),
		CouponCode:     o.CouponCode,
		StockShortfall: o.StockShortfall,
		CreatedAt:      o.CreatedAt,
		Lines:          make([]JobLine, len(o.Lines)),
	}
	for i, l := range o.Lines {
		j.Lines[i] = JobLine{
			GoodName:  l.GoodName,
			CutName:   l.CutName,
			Quantity:  l.Quantity.String(),
			Size:      l.Size,
			WeightKg:  l.WeightKg.String(),
			LineTotal: l.LineTotal.StringFixed(2),
		}
	}
	return j
}

// Immediate reports whether the order is a walk-in pickup.
func (j Job) Immediate() bool {
	return j.DeliveryTime == slot.Immediate
}

// Encode writes the job as JSON.
func (j Job) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("order_id")
	e.Str(j.OrderID)
	e.FieldStart("customer_name")
	e.Str(j.CustomerName)
	e.FieldStart("customer_phone")
	e.Str(j.CustomerPhone)
	if j.CustomerEmail != "" {
		e.FieldStart("customer_email")
		e.Str(j.CustomerEmail)
	}
	if j.Notes != "" {
		e.FieldStart("notes")
		e.Str(j.Notes)
	}
	e.FieldStart("delivery_date")
	e.Str(j.DeliveryDate)
	e.FieldStart("delivery_time")
	e.Str(j.DeliveryTime)
	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range j.Lines {
		e.ObjStart()
		e.FieldStart("good_name")
		e.Str(l.GoodName)
		e.FieldStart("cut_name")
		e.Str(l.CutName)
		e.FieldStart("quantity")
		e.Str(l.Quantity)
		if l.Size != "" {
			e.FieldStart("size")
			e.Str(l.Size)
		}
		e.FieldStart("weight_kg")
		e.Str(l.WeightKg)
		e.FieldStart("line_total")
		e.Str(l.LineTotal)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("subtotal")
	e.Str(j.Subtotal)
	e.FieldStart("discount_amount")
	e.Str(j.DiscountAmount)
	e.FieldStart("total")
	e.Str(j.Total)
	if j.CouponCode != "" {
		e.FieldStart("coupon_code")
		e.Str(j.CouponCode)
	}
	e.FieldStart("stock_shortfall")
	e.Bool(j.StockShortfall)
	e.FieldStart("created_at")
	e.Str(j.CreatedAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}

// Decode reads a job written by Encode. Unknown fields are skipped.
func (j *Job) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "order_id":
			j.OrderID, err = d.Str()
		case "customer_name":
			j.CustomerName, err = d.Str()
		case "customer_phone":
			j.CustomerPhone, err = d.Str()
		case "customer_email":
			j.CustomerEmail, err = d.Str()
		case "notes":
			j.Notes, err = d.Str()
		case "delivery_date":
			j.DeliveryDate, err = d.Str()
		case "delivery_time":
			j.DeliveryTime, err = d.Str()
		case "lines":
			err = d.Arr(func(d *jx.Decoder) error {
				var l JobLine
				if err := l.decode(d); err != nil {
					return err
				}
				j.Lines = append(j.Lines, l)
				return nil
			})
		case "subtotal":
			j.Subtotal, err = d.Str()
		case "discount_amount":
			j.DiscountAmount, err = d.Str()
		case "total":
			j.Total, err = d.Str()
		case "coupon_code":
			j.CouponCode, err = d.Str()
		case "stock_shortfall":
			j.StockShortfall, err = d.Bool()
		case "created_at":
			var s string
			if s, err = d.Str(); err == nil {
				j.CreatedAt, err = time.Parse(time.RFC3339Nano, s)
			}
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
}

func (l *JobLine) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "good_name":
			l.GoodName, err = d.Str()
		case "cut_name":
			l.CutName, err = d.Str()
		case "quantity":
			l.Quantity, err = d.Str()
		case "size":
			l.Size, err = d.Str()
		case "weight_kg":
			l.WeightKg, err = d.Str()
		case "line_total":
			l.LineTotal, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
}

// Marshal encodes j into a fresh byte slice.
func (j Job) Marshal() []byte {
	var e jx.Encoder
	j.Encode(&e)
	return e.Bytes()
}

// UnmarshalJob decodes a queued payload.
func UnmarshalJob(data []byte) (Job, error) {
	var j Job
	if err := j.Decode(jx.DecodeBytes(data)); err != nil {
		return Job{}, errors.Wrap(err, "decode job")
	}
	return j, nil
}
