package main

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/fresh-pickup/internal/domain/catalog"
	"github.com/xenking/fresh-pickup/internal/domain/coupon"
	"github.com/xenking/fresh-pickup/internal/domain/slot"
)

// seedCut is a cut with the goods it is enabled for.
type seedCut struct {
	Cut   catalog.Cut
	Goods []string
}

// seedFile is the decoded content of db/seed/catalog.json.
type seedFile struct {
	Goods   []catalog.Good
	Sizes   []catalog.SizeVariant
	Cuts    []seedCut
	Slots   []slot.Slot
	Coupons []coupon.Coupon
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	s, err := d.Str()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(s)
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

func decodeGood(d *jx.Decoder) (catalog.Good, error) {
	g := catalog.Good{Active: true}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			g.ID, err = d.Str()
		case "name":
			g.Name, err = d.Str()
		case "pricing_mode":
			var mode string
			mode, err = d.Str()
			g.PricingMode = catalog.PricingMode(mode)
		case "price_per_kg":
			g.PricePerKg, err = decodeDecimal(d)
		case "available_kg":
			g.AvailableKg, err = decodeDecimal(d)
		case "average_weight_kg":
			g.AverageWeightKg, err = decodeDecimal(d)
		case "active":
			g.Active, err = d.Bool()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		return nil
	})
	if err != nil {
		return g, err
	}
	if !g.PricingMode.Valid() {
		return g, errors.Errorf("good %q: unknown pricing mode %q", g.ID, g.PricingMode)
	}
	return g, nil
}

func decodeSize(d *jx.Decoder) (catalog.SizeVariant, error) {
	var v catalog.SizeVariant
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "good_id":
			v.GoodID, err = d.Str()
		case "size":
			v.Size, err = d.Str()
		case "average_weight_kg":
			v.AverageWeightKg, err = decodeDecimal(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		return nil
	})
	return v, err
}

func decodeCut(d *jx.Decoder) (seedCut, error) {
	c := seedCut{Cut: catalog.Cut{Active: true}}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			c.Cut.ID, err = d.Str()
		case "name":
			c.Cut.Name, err = d.Str()
		case "price_addition":
			c.Cut.PriceAddition, err = decodeDecimal(d)
		case "goods":
			c.Goods, err = decodeStrings(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		return nil
	})
	return c, err
}

// decodeSlots expands one template entry into a slot per listed weekday.
func decodeSlots(d *jx.Decoder) ([]slot.Slot, error) {
	var (
		days []time.Weekday
		tmpl = slot.Slot{Active: true}
	)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "days":
			err = d.Arr(func(d *jx.Decoder) error {
				n, err := d.Int()
				if err != nil {
					return err
				}
				if n < 0 || n > 6 {
					return errors.Errorf("weekday %d out of range", n)
				}
				days = append(days, time.Weekday(n))
				return nil
			})
		case "start":
			tmpl.Start, err = d.Str()
		case "end":
			tmpl.End, err = d.Str()
		case "max_orders":
			tmpl.MaxOrders, err = d.Int()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]slot.Slot, 0, len(days))
	for _, day := range days {
		s := tmpl
		s.DayOfWeek = day
		out = append(out, s)
	}
	return out, nil
}

func decodeCoupon(d *jx.Decoder) (coupon.Coupon, error) {
	c := coupon.Coupon{Active: true}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			var code string
			code, err = d.Str()
			c.Code = coupon.NormalizeCode(code)
		case "discount_type":
			var t string
			t, err = d.Str()
			c.DiscountType = coupon.DiscountType(t)
		case "value":
			c.Value, err = decodeDecimal(d)
		case "min_order_amount":
			c.MinOrderAmount, err = decodeDecimal(d)
		case "max_uses":
			var n int
			n, err = d.Int()
			c.MaxUses = &n
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		return nil
	})
	if err != nil {
		return c, err
	}
	if !c.DiscountType.Valid() {
		return c, errors.Errorf("coupon %q: unknown discount type %q", c.Code, c.DiscountType)
	}
	return c, nil
}

func decodeSeed(data []byte) (*seedFile, error) {
	var f seedFile
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "goods":
			err = d.Arr(func(d *jx.Decoder) error {
				g, err := decodeGood(d)
				f.Goods = append(f.Goods, g)
				return err
			})
		case "sizes":
			err = d.Arr(func(d *jx.Decoder) error {
				v, err := decodeSize(d)
				f.Sizes = append(f.Sizes, v)
				return err
			})
		case "cuts":
			err = d.Arr(func(d *jx.Decoder) error {
				c, err := decodeCut(d)
				f.Cuts = append(f.Cuts, c)
				return err
			})
		case "slots":
			err = d.Arr(func(d *jx.Decoder) error {
				s, err := decodeSlots(d)
				f.Slots = append(f.Slots, s...)
				return err
			})
		case "coupons":
			err = d.Arr(func(d *jx.Decoder) error {
				c, err := decodeCoupon(d)
				f.Coupons = append(f.Coupons, c)
				return err
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode seed")
	}
	return &f, nil
}
