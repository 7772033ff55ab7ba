package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/fresh-pickup/internal/domain/order"
	"github.com/xenking/fresh-pickup/internal/domain/slot"
)

var errBodyTooLarge = errors.New("request body too large")

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errBodyTooLarge
		}
		return nil, errors.Wrap(err, "read body")
	}
	return body, nil
}

// decodeDecimal accepts both JSON numbers and numeric strings, so clients
// that keep quantities as strings to avoid float rounding are served too.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(strings.TrimSpace(s))
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Decimal{}, errors.New("expected number")
	}
}

func decodeCustomer(d *jx.Decoder, c *order.Customer) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "name":
			c.Name, err = d.Str()
		case "phone":
			c.Phone, err = d.Str()
		case "email":
			c.Email, err = d.Str()
		case "notes":
			c.Notes, err = d.Str()
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, string(key))
	})
}

func decodeLine(d *jx.Decoder, l *order.ProposedLine) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "good_id":
			l.GoodID, err = d.Str()
		case "cut_id":
			l.CutID, err = d.Str()
		case "quantity":
			l.Quantity, err = decodeDecimal(d)
		case "size":
			if d.Next() == jx.Null {
				err = d.Null()
			} else {
				l.Size, err = d.Str()
			}
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		return nil
	})
}

// decodeProposal parses a POST /api/orders body.
func decodeProposal(data []byte) (order.Proposal, error) {
	var (
		p    order.Proposal
		date string
	)
	d := jx.DecodeBytes(data)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "customer":
			err = decodeCustomer(d, &p.Customer)
		case "delivery_date":
			date, err = d.Str()
		case "delivery_time":
			p.DeliveryTime, err = d.Str()
		case "coupon_code":
			if d.Next() == jx.Null {
				err = d.Null()
			} else {
				p.CouponCode, err = d.Str()
			}
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				var l order.ProposedLine
				if err := decodeLine(d, &l); err != nil {
					return errors.Wrapf(err, "items[%d]", len(p.Lines))
				}
				p.Lines = append(p.Lines, l)
				return nil
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
		return order.Proposal{}, err
	}

	if date == "" {
		return order.Proposal{}, errors.New("delivery_date is required")
	}
	if p.DeliveryDate, err = slot.ParseDate(date); err != nil {
		return order.Proposal{}, errors.Wrap(err, "delivery_date")
	}
	return p, nil
}

type couponRequest struct {
	Code     string
	Subtotal decimal.Decimal
}

func decodeCouponRequest(data []byte) (couponRequest, error) {
	var (
		req         couponRequest
		hasSubtotal bool
	)
	d := jx.DecodeBytes(data)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			req.Code, err = d.Str()
		case "subtotal":
			req.Subtotal, err = decodeDecimal(d)
			hasSubtotal = true
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		return nil
	})
	if err != nil {
		return couponRequest{}, err
	}
	if strings.TrimSpace(req.Code) == "" {
		return couponRequest{}, errors.New("code is required")
	}
	if !hasSubtotal || req.Subtotal.IsNegative() {
		return couponRequest{}, errors.New("subtotal must be a non-negative number")
	}
	return req, nil
}
