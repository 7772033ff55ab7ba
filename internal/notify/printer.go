package notify

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-resty/resty/v2"
)

// Printer posts a preparation ticket to a label print server so the
// counter can start cutting before the customer arrives.
type Printer struct {
	client *resty.Client
	path   string
}

var _ Channel = (*Printer)(nil)

// NewPrinter creates a Printer posting to url, e.g.
// "http://printer.local:9100/jobs".
func NewPrinter(url string, timeout time.Duration) *Printer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200*time.Millisecond).
		SetHeader("Content-Type", "application/json")
	return &Printer{client: client, path: strings.TrimSpace(url)}
}

func (p *Printer) Name() string { return "printer" }

// Send prints one ticket per order.
func (p *Printer) Send(ctx context.Context, j Job) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(ticket(j)).
		Post(p.path)
	if err != nil {
		return errors.Wrap(err, "post print job")
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return errors.Errorf("print server returned %s", resp.Status())
	}
	return nil
}

func ticket(j Job) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("title")
	e.Str("Order " + shortID(j.OrderID))
	e.FieldStart("pickup")
	e.Str(pickupLabel(j))
	e.FieldStart("customer")
	e.Str(j.CustomerName)
	e.FieldStart("text")
	e.Str(OperatorMessage(j))
	e.FieldStart("order")
	j.Encode(&e)
	e.ObjEnd()
	return e.Bytes()
}
