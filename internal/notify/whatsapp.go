package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"
)

// WhatsAppConfig holds WhatsApp Cloud API credentials.
type WhatsAppConfig struct {
	BaseURL       string
	APIVersion    string
	AccessToken   string
	PhoneNumberID string
	// Operators receive an alert for every new order.
	Operators []string
	Timeout   time.Duration
}

// WhatsApp sends text messages through the WhatsApp Cloud API.
type WhatsApp struct {
	client        *resty.Client
	phoneNumberID string
	operators     []string
}

var _ Channel = (*WhatsApp)(nil)

// NewWhatsApp builds a WhatsApp client from cfg.
func NewWhatsApp(cfg WhatsAppConfig) *WhatsApp {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.APIVersion != "" {
		base += "/" + cfg.APIVersion
	}

	client := resty.New().
		SetBaseURL(base).
		SetAuthToken(cfg.AccessToken).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)

	return &WhatsApp{
		client:        client,
		phoneNumberID: cfg.PhoneNumberID,
		operators:     cfg.Operators,
	}
}

func (w *WhatsApp) Name() string { return "whatsapp" }

// Send confirms the order to the customer and alerts every operator.
func (w *WhatsApp) Send(ctx context.Context, j Job) error {
	var g errgroup.Group
	g.Go(func() error {
		return w.SendText(ctx, j.CustomerPhone, CustomerMessage(j))
	})
	g.Go(func() error {
		return w.Broadcast(ctx, OperatorMessage(j))
	})
	return g.Wait()
}

// Broadcast sends body to every operator.
func (w *WhatsApp) Broadcast(ctx context.Context, body string) error {
	var (
		failed int
		first  error
	)
	for _, to := range w.operators {
		if err := w.SendText(ctx, to, body); err != nil {
			failed++
			if first == nil {
				first = err
			}
		}
	}
	if first != nil {
		return errors.Wrapf(first, "%d of %d operators not reached", failed, len(w.operators))
	}
	return nil
}

type whatsappError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendText sends a plain text message to one phone number.
func (w *WhatsApp) SendText(ctx context.Context, to, body string) error {
	to = strings.TrimPrefix(strings.TrimSpace(to), "+")
	if to == "" {
		return errors.New("whatsapp: empty recipient")
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text": map[string]any{
			"body":        body,
			"preview_url": false,
		},
	}

	apiErr := new(whatsappError)
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetError(apiErr).
		Post(w.phoneNumberID + "/messages")
	if err != nil {
		return errors.Wrap(err, "send whatsapp message")
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		code := resp.StatusCode()
		if apiErr.Error.Code != 0 {
			code = apiErr.Error.Code
		}
		return fmt.Errorf("whatsapp api error: code=%d, message=%s", code, apiErr.Error.Message)
	}
	return nil
}
