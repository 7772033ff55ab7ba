package notify

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/go-faster/errors"
)

// SMTPConfig holds mail relay credentials.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// Addr returns host:port.
func (c SMTPConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email sends the order confirmation to customers that left an address.
type Email struct {
	cfg  SMTPConfig
	send SendMailFunc
}

var _ Channel = (*Email)(nil)

// NewEmail creates an Email channel using smtp.SendMail.
func NewEmail(cfg SMTPConfig) *Email {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Email{cfg: cfg, send: smtp.SendMail}
}

func (m *Email) Name() string { return "email" }

// Send is a no-op for customers without an email address.
func (m *Email) Send(ctx context.Context, j Job) error {
	if j.CustomerEmail == "" {
		return nil
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	msg := m.compose(j)

	// smtp.SendMail has no context; run it aside and stop waiting on cancel.
	done := make(chan error, 1)
	go func() {
		done <- m.send(m.cfg.Addr(), auth, m.cfg.From, []string{j.CustomerEmail}, msg)
	}()
	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(err, "send mail")
		}
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "send mail")
	}
}

func (m *Email) compose(j Job) []byte {
	from := m.cfg.From
	if m.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", m.cfg.FromName), m.cfg.From)
	}
	subject := "Your order " + shortID(j.OrderID) + " is confirmed"

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", j.CustomerEmail)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(CustomerMessage(j))
	b.WriteString("\r\n")
	return b.Bytes()
}
