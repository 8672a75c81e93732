package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
)

// ErrUnsafeHeader rejects header values that would start a new header line.
var ErrUnsafeHeader = errors.New("notify: line break in mail header")

func checkHeader(name, v string) error {
	if strings.ContainsAny(v, "\r\n") {
		return fmt.Errorf("%w: %s", ErrUnsafeHeader, name)
	}
	return nil
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer delivers queued messages as plain-text mail.
type SMTPMailer struct {
	Addr     string
	From     string
	Username string
	Password string

	send sendFunc
}

func NewSMTPMailer(addr, from, username, password string) *SMTPMailer {
	return &SMTPMailer{Addr: addr, From: from, Username: username, Password: password, send: smtp.SendMail}
}

func (s *SMTPMailer) Deliver(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := errors.Join(checkHeader("From", s.From), checkHeader("To", m.To), checkHeader("Subject", m.Subject)); err != nil {
		return err
	}
	body, err := renderBody(m)
	if err != nil {
		return err
	}
	var auth smtp.Auth
	if s.Username != "" {
		host := s.Addr
		if i := strings.LastIndex(host, ":"); i > 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.From)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body)
	return s.send(s.Addr, auth, s.From, []string{m.To}, []byte(b.String()))
}

func renderBody(m Message) (string, error) {
	var b strings.Builder
	switch m.Type {
	case TypeOrderConfirmation:
		var d OrderDetails
		if err := json.Unmarshal(m.Data, &d); err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "Hi %s,\r\n\r\nThanks for your order %s.\r\n\r\n", d.CustomerName, d.OrderID)
		for _, l := range d.Items {
			fmt.Fprintf(&b, "  %d x %s @ %s\r\n", l.Quantity, l.Name, l.Price)
		}
		fmt.Fprintf(&b, "\r\nTotal: %s\r\n", d.Total)
	case TypeOrderStatusUpdate:
		var u StatusUpdate
		if err := json.Unmarshal(m.Data, &u); err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "Hi %s,\r\n\r\nYour order %s moved from %s to %s.\r\n", u.Name, u.OrderID, u.From, u.To)
	case TypePaymentConfirmation:
		var p PaymentConfirmation
		if err := json.Unmarshal(m.Data, &p); err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "Hi %s,\r\n\r\nWe received %s for order %s (reference %s).\r\n", p.Name, p.Amount, p.OrderID, p.Reference)
	default:
		return "", fmt.Errorf("unknown notification type %q", m.Type)
	}
	return b.String(), nil
}

// KafkaHandler adapts the mailer to the notifications consumer. Undecodable
// messages and unsafe headers are dropped so they do not block the partition.
func KafkaHandler(s *SMTPMailer) kafkax.Handler {
	return func(ctx context.Context, km kafkago.Message) error {
		var m Message
		if err := json.Unmarshal(km.Value, &m); err != nil {
			logging.Warn(logging.Fields{Step: "notify.decode", Message: string(km.Key)}, err)
			return nil
		}
		err := s.Deliver(ctx, m)
		if errors.Is(err, ErrUnsafeHeader) {
			logging.Warn(logging.Fields{Step: "notify.header", Message: string(km.Key)}, err)
			return nil
		}
		return err
	}
}
