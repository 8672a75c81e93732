// Package notify dispatches transactional emails. The API side only queues a
// typed Message; cmd/notifier delivers it.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const Topic = "notifications.email"

const (
	TypeOrderConfirmation   = "order_confirmation"
	TypeOrderStatusUpdate   = "order_status_update"
	TypePaymentConfirmation = "payment_confirmation"
)

type Line struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
}

type OrderDetails struct {
	OrderID      string    `json:"order_id"`
	CustomerName string    `json:"customer_name"`
	Total        string    `json:"total"`
	Items        []Line    `json:"items"`
	CreatedAt    time.Time `json:"created_at"`
}

type StatusUpdate struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	OrderID string `json:"order_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}

type PaymentConfirmation struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	OrderID   string `json:"order_id"`
	Reference string `json:"reference"`
	Amount    string `json:"amount"`
}

// Notifier is fire-and-forget from the caller's view: errors are for logging only.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, email string, d OrderDetails) error
	SendOrderStatusUpdate(ctx context.Context, u StatusUpdate) error
	SendPaymentConfirmation(ctx context.Context, p PaymentConfirmation) error
}

// Message is what travels on Topic.
type Message struct {
	Type    string          `json:"type"`
	To      string          `json:"to"`
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

func newMessage(typ, to, subject string, data any) (Message, error) {
	if to == "" {
		return Message{}, fmt.Errorf("%s: empty recipient", typ)
	}
	if err := errors.Join(checkHeader("To", to), checkHeader("Subject", subject)); err != nil {
		return Message{}, err
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, To: to, Subject: subject, Data: b}, nil
}
