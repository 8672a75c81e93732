package notify

import (
	"context"
	"encoding/json"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
)

type publisher interface {
	TryPublish(topic string, key, value []byte, headers ...kafkago.Header) error
}

// KafkaNotifier queues messages on Topic through the async producer.
type KafkaNotifier struct {
	P publisher
}

func (n KafkaNotifier) SendOrderConfirmation(_ context.Context, email string, d OrderDetails) error {
	m, err := newMessage(TypeOrderConfirmation, email, fmt.Sprintf("Order %s confirmed", d.OrderID), d)
	if err != nil {
		return err
	}
	return n.publish(d.OrderID, m)
}

func (n KafkaNotifier) SendOrderStatusUpdate(_ context.Context, u StatusUpdate) error {
	m, err := newMessage(TypeOrderStatusUpdate, u.Email, fmt.Sprintf("Order %s is now %s", u.OrderID, u.To), u)
	if err != nil {
		return err
	}
	return n.publish(u.OrderID, m)
}

func (n KafkaNotifier) SendPaymentConfirmation(_ context.Context, p PaymentConfirmation) error {
	m, err := newMessage(TypePaymentConfirmation, p.Email, fmt.Sprintf("Payment received for order %s", p.OrderID), p)
	if err != nil {
		return err
	}
	return n.publish(p.OrderID, m)
}

func (n KafkaNotifier) publish(orderID string, m Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return n.P.TryPublish(Topic, []byte(orderID), b, kafkago.Header{Key: "x-notification-type", Value: []byte(m.Type)})
}
