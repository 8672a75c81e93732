package orders

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
)

const (
	EventOrderCreated           = "order.created"
	EventOrderStatusChanged     = "order.status_changed"
	EventOrderProcessingStarted = "order.processing_started"
	EventLowStock               = "inventory.low_stock"
	EventPaymentUpdated         = "payment.updated"
	EventRefundRequired         = "payment.refund_required"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads ----

type ItemPrice struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
	Price     string `json:"price"`
}

type OrderCreatedPayload struct {
	OrderID string      `json:"order_id"`
	UserID  string      `json:"user_id"`
	Items   []ItemPrice `json:"items"`
	Total   string      `json:"total"`
}

type StatusChangedPayload struct {
	OrderID string `json:"order_id"`
	From    Status `json:"from"`
	To      Status `json:"to"`
	ActorID string `json:"actor_id"`
	Comment string `json:"comment"`
}

type ProcessingStartedPayload struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
}

type LowStockPayload struct {
	ProductID string `json:"product_id"`
	StoreID   string `json:"store_id"`
	Stock     int    `json:"stock"`
	Threshold int    `json:"threshold"`
}

type PaymentUpdatedPayload struct {
	OrderID       string        `json:"order_id"`
	Reference     string        `json:"reference"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	OrderStatus   Status        `json:"order_status"`
}

type RefundRequiredPayload struct {
	OrderID   string `json:"order_id"`
	Reference string `json:"reference"`
	Amount    string `json:"amount"`
}

// EventPublisher hands events to the stream. Implementations must not block
// the caller on broker I/O.
type EventPublisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// KafkaEvents publishes envelopes on TopicOrderEvents keyed by order id.
type KafkaEvents struct {
	Producer *kafkax.Producer
}

func (k KafkaEvents) Publish(_ context.Context, env Envelope) error {
	return k.Producer.TryPublish(TopicOrderEvents, PartitionKey(env.CorrelationID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(env.EventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	)
}
